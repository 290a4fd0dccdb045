// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server hosts the debugger HTTP and WebSocket API.
//
// The package is presentation only. State changes and queries all go
// through the deadlock tracker and the scenario runner; the server adds
// JSON binding, route wiring, Prometheus metrics exposure, OTel request
// tracing, and a live event stream on top.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/ipcscope/services/debugger/deadlock"
	"github.com/AleutianAI/ipcscope/services/debugger/scenario"
	"github.com/AleutianAI/ipcscope/services/debugger/telemetry"
)

// ErrNilTracker reports a Server constructed without a tracker.
var ErrNilTracker = errors.New("tracker must not be nil")

// Server hosts the debugger API over HTTP.
//
// Build one with NewServer and drive it with Run. The server owns the
// HTTP listener and the optional scenario directory watcher; the
// tracker and monitor lifecycles belong to the caller.
type Server struct {
	cfg     *Config
	tracker *deadlock.Tracker
	monitor *deadlock.Monitor
	runner  *scenario.Runner
	engine  *gin.Engine
	logger  *slog.Logger

	mu   sync.Mutex
	addr string
}

// NewServer assembles the API host.
//
// Description:
//
//	Validates the configuration, builds the gin engine with recovery
//	and OTel middleware, and wires the route table. A nil cfg uses
//	DefaultConfig; a nil monitor gets one built over the tracker so
//	the monitor routes always have a target.
//
// Inputs:
//
//	cfg - Server configuration, nil for defaults
//	tracker - The allocation tracker, required
//	monitor - The background monitor, nil to construct one
//	logger - Parent logger, nil for slog.Default()
//
// Outputs:
//
//	*Server - The assembled server
//	error - Non-nil for a nil tracker or invalid configuration
func NewServer(cfg *Config, tracker *deadlock.Tracker,
	monitor *deadlock.Monitor, logger *slog.Logger) (*Server, error) {
	if tracker == nil {
		return nil, ErrNilTracker
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	if monitor == nil {
		var err error
		monitor, err = deadlock.NewMonitor(tracker.Config(), tracker, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build the monitor: %w", err)
		}
	}

	runner, err := scenario.NewRunner(tracker, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build the scenario runner: %w", err)
	}

	// Request instruments ride the global meter provider. Without
	// telemetry.Init that provider is a noop, so test servers record
	// nothing and register nothing.
	meter := otel.Meter("ipcscope.server")
	httpMetrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to build the request metrics: %w", err)
	}
	if _, err := httpMetrics.RegisterMonitorGauge(meter, func() int64 {
		if monitor.Running() {
			return 1
		}
		return 0
	}); err != nil {
		return nil, fmt.Errorf("failed to register the monitor gauge: %w", err)
	}

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.Debug {
		engine.Use(gin.Logger())
	}
	engine.Use(otelgin.Middleware("ipcscope"))
	engine.Use(telemetry.MetricsMiddleware(httpMetrics))

	handlers := NewHandlers(tracker, runner, monitor, logger).
		WithAllowedOrigins(cfg.AllowedOrigins)

	engine.GET("/health", handlers.HandleHealth)

	// The telemetry handler exists when the Prometheus exporter is
	// active. The default registry still carries the tracker metrics
	// without it, so fall back to serving that directly.
	metricsHandler := telemetry.MetricsHandler()
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	engine.GET("/metrics", gin.WrapH(metricsHandler))

	api := engine.Group("/api/v1")
	RegisterRoutes(api, handlers)

	return &Server{
		cfg:     cfg,
		tracker: tracker,
		monitor: monitor,
		runner:  runner,
		engine:  engine,
		logger:  logger.With(slog.String("component", "debugger_server")),
	}, nil
}

// Addr returns the bound listen address, or "" before Run binds it.
//
// Useful with a ":0" ListenAddr where the port is chosen at bind time.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run serves the API until the context is cancelled.
//
// Description:
//
//	Binds the listener, applies and then watches the scenario
//	directory when one is configured, and serves HTTP until ctx is
//	done. Shutdown drains in-flight requests within the configured
//	timeout.
//
// Inputs:
//
//	ctx - Cancelling it triggers the graceful shutdown
//
// Outputs:
//
//	error - Bind failures, serve failures, or a shutdown overrun
//
// Thread Safety: Run must be called at most once per Server.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.cfg.ListenAddr, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	httpSrv := &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	watcher := s.startScenarioDir(ctx)
	if watcher != nil {
		defer watcher.Stop()
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("debugger API listening", slog.String("addr", s.Addr()))
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down the debugger API")
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// startScenarioDir applies the configured scenario directory and starts
// watching it. Returns nil when no directory is configured or watching
// could not start; a broken scenario setup degrades the server to
// API-only instead of failing it.
func (s *Server) startScenarioDir(ctx context.Context) *scenario.Watcher {
	dir := s.cfg.ScenarioDir
	if dir == "" {
		return nil
	}

	scenarios, err := scenario.LoadDir(dir)
	if err != nil {
		s.logger.Error("failed to load the scenario directory",
			slog.String("dir", dir),
			slog.Any("error", err))
	}
	for _, sc := range scenarios {
		report := s.runner.Apply(sc)
		s.logger.Info("startup scenario applied",
			slog.String("scenario", sc.Name),
			slog.Int("succeeded", report.Succeeded),
			slog.Int("failed", report.Failed),
			slog.Int("cycles", len(report.Cycles)))
	}

	watcher, err := scenario.NewWatcher(dir, s.applyScenarioPaths, s.logger, nil)
	if err != nil {
		s.logger.Warn("scenario watching disabled",
			slog.String("dir", dir),
			slog.Any("error", err))
		return nil
	}
	if err := watcher.Start(ctx); err != nil {
		s.logger.Warn("scenario watching disabled",
			slog.String("dir", dir),
			slog.Any("error", err))
		return nil
	}
	return watcher
}

// applyScenarioPaths re-applies edited scenario files. Invalid files
// are reported and skipped so one bad edit cannot block the rest.
func (s *Server) applyScenarioPaths(paths []string) {
	for _, path := range paths {
		sc, err := scenario.Load(path)
		if err != nil {
			s.logger.Warn("changed scenario rejected",
				slog.String("path", path),
				slog.Any("error", err))
			continue
		}
		report := s.runner.Apply(sc)
		s.logger.Info("changed scenario applied",
			slog.String("scenario", sc.Name),
			slog.Int("succeeded", report.Succeeded),
			slog.Int("failed", report.Failed),
			slog.Int("cycles", len(report.Cycles)))
	}
}
