// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ipcscope/cmd/ipcscope/config"
	"github.com/AleutianAI/ipcscope/services/debugger/deadlock"
	"github.com/AleutianAI/ipcscope/services/debugger/server"
	"github.com/AleutianAI/ipcscope/services/debugger/telemetry"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	serveListen      string // listen address override
	serveScenarioDir string // scenario directory override
	serveDebug       bool   // gin debug mode
	serveNoMonitor   bool   // leave the background scan stopped
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// serveCmd hosts the debugger API.
//
// # Description
//
// Builds the allocation tracker, starts the background deadlock
// monitor, and serves the HTTP and WebSocket API until interrupted.
// When a scenario directory is configured its files are applied at
// startup and re-applied on edit.
//
// # Examples
//
//	ipcscope serve                                  # config-file settings
//	ipcscope serve --listen 0.0.0.0:8099            # listen on all interfaces
//	ipcscope serve --scenario-dir ./scenarios       # preload and watch scenarios
//	ipcscope serve --no-monitor                     # detection on demand only
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the contention debugger API",
	Long: `Starts the debugger API server.

The server tracks resource ownership and waits, detects circular waits
in the background, and exposes:
  - REST endpoints under /api/v1 for state changes and queries
  - a WebSocket event stream at /api/v1/ws
  - Prometheus metrics at /metrics

Examples:
  ipcscope serve
  ipcscope serve --listen 0.0.0.0:8099 --debug
  ipcscope serve --scenario-dir ./scenarios`,
	RunE: runServeCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "",
		"Listen address (overrides the config file)")
	serveCmd.Flags().StringVar(&serveScenarioDir, "scenario-dir", "",
		"Directory of scenario files to apply and watch (overrides the config file)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false,
		"Enable gin debug mode with request logging")
	serveCmd.Flags().BoolVar(&serveNoMonitor, "no-monitor", false,
		"Do not start the background deadlock scan")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runServeCommand builds the service stack and runs it until SIGINT or
// SIGTERM.
func runServeCommand(cmd *cobra.Command, args []string) error {
	logger := appLogger.Slog()

	trackerCfg, err := trackerConfigFromFile(config.Global.Tracker)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetryConfigFromFile(config.Global.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown incomplete", "error", err)
		}
	}()

	tracker, err := deadlock.NewTracker(trackerCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build the tracker: %w", err)
	}
	monitor, err := deadlock.NewMonitor(trackerCfg, tracker, logger)
	if err != nil {
		return fmt.Errorf("failed to build the monitor: %w", err)
	}
	if !serveNoMonitor {
		monitor.Start()
	}
	defer monitor.Stop()

	srvCfg := serverConfigFromFile(config.Global.Server)
	srv, err := server.NewServer(srvCfg, tracker, monitor, logger)
	if err != nil {
		return fmt.Errorf("failed to build the server: %w", err)
	}

	return srv.Run(ctx)
}

// trackerConfigFromFile converts the YAML tracker section, parsing the
// duration strings.
func trackerConfigFromFile(tc config.TrackerConfig) (*deadlock.Config, error) {
	cfg := &deadlock.Config{
		LogCapacity:     tc.LogCapacity,
		DetectNodeLimit: tc.DetectNodeLimit,
		MaxCycles:       tc.MaxCycles,
		EnableMetrics:   tc.EnableMetrics,
	}
	var err error
	if tc.MonitorInterval != "" {
		if cfg.MonitorInterval, err = time.ParseDuration(tc.MonitorInterval); err != nil {
			return nil, fmt.Errorf("invalid tracker.monitor_interval %q: %w", tc.MonitorInterval, err)
		}
	}
	if tc.DetectTimeout != "" {
		if cfg.DetectTimeout, err = time.ParseDuration(tc.DetectTimeout); err != nil {
			return nil, fmt.Errorf("invalid tracker.detect_timeout %q: %w", tc.DetectTimeout, err)
		}
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// telemetryConfigFromFile layers the YAML telemetry section over the
// package defaults. Values set in the file win over the OTEL_*
// environment variables the defaults read.
func telemetryConfigFromFile(tc config.TelemetryConfig) telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = server.Version
	if tc.TraceExporter != "" {
		cfg.TraceExporter = tc.TraceExporter
	}
	if tc.MetricExporter != "" {
		cfg.MetricExporter = tc.MetricExporter
	}
	if tc.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = tc.OTLPEndpoint
	}
	return cfg
}

// serverConfigFromFile converts the YAML server section with the serve
// flags applied on top.
func serverConfigFromFile(sc config.ServerConfig) *server.Config {
	cfg := &server.Config{
		ListenAddr:     sc.ListenAddr,
		ScenarioDir:    sc.ScenarioDir,
		AllowedOrigins: sc.AllowedOrigins,
		Debug:          sc.Debug,
	}
	if serveListen != "" {
		cfg.ListenAddr = serveListen
	}
	if serveScenarioDir != "" {
		cfg.ScenarioDir = serveScenarioDir
	}
	if serveDebug {
		cfg.Debug = true
	}
	return cfg
}
