// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the OTel instruments for the debugger's HTTP surface.
//
// Description:
//
//	Provides request counters, a duration histogram, and an active
//	request gauge, all with the "ipcscope_" prefix. The tracker's own
//	allocation metrics live on the Prometheus default registry; these
//	instruments flow through whichever meter provider Init configured,
//	so with the Prometheus exporter both end up on the same endpoint.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks currently in-flight HTTP requests.
	HTTPActiveRequests metric.Int64UpDownCounter

	// MonitorRunning reports the background monitor state
	// (0=stopped, 1=running). Registered via RegisterMonitorGauge.
	MonitorRunning metric.Int64ObservableGauge
}

// NewMetrics creates a Metrics instance with all instruments registered.
//
// Description:
//
//	Registers the HTTP instruments with the provided meter. Returns an
//	error if any registration fails. A noop meter yields noop
//	instruments, so callers can wire the middleware unconditionally.
//
// Inputs:
//
//	meter - The OTel meter to register instruments on.
//
// Outputs:
//
//	*Metrics - The instance with all instruments initialized.
//	error - Non-nil if instrument registration fails.
//
// Example:
//
//	meter := otel.Meter("ipcscope.server")
//	metrics, err := telemetry.NewMetrics(meter)
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
//	engine.Use(telemetry.MetricsMiddleware(metrics))
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"ipcscope_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"ipcscope_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"ipcscope_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	return m, nil
}

// RegisterMonitorGauge registers a callback for the monitor state gauge.
//
// Description:
//
//	Sets up an observable gauge that reports whether the background
//	monitor is running. The callback is invoked on every metric
//	collection, so the gauge tracks Start/Stop calls without any
//	recording on the hot path.
//
// Inputs:
//
//	meter - The OTel meter to use for registration.
//	stateFunc - Returns the current state (0=stopped, 1=running).
//
// Outputs:
//
//	metric.Registration - Registration handle for cleanup.
//	error - Non-nil if registration fails.
func (m *Metrics) RegisterMonitorGauge(meter metric.Meter, stateFunc func() int64) (metric.Registration, error) {
	var err error
	m.MonitorRunning, err = meter.Int64ObservableGauge(
		"ipcscope_monitor_running",
		metric.WithDescription("Background deadlock monitor state (0=stopped, 1=running)"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create monitor_running: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.MonitorRunning, stateFunc())
		return nil
	}, m.MonitorRunning)
}
