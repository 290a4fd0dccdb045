// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deadlock

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the deadlock tracker.
//
// Thread Safety: Safe for concurrent use (Prometheus metrics are thread-safe).
type Metrics struct {
	// RequestsTotal counts resource requests by outcome (granted, queued, rejected).
	RequestsTotal *prometheus.CounterVec

	// ReleasesTotal counts successful release operations.
	ReleasesTotal prometheus.Counter

	// PromotionsTotal counts waiters granted capacity after queueing.
	PromotionsTotal prometheus.Counter

	// ForceReleasesTotal counts allocations reclaimed by unregistration.
	ForceReleasesTotal prometheus.Counter

	// DeadlocksDetectedTotal counts deadlock cycles reported by the monitor.
	DeadlocksDetectedTotal prometheus.Counter

	// ScansTotal counts detection passes by strategy (johnson, dfs, timeout).
	ScansTotal *prometheus.CounterVec

	// EventsDroppedTotal counts log entries evicted by the drop-oldest policy.
	EventsDroppedTotal prometheus.Counter

	// ActiveResources is a gauge of currently registered resources.
	ActiveResources prometheus.Gauge

	// ActiveProcesses is a gauge of currently registered processes.
	ActiveProcesses prometheus.Gauge

	// WaitingProcesses is a gauge of processes with a pending wait.
	WaitingProcesses prometheus.Gauge
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics returns the process-wide metrics instance, creating and
// registering it on first use.
//
// Description:
//
//	promauto registers with the default Prometheus registerer, which
//	rejects duplicate registration. Constructing trackers repeatedly
//	(servers, tests) must therefore share one instance.
//
// Outputs:
//   - *Metrics: The shared metrics. Never nil.
//
// Thread Safety: Safe for concurrent use.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "ipcscope",
					Subsystem: "deadlock",
					Name:      "requests_total",
					Help:      "Total resource requests by outcome",
				},
				[]string{"outcome"},
			),

			ReleasesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "ipcscope",
					Subsystem: "deadlock",
					Name:      "releases_total",
					Help:      "Total successful release operations",
				},
			),

			PromotionsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "ipcscope",
					Subsystem: "deadlock",
					Name:      "promotions_total",
					Help:      "Total waiters granted capacity after queueing",
				},
			),

			ForceReleasesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "ipcscope",
					Subsystem: "deadlock",
					Name:      "force_releases_total",
					Help:      "Total allocations reclaimed by unregistration",
				},
			),

			DeadlocksDetectedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "ipcscope",
					Subsystem: "deadlock",
					Name:      "deadlocks_detected_total",
					Help:      "Total deadlock cycles reported",
				},
			),

			ScansTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "ipcscope",
					Subsystem: "deadlock",
					Name:      "scans_total",
					Help:      "Total detection passes by strategy",
				},
				[]string{"strategy"},
			),

			EventsDroppedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "ipcscope",
					Subsystem: "deadlock",
					Name:      "events_dropped_total",
					Help:      "Total event log entries evicted when the ring was full",
				},
			),

			ActiveResources: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "ipcscope",
					Subsystem: "deadlock",
					Name:      "active_resources",
					Help:      "Currently registered resources",
				},
			),

			ActiveProcesses: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "ipcscope",
					Subsystem: "deadlock",
					Name:      "active_processes",
					Help:      "Currently registered processes",
				},
			),

			WaitingProcesses: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "ipcscope",
					Subsystem: "deadlock",
					Name:      "waiting_processes",
					Help:      "Processes currently blocked on a pending request",
				},
			),
		}
	})
	return sharedMetrics
}
