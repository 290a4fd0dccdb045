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
	"log/slog"
	"sync"
	"time"
)

// Monitor periodically scans the tracker for wait-for cycles.
//
// Description:
//
//	Each tick takes a snapshot, runs detection, and records every cycle
//	found as a deadlock event. A deadlock that persists is reported again
//	on the next tick; consumers that need edge triggering can deduplicate
//	on the cycle value. Start and Stop are idempotent and report whether
//	they changed anything, and a stopped monitor can be started again.
//
// Thread Safety: Safe for concurrent use.
type Monitor struct {
	cfg     *Config
	tracker *Tracker
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a background monitor over a tracker.
//
// Inputs:
//   - cfg: Configuration. Nil uses the tracker's own configuration.
//   - tracker: The tracker to scan. Must not be nil.
//   - logger: Logger for lifecycle messages. If nil, uses slog.Default().
//
// Outputs:
//   - *Monitor: The created monitor, not yet running.
//   - error: ErrNilTracker if tracker is nil, or ErrInvalidConfig.
func NewMonitor(cfg *Config, tracker *Tracker, logger *slog.Logger) (*Monitor, error) {
	if tracker == nil {
		return nil, ErrNilTracker
	}
	if cfg == nil {
		cfg = tracker.Config()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger.With(slog.String("component", "deadlock_monitor")),
	}, nil
}

// Start launches the scan loop.
//
// Outputs:
//   - bool: True if the monitor was started; false if it was already
//     running.
func (m *Monitor) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return false
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.running = true

	go m.run(m.stopCh, m.doneCh)
	m.logger.Info("deadlock monitor started",
		slog.Duration("interval", m.cfg.MonitorInterval),
	)
	return true
}

// Stop signals the scan loop and waits for it to exit, up to StopTimeout.
// If the loop does not confirm in time a warning is logged and the
// monitor is considered stopped anyway.
//
// Outputs:
//   - bool: True if the monitor was stopped; false if it was not running.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return false
	}
	stopCh, doneCh := m.stopCh, m.doneCh
	m.running = false
	m.stopCh = nil
	m.doneCh = nil
	close(stopCh)
	m.mu.Unlock()

	select {
	case <-doneCh:
		m.logger.Info("deadlock monitor stopped")
	case <-time.After(m.cfg.StopTimeout):
		m.logger.Warn("monitor did not stop within the grace period",
			slog.Duration("timeout", m.cfg.StopTimeout),
		)
	}
	return true
}

// Running reports whether the scan loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Interval returns the configured scan period.
func (m *Monitor) Interval() time.Duration {
	return m.cfg.MonitorInterval
}

func (m *Monitor) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.scan()
		}
	}
}

func (m *Monitor) scan() {
	for _, cycle := range m.tracker.DetectDeadlocks() {
		m.tracker.recordDeadlock(cycle)
	}
}
