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
	"errors"
	"log/slog"
	"time"
)

// Detector finds wait-for cycles in allocation snapshots.
//
// Description:
//
//	Small graphs get Johnson's algorithm, which enumerates every
//	elementary cycle. Above DetectNodeLimit waiting processes the
//	detector switches to a bounded depth-first search that stays cheap
//	on dense graphs at the cost of possibly missing some cycles. Either
//	way the result is canonical: rotated, deduplicated, ordered, and
//	capped at MaxCycles.
//
// Thread Safety: Safe for concurrent use; detection only reads the
// snapshot it is given.
type Detector struct {
	cfg     *Config
	logger  *slog.Logger
	metrics *Metrics

	preferred cycleEnumerator
	fallback  cycleEnumerator
}

// NewDetector creates a cycle detector.
//
// Inputs:
//   - cfg: Configuration. Nil uses DefaultConfig().
//   - logger: Logger for detection diagnostics. If nil, uses slog.Default().
func NewDetector(cfg *Config, logger *slog.Logger) *Detector {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	d := &Detector{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "deadlock_detector")),
		preferred: johnsonEnumerator{},
		fallback:  dfsEnumerator{},
	}
	if cfg.EnableMetrics {
		d.metrics = NewMetrics()
	}
	return d
}

// Detect returns every wait-for cycle found in the snapshot, in canonical
// order. An empty or cycle-free graph yields nil. Detection that exceeds
// the configured deadline is abandoned with a warning and yields nil
// rather than a stale partial answer.
func (d *Detector) Detect(snap *Snapshot) [][]string {
	adj := buildWaitGraph(snap)
	if len(adj) == 0 {
		return nil
	}

	var deadline time.Time
	if d.cfg.DetectTimeout > 0 {
		deadline = time.Now().Add(d.cfg.DetectTimeout)
	}

	var (
		raw      [][]string
		err      error
		strategy string
	)
	if len(adj) <= d.cfg.DetectNodeLimit {
		strategy = "johnson"
		raw, err = d.preferred.enumerate(adj, deadline)
		if err != nil && !errors.Is(err, ErrDetectTimeout) {
			d.logger.Debug("full enumeration failed, using bounded search",
				slog.String("error", err.Error()),
				slog.Int("nodes", len(adj)),
			)
			strategy = "dfs"
			raw, err = d.fallback.enumerate(adj, deadline)
		}
	} else {
		strategy = "dfs"
		raw, err = d.fallback.enumerate(adj, deadline)
	}

	if err != nil {
		if errors.Is(err, ErrDetectTimeout) {
			d.logger.Warn("cycle detection abandoned after deadline",
				slog.Int("nodes", len(adj)),
				slog.Duration("timeout", d.cfg.DetectTimeout),
			)
			d.countScan("timeout")
			return nil
		}
		d.logger.Error("cycle detection failed", slog.String("error", err.Error()))
		d.countScan("error")
		return nil
	}

	d.countScan(strategy)
	return normalizeCycles(raw, d.cfg.MaxCycles)
}

func (d *Detector) countScan(strategy string) {
	if d.metrics != nil {
		d.metrics.ScansTotal.WithLabelValues(strategy).Inc()
	}
}
