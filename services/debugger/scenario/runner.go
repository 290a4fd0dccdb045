// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scenario

import (
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/ipcscope/services/debugger/deadlock"
)

// ErrNilTracker indicates a runner was constructed without a tracker.
var ErrNilTracker = errors.New("tracker must not be nil")

// =============================================================================
// Report Types
// =============================================================================

// StepResult records the outcome of one executed step.
//
// # Fields
//
//   - OK: Whether the operation was accepted. A queued request counts as
//     accepted; a refused release does not.
//   - Detail: Short outcome qualifier ("granted", "queued", "refused").
//   - Error: Set when the step was rejected outright (invalid instance
//     counts). Rejected steps never mutate tracker state.
type StepResult struct {
	Index     int    `json:"index"`
	Op        Op     `json:"op"`
	Process   string `json:"process,omitempty"`
	Resource  string `json:"resource,omitempty"`
	Instances int    `json:"instances,omitempty"`
	OK        bool   `json:"ok"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Report summarizes one scenario application.
type Report struct {
	Scenario  string       `json:"scenario"`
	AppliedAt time.Time    `json:"applied_at"`
	Steps     []StepResult `json:"steps"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Cycles    [][]string   `json:"cycles,omitempty"`
}

// =============================================================================
// Runner
// =============================================================================

// Runner applies scenarios to a tracker.
type Runner struct {
	tracker *deadlock.Tracker
	logger  *slog.Logger
}

// NewRunner creates a scenario runner.
//
// # Inputs
//
//   - tracker: Target tracker. Must not be nil.
//   - logger: Logger for step diagnostics. If nil, uses slog.Default().
func NewRunner(tracker *deadlock.Tracker, logger *slog.Logger) (*Runner, error) {
	if tracker == nil {
		return nil, ErrNilTracker
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		tracker: tracker,
		logger:  logger.With(slog.String("component", "scenario_runner")),
	}, nil
}

// Apply registers the scenario's entities and executes its steps in
// order.
//
// # Description
//
// Already-registered resources and processes are reused, so scenarios
// compose on a shared tracker. Steps are never fatal: refused operations
// and invalid counts are recorded in the report and execution continues,
// because a scenario exists to stage a state, not to assert one. After
// the last step a detection pass runs and any wait-for cycles are
// attached to the report.
//
// # Outputs
//
//   - *Report: Per-step outcomes plus detected cycles. Never nil.
func (r *Runner) Apply(s *Scenario) *Report {
	report := &Report{
		Scenario:  s.Name,
		AppliedAt: time.Now(),
		Steps:     make([]StepResult, 0, len(s.Steps)),
	}

	for _, decl := range s.Resources {
		created, err := r.tracker.RegisterResource(decl.ID, deadlock.ResourceKind(decl.Kind), decl.Instances)
		if err != nil {
			r.logger.Warn("resource declaration rejected",
				slog.String("resource_id", decl.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !created {
			r.logger.Debug("resource already registered", slog.String("resource_id", decl.ID))
		}
	}
	for _, pid := range s.Processes {
		if !r.tracker.RegisterProcess(pid) {
			r.logger.Debug("process already registered", slog.String("process_id", pid))
		}
	}

	for i, step := range s.Steps {
		result := r.runStep(i, step)
		if result.Error != "" || !result.OK {
			report.Failed++
		} else {
			report.Succeeded++
		}
		report.Steps = append(report.Steps, result)
	}

	report.Cycles = r.tracker.DetectDeadlocks()
	r.logger.Info("scenario applied",
		slog.String("scenario", s.Name),
		slog.Int("steps", len(s.Steps)),
		slog.Int("failed", report.Failed),
		slog.Int("cycles", len(report.Cycles)),
	)
	return report
}

func (r *Runner) runStep(index int, step Step) StepResult {
	result := StepResult{
		Index:     index,
		Op:        step.Op,
		Process:   step.Process,
		Resource:  step.Resource,
		Instances: step.Instances,
	}

	// Request, own, and wait treat an omitted count as one instance;
	// release keeps zero, which means the full allocation.
	n := step.Instances
	if n == 0 && step.Op != OpRelease {
		n = 1
	}

	var (
		ok  bool
		err error
	)
	switch step.Op {
	case OpRequest:
		var granted bool
		granted, err = r.tracker.RequestResource(step.Process, step.Resource, n)
		if err == nil {
			ok = true
			if granted {
				result.Detail = "granted"
			} else {
				result.Detail = "queued"
			}
		}
	case OpRelease:
		ok = r.tracker.ReleaseResource(step.Process, step.Resource, n)
	case OpOwn:
		ok, err = r.tracker.SetResourceOwner(step.Resource, step.Process, n)
	case OpWait:
		ok, err = r.tracker.AddWaiter(step.Resource, step.Process, n)
	case OpUnwait:
		ok = r.tracker.RemoveWaiter(step.Resource, step.Process)
	case OpUnregisterProcess:
		ok = r.tracker.UnregisterProcess(step.Process)
	case OpUnregisterResource:
		ok = r.tracker.UnregisterResource(step.Resource)
	case OpClear:
		r.tracker.ClearAll()
		ok = true
	}

	if err != nil {
		result.Error = err.Error()
		r.logger.Warn("scenario step rejected",
			slog.Int("step", index+1),
			slog.String("op", string(step.Op)),
			slog.String("error", err.Error()),
		)
		return result
	}

	result.OK = ok
	if !ok && result.Detail == "" {
		result.Detail = "refused"
	}
	return result
}
