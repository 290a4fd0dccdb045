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
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidInstances is returned when an instance count is not positive.
	ErrInvalidInstances = errors.New("instance count must be positive")

	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNilTracker is returned when a nil tracker is provided.
	ErrNilTracker = errors.New("tracker must not be nil")

	// ErrInvalidSimulation is returned when simulation parameters are out of range.
	ErrInvalidSimulation = errors.New("invalid simulation parameters")

	// ErrDetectTimeout is returned internally when cycle enumeration exceeds
	// its time budget. It never escapes DetectDeadlocks; callers observe an
	// empty result instead.
	ErrDetectTimeout = errors.New("cycle detection timed out")
)

// -----------------------------------------------------------------------------
// Enums
// -----------------------------------------------------------------------------

// ResourceKind labels what a tracked resource models. The kind is
// informational: allocation semantics are identical for every kind.
type ResourceKind string

const (
	// KindLock is a mutual-exclusion lock. The conventional kind for
	// single-instance resources and the default when none is given.
	KindLock ResourceKind = "lock"

	// KindSemaphore is a counting semaphore (multi-instance).
	KindSemaphore ResourceKind = "semaphore"

	// KindSharedMemory is a shared memory segment.
	KindSharedMemory ResourceKind = "shared_memory"

	// KindPipe is a pipe endpoint.
	KindPipe ResourceKind = "pipe"

	// KindQueue is a message queue.
	KindQueue ResourceKind = "queue"
)

// Valid reports whether the kind is one of the well-known values.
// The tracker accepts unknown kinds; validation is for input layers.
func (k ResourceKind) Valid() bool {
	switch k {
	case KindLock, KindSemaphore, KindSharedMemory, KindPipe, KindQueue:
		return true
	default:
		return false
	}
}

// ResourceState is the derived allocation state of a resource.
type ResourceState string

const (
	// StateFree means every instance is available.
	StateFree ResourceState = "free"

	// StatePartiallyAllocated means some, but not all, instances are held.
	StatePartiallyAllocated ResourceState = "partially_allocated"

	// StateFullyAllocated means no instances are available.
	StateFullyAllocated ResourceState = "fully_allocated"
)

// EventAction tags an event with the state transition it describes.
type EventAction string

const (
	ActionResourceRegistered        EventAction = "resource_registered"
	ActionResourceUnregistered      EventAction = "resource_unregistered"
	ActionProcessRegistered         EventAction = "process_registered"
	ActionProcessUnregistered       EventAction = "process_unregistered"
	ActionResourceAcquired          EventAction = "resource_acquired"
	ActionResourceWaiting           EventAction = "resource_waiting"
	ActionResourceReleased          EventAction = "resource_released"
	ActionResourceAcquiredAfterWait EventAction = "resource_acquired_after_wait"
	ActionResourceForceReleased     EventAction = "resource_force_released"
	ActionWaiterRemoved             EventAction = "waiter_removed"
	ActionDeadlockDetected          EventAction = "deadlock_detected"
	ActionSystemCleared             EventAction = "system_cleared"
)

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

// Event is a structured record of one state transition. Only the fields
// relevant to the action are populated; the zero values are omitted on
// the wire.
type Event struct {
	// Time is when the transition happened.
	Time time.Time `json:"time"`

	// Action tags the transition.
	Action EventAction `json:"action"`

	// ResourceID names the resource involved, if any.
	ResourceID string `json:"resource_id,omitempty"`

	// ProcessID names the process involved, if any.
	ProcessID string `json:"process_id,omitempty"`

	// Kind is the resource kind for registration events.
	Kind ResourceKind `json:"kind,omitempty"`

	// Instances is the instance count the action moved.
	Instances int `json:"instances,omitempty"`

	// Available is the resource's availability after the action.
	Available int `json:"available,omitempty"`

	// Requested is the amount a waiter asked for.
	Requested int `json:"requested,omitempty"`

	// WaitDuration is how long a promoted waiter was queued.
	WaitDuration time.Duration `json:"wait_duration,omitempty"`

	// Cycle lists the process ids of a detected deadlock cycle.
	Cycle []string `json:"cycle,omitempty"`

	// Message carries free-form text for host-injected entries.
	Message string `json:"message,omitempty"`
}

// LogEntry is the formatted, display-oriented view of an event.
type LogEntry struct {
	// Time is the event time.
	Time time.Time `json:"time"`

	// ComponentID attributes the entry to a tracked entity:
	// "deadlock_process_<id>", "deadlock_resource_<id>", or
	// "deadlock_detector" for system-level entries.
	ComponentID string `json:"component_id"`

	// Message is a human-readable rendering of the event.
	Message string `json:"message"`
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config configures the tracker, the detector, and the background monitor.
type Config struct {
	// LogCapacity is the fixed capacity of the event log ring.
	// Must be > 0. Default: 1000.
	LogCapacity int

	// MonitorInterval is the period of the background deadlock scan.
	// Must be > 0. Default: 500 milliseconds.
	MonitorInterval time.Duration

	// StopTimeout bounds how long Monitor.Stop waits for the scan
	// goroutine to finish before giving up with a warning.
	// Must be > 0. Default: 2 seconds.
	StopTimeout time.Duration

	// DetectTimeout is the time budget for one cycle-detection pass.
	// On expiry the pass yields no cycles instead of blocking.
	// Must be > 0. Default: 250 milliseconds.
	DetectTimeout time.Duration

	// DetectNodeLimit is the wait-for graph size above which detection
	// skips the elementary-cycles enumerator and goes straight to the
	// bounded depth-first fallback. Must be > 0. Default: 50.
	DetectNodeLimit int

	// MaxCycles caps how many cycles one detection pass reports.
	// Must be > 0. Default: 100.
	MaxCycles int

	// EnableMetrics enables Prometheus metrics collection.
	// DefaultConfig enables it; the zero value leaves it off.
	EnableMetrics bool
}

// DefaultConfig returns the configuration used when NewTracker is given nil.
func DefaultConfig() *Config {
	return &Config{
		LogCapacity:     1000,
		MonitorInterval: 500 * time.Millisecond,
		StopTimeout:     2 * time.Second,
		DetectTimeout:   250 * time.Millisecond,
		DetectNodeLimit: 50,
		MaxCycles:       100,
		EnableMetrics:   true,
	}
}

// ApplyDefaults fills in zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.LogCapacity == 0 {
		c.LogCapacity = 1000
	}
	if c.MonitorInterval == 0 {
		c.MonitorInterval = 500 * time.Millisecond
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 2 * time.Second
	}
	if c.DetectTimeout == 0 {
		c.DetectTimeout = 250 * time.Millisecond
	}
	if c.DetectNodeLimit == 0 {
		c.DetectNodeLimit = 50
	}
	if c.MaxCycles == 0 {
		c.MaxCycles = 100
	}
}

// Validate checks if the configuration is valid.
//
// Outputs:
//   - error: Non-nil if any field is out of range.
func (c *Config) Validate() error {
	if c.LogCapacity < 1 {
		return errors.New("LogCapacity must be > 0")
	}
	if c.MonitorInterval <= 0 {
		return errors.New("MonitorInterval must be > 0")
	}
	if c.StopTimeout <= 0 {
		return errors.New("StopTimeout must be > 0")
	}
	if c.DetectTimeout <= 0 {
		return errors.New("DetectTimeout must be > 0")
	}
	if c.DetectNodeLimit < 1 {
		return errors.New("DetectNodeLimit must be > 0")
	}
	if c.MaxCycles < 1 {
		return errors.New("MaxCycles must be > 0")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Status Types
// -----------------------------------------------------------------------------

// ResourceStatus is a deep copy of one resource's state. Mutating it has
// no effect on the tracker.
type ResourceStatus struct {
	// ID is the resource identifier.
	ID string `json:"id"`

	// Kind labels what the resource models.
	Kind ResourceKind `json:"kind"`

	// Total is the immutable instance count.
	Total int `json:"total_instances"`

	// Available is the instance count not currently allocated.
	Available int `json:"available_instances"`

	// State is the derived allocation state.
	State ResourceState `json:"state"`

	// Allocations maps process id to instances held.
	Allocations map[string]int `json:"allocations,omitempty"`

	// Waiters lists queued process ids in arrival order.
	Waiters []string `json:"waiters,omitempty"`

	// Requested maps each waiter to the amount it asked for.
	Requested map[string]int `json:"requested,omitempty"`

	// WaiterSince maps each waiter to when it entered the queue.
	WaiterSince map[string]time.Time `json:"waiter_since,omitempty"`
}

// ProcessStatus is a deep copy of one process's state.
type ProcessStatus struct {
	// ID is the process identifier.
	ID string `json:"id"`

	// Owns lists resource ids with at least one held instance, sorted.
	Owns []string `json:"owns,omitempty"`

	// WaitingFor is the resource this process is blocked on, or empty.
	WaitingFor string `json:"waiting_for,omitempty"`
}

// Snapshot is a lock-consistent copy of all tracked state. It is the
// input contract for cycle detection: detection reads a snapshot, never
// live tracker state.
type Snapshot struct {
	// Taken is when the snapshot was captured.
	Taken time.Time `json:"taken"`

	// Resources maps resource id to its copied status.
	Resources map[string]ResourceStatus `json:"resources"`

	// Processes maps process id to its copied status.
	Processes map[string]ProcessStatus `json:"processes"`
}

// Simulation describes the entities a SimulateDeadlock call created.
type Simulation struct {
	// RunID is the random suffix shared by all generated ids.
	RunID string `json:"run_id"`

	// Processes lists the generated process ids in ring order.
	Processes []string `json:"processes"`

	// Resources lists the generated resource ids in ring order.
	Resources []string `json:"resources"`
}
