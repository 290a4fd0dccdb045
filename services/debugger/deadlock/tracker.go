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
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Internal records
// -----------------------------------------------------------------------------

// waiterRecord is one queued request. Queue position is arrival order,
// which is the promotion order; since feeds the reported wait duration.
type waiterRecord struct {
	processID string
	requested int
	since     time.Time
}

type resourceRecord struct {
	id          string
	kind        ResourceKind
	total       int
	available   int
	allocations map[string]int
	waiters     []waiterRecord
}

func (r *resourceRecord) state() ResourceState {
	switch {
	case r.available == r.total:
		return StateFree
	case r.available == 0:
		return StateFullyAllocated
	default:
		return StatePartiallyAllocated
	}
}

func (r *resourceRecord) waiterIndex(processID string) int {
	for i, w := range r.waiters {
		if w.processID == processID {
			return i
		}
	}
	return -1
}

type processRecord struct {
	id         string
	owns       map[string]struct{}
	waitingFor string
}

// -----------------------------------------------------------------------------
// Tracker
// -----------------------------------------------------------------------------

// Tracker owns the canonical allocation state: the resource map and the
// process map, guarded together by one lock.
//
// Description:
//
//	Every public operation either fully commits or fully no-ops. Unknown
//	ids and failed preconditions are reported as boolean results, not
//	errors; only invalid arguments (non-positive instance counts) produce
//	an error, and those never mutate state. Requests that cannot be
//	satisfied are queued, never blocked on: callers observe backpressure
//	explicitly.
//
//	Two invariants hold after every operation:
//	  - available + sum(allocations) == total for every resource
//	  - allocations and owns mirror each other, and a process's pending
//	    wait mirrors exactly one waiter record on the target resource
//
// Thread Safety: Safe for concurrent use.
type Tracker struct {
	cfg     *Config
	logger  *slog.Logger
	metrics *Metrics

	mu        sync.RWMutex
	resources map[string]*resourceRecord
	processes map[string]*processRecord

	log      *EventLog
	detector *Detector
}

// NewTracker creates an allocation tracker.
//
// Inputs:
//   - cfg: Configuration. Nil uses DefaultConfig().
//   - logger: Logger for allocation events. If nil, uses slog.Default().
//
// Outputs:
//   - *Tracker: The created tracker. Never nil on success.
//   - error: Non-nil if the configuration is invalid.
//
// Example:
//
//	tracker, err := deadlock.NewTracker(nil, slog.Default())
//	if err != nil {
//	    return err
//	}
//	tracker.RegisterResource("db-lock", deadlock.KindLock, 1)
//
// Thread Safety: The returned tracker is safe for concurrent use.
func NewTracker(cfg *Config, logger *slog.Logger) (*Tracker, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "deadlock_tracker")),
		resources: make(map[string]*resourceRecord),
		processes: make(map[string]*processRecord),
	}

	if cfg.EnableMetrics {
		t.metrics = NewMetrics()
	}
	t.log = newEventLog(cfg.LogCapacity, t.metrics)
	t.detector = NewDetector(cfg, logger)

	return t, nil
}

// Config returns the effective configuration.
func (t *Tracker) Config() *Config {
	return t.cfg
}

// -----------------------------------------------------------------------------
// Registration
// -----------------------------------------------------------------------------

// RegisterResource adds a resource with a fixed instance count.
//
// Inputs:
//   - id: Resource identifier. Must be unique.
//   - kind: Resource kind. Empty defaults to KindLock.
//   - instances: Total instance count. Must be >= 1.
//
// Outputs:
//   - bool: False if a resource with this id already exists.
//   - error: ErrInvalidInstances if instances < 1. No state changes.
func (t *Tracker) RegisterResource(id string, kind ResourceKind, instances int) (bool, error) {
	if instances < 1 {
		return false, fmt.Errorf("%w: got %d", ErrInvalidInstances, instances)
	}
	if kind == "" {
		kind = KindLock
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.resources[id]; exists {
		return false, nil
	}

	t.resources[id] = &resourceRecord{
		id:          id,
		kind:        kind,
		total:       instances,
		available:   instances,
		allocations: make(map[string]int),
	}

	t.emit(Event{
		Action:     ActionResourceRegistered,
		ResourceID: id,
		Kind:       kind,
		Instances:  instances,
	})
	t.logger.Debug("resource registered",
		slog.String("resource_id", id),
		slog.String("kind", string(kind)),
		slog.Int("instances", instances),
	)
	t.updateGaugesLocked()
	return true, nil
}

// RegisterProcess adds a process with empty state.
//
// Outputs:
//   - bool: False if a process with this id already exists.
func (t *Tracker) RegisterProcess(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.processes[id]; exists {
		return false
	}

	t.processes[id] = &processRecord{
		id:   id,
		owns: make(map[string]struct{}),
	}

	t.emit(Event{Action: ActionProcessRegistered, ProcessID: id})
	t.logger.Debug("process registered", slog.String("process_id", id))
	t.updateGaugesLocked()
	return true
}

// -----------------------------------------------------------------------------
// Request / Release
// -----------------------------------------------------------------------------

// RequestResource asks for n instances of a resource on behalf of a process.
//
// Description:
//
//	If enough instances are available the request is granted immediately.
//	Otherwise the process is queued as a waiter with its requested amount
//	and arrival time, and its pending wait is set. A process with a
//	pending wait cannot issue another request until the wait resolves.
//	The call never blocks waiting for capacity.
//
// Inputs:
//   - processID: Requesting process. Must be registered.
//   - resourceID: Requested resource. Must be registered.
//   - n: Instances requested. Must be >= 1.
//
// Outputs:
//   - bool: True if granted. False if queued, or if either id is unknown,
//     or if the process already has a pending wait (no state change in
//     the latter two cases).
//   - error: ErrInvalidInstances if n < 1. No state changes.
func (t *Tracker) RequestResource(processID, resourceID string, n int) (bool, error) {
	if n < 1 {
		return false, fmt.Errorf("%w: got %d", ErrInvalidInstances, n)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	res := t.resources[resourceID]
	proc := t.processes[processID]
	if res == nil || proc == nil {
		t.countRequest("rejected")
		return false, nil
	}
	if proc.waitingFor != "" {
		t.countRequest("rejected")
		return false, nil
	}

	if res.available >= n {
		res.available -= n
		res.allocations[processID] += n
		proc.owns[resourceID] = struct{}{}

		t.emit(Event{
			Action:     ActionResourceAcquired,
			ResourceID: resourceID,
			ProcessID:  processID,
			Instances:  n,
			Available:  res.available,
		})
		t.logger.Debug("resource acquired",
			slog.String("resource_id", resourceID),
			slog.String("process_id", processID),
			slog.Int("instances", n),
			slog.Int("available", res.available),
		)
		t.countRequest("granted")
		t.updateGaugesLocked()
		return true, nil
	}

	if res.waiterIndex(processID) == -1 {
		res.waiters = append(res.waiters, waiterRecord{
			processID: processID,
			requested: n,
			since:     time.Now(),
		})
	}
	proc.waitingFor = resourceID

	t.emit(Event{
		Action:     ActionResourceWaiting,
		ResourceID: resourceID,
		ProcessID:  processID,
		Requested:  n,
		Available:  res.available,
	})
	t.logger.Debug("resource unavailable, process queued",
		slog.String("resource_id", resourceID),
		slog.String("process_id", processID),
		slog.Int("requested", n),
		slog.Int("available", res.available),
	)
	t.countRequest("queued")
	t.updateGaugesLocked()
	return false, nil
}

// ReleaseResource returns instances of a resource held by a process.
//
// Description:
//
//	Releases min(n, held) instances; n <= 0 releases the full allocation.
//	After the release, the longest-waiting satisfiable waiter (if any) is
//	promoted: it is dequeued, granted its requested amount, and reported
//	with its elapsed wait. At most one waiter is promoted per call, even
//	if capacity remains for more.
//
// Outputs:
//   - bool: False if either id is unknown or the process holds nothing
//     on this resource.
func (t *Tracker) ReleaseResource(processID, resourceID string, n int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := t.resources[resourceID]
	proc := t.processes[processID]
	if res == nil || proc == nil {
		return false
	}
	held := res.allocations[processID]
	if held == 0 {
		return false
	}

	if n <= 0 || n > held {
		n = held
	}
	res.available += n
	if n == held {
		delete(res.allocations, processID)
		delete(proc.owns, resourceID)
	} else {
		res.allocations[processID] = held - n
	}

	t.emit(Event{
		Action:     ActionResourceReleased,
		ResourceID: resourceID,
		ProcessID:  processID,
		Instances:  n,
		Available:  res.available,
	})
	t.logger.Debug("resource released",
		slog.String("resource_id", resourceID),
		slog.String("process_id", processID),
		slog.Int("instances", n),
		slog.Int("available", res.available),
	)
	if t.metrics != nil {
		t.metrics.ReleasesTotal.Inc()
	}

	t.promoteLocked(res)
	t.updateGaugesLocked()
	return true
}

// promoteLocked grants the first waiter in arrival order whose requested
// amount fits the current availability. At most one waiter is granted per
// call. Caller must hold the write lock.
func (t *Tracker) promoteLocked(res *resourceRecord) {
	for i, w := range res.waiters {
		if w.requested > res.available {
			continue
		}
		proc := t.processes[w.processID]
		if proc == nil {
			continue
		}

		res.available -= w.requested
		res.allocations[w.processID] += w.requested
		proc.owns[res.id] = struct{}{}
		proc.waitingFor = ""
		res.waiters = append(res.waiters[:i], res.waiters[i+1:]...)

		waited := time.Since(w.since)
		t.emit(Event{
			Action:       ActionResourceAcquiredAfterWait,
			ResourceID:   res.id,
			ProcessID:    w.processID,
			Instances:    w.requested,
			Available:    res.available,
			WaitDuration: waited,
		})
		t.logger.Debug("waiter promoted",
			slog.String("resource_id", res.id),
			slog.String("process_id", w.processID),
			slog.Int("instances", w.requested),
			slog.Duration("waited", waited),
		)
		if t.metrics != nil {
			t.metrics.PromotionsTotal.Inc()
		}
		return
	}
}

// -----------------------------------------------------------------------------
// Unregistration
// -----------------------------------------------------------------------------

// UnregisterProcess removes a process and releases everything it holds.
//
// Description:
//
//	For every resource the process owns, its full allocation is force
//	released and the usual promotion runs once. The process is then
//	removed from any waiter queue it occupies, and finally deleted.
//	Resources are processed in sorted id order so cascades are
//	deterministic.
//
// Outputs:
//   - bool: False if the process id is unknown.
func (t *Tracker) UnregisterProcess(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	proc := t.processes[id]
	if proc == nil {
		return false
	}

	owned := make([]string, 0, len(proc.owns))
	for rid := range proc.owns {
		owned = append(owned, rid)
	}
	sort.Strings(owned)

	for _, rid := range owned {
		res := t.resources[rid]
		if res == nil {
			continue
		}
		n := res.allocations[id]
		res.available += n
		delete(res.allocations, id)

		t.emit(Event{
			Action:     ActionResourceForceReleased,
			ResourceID: rid,
			ProcessID:  id,
			Instances:  n,
			Available:  res.available,
		})
		if t.metrics != nil {
			t.metrics.ForceReleasesTotal.Inc()
		}
		t.promoteLocked(res)
	}

	if proc.waitingFor != "" {
		if res := t.resources[proc.waitingFor]; res != nil {
			if i := res.waiterIndex(id); i != -1 {
				res.waiters = append(res.waiters[:i], res.waiters[i+1:]...)
			}
		}
	}

	delete(t.processes, id)
	t.emit(Event{Action: ActionProcessUnregistered, ProcessID: id})
	t.logger.Debug("process unregistered",
		slog.String("process_id", id),
		slog.Int("resources_released", len(owned)),
	)
	t.updateGaugesLocked()
	return true
}

// UnregisterResource removes a resource, reclaiming every allocation.
//
// Description:
//
//	Owners lose their allocations (reported as force releases, in sorted
//	owner order) and queued waiters have their pending wait cleared. No
//	promotion runs: the resource ceases to exist.
//
// Outputs:
//   - bool: False if the resource id is unknown.
func (t *Tracker) UnregisterResource(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := t.resources[id]
	if res == nil {
		return false
	}

	owners := make([]string, 0, len(res.allocations))
	for pid := range res.allocations {
		owners = append(owners, pid)
	}
	sort.Strings(owners)

	for _, pid := range owners {
		n := res.allocations[pid]
		if proc := t.processes[pid]; proc != nil {
			delete(proc.owns, id)
		}
		t.emit(Event{
			Action:     ActionResourceForceReleased,
			ResourceID: id,
			ProcessID:  pid,
			Instances:  n,
		})
		if t.metrics != nil {
			t.metrics.ForceReleasesTotal.Inc()
		}
	}

	for _, w := range res.waiters {
		if proc := t.processes[w.processID]; proc != nil && proc.waitingFor == id {
			proc.waitingFor = ""
		}
	}

	delete(t.resources, id)
	t.emit(Event{
		Action:     ActionResourceUnregistered,
		ResourceID: id,
		Kind:       res.kind,
		Instances:  res.total,
	})
	t.logger.Debug("resource unregistered",
		slog.String("resource_id", id),
		slog.Int("owners_released", len(owners)),
		slog.Int("waiters_cleared", len(res.waiters)),
	)
	t.updateGaugesLocked()
	return true
}

// -----------------------------------------------------------------------------
// Direct state injection
// -----------------------------------------------------------------------------

// SetResourceOwner allocates instances to a process without going through
// the request protocol. Scenario and simulation callers use it to stage
// contention states directly; the allocation invariants still hold.
//
// Outputs:
//   - bool: False if either id is unknown or fewer than n instances are
//     available.
//   - error: ErrInvalidInstances if n < 1.
func (t *Tracker) SetResourceOwner(resourceID, processID string, n int) (bool, error) {
	if n < 1 {
		return false, fmt.Errorf("%w: got %d", ErrInvalidInstances, n)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	res := t.resources[resourceID]
	proc := t.processes[processID]
	if res == nil || proc == nil {
		return false, nil
	}
	if res.available < n {
		return false, nil
	}

	res.available -= n
	res.allocations[processID] += n
	proc.owns[resourceID] = struct{}{}

	t.emit(Event{
		Action:     ActionResourceAcquired,
		ResourceID: resourceID,
		ProcessID:  processID,
		Instances:  n,
		Available:  res.available,
	})
	t.updateGaugesLocked()
	return true, nil
}

// AddWaiter queues a process on a resource without going through the
// request protocol. The at-most-one-wait rule still applies.
//
// Outputs:
//   - bool: False if either id is unknown, the process already has a
//     pending wait, or it is already queued on this resource.
//   - error: ErrInvalidInstances if n < 1.
func (t *Tracker) AddWaiter(resourceID, processID string, n int) (bool, error) {
	if n < 1 {
		return false, fmt.Errorf("%w: got %d", ErrInvalidInstances, n)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	res := t.resources[resourceID]
	proc := t.processes[processID]
	if res == nil || proc == nil {
		return false, nil
	}
	if proc.waitingFor != "" {
		return false, nil
	}
	if res.waiterIndex(processID) != -1 {
		return false, nil
	}

	res.waiters = append(res.waiters, waiterRecord{
		processID: processID,
		requested: n,
		since:     time.Now(),
	})
	proc.waitingFor = resourceID

	t.emit(Event{
		Action:     ActionResourceWaiting,
		ResourceID: resourceID,
		ProcessID:  processID,
		Requested:  n,
		Available:  res.available,
	})
	t.updateGaugesLocked()
	return true, nil
}

// RemoveWaiter dequeues a process from a resource's wait queue and clears
// its pending wait. Availability does not change, so no promotion runs.
//
// Outputs:
//   - bool: False if either id is unknown or the process is not queued.
func (t *Tracker) RemoveWaiter(resourceID, processID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := t.resources[resourceID]
	proc := t.processes[processID]
	if res == nil || proc == nil {
		return false
	}
	i := res.waiterIndex(processID)
	if i == -1 {
		return false
	}

	res.waiters = append(res.waiters[:i], res.waiters[i+1:]...)
	if proc.waitingFor == resourceID {
		proc.waitingFor = ""
	}

	t.emit(Event{
		Action:     ActionWaiterRemoved,
		ResourceID: resourceID,
		ProcessID:  processID,
	})
	t.updateGaugesLocked()
	return true
}

// ClearAll atomically removes every resource and process.
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resources = make(map[string]*resourceRecord)
	t.processes = make(map[string]*processRecord)

	t.emit(Event{Action: ActionSystemCleared})
	t.logger.Info("all tracked state cleared")
	t.updateGaugesLocked()
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

// GetResourceStatus returns a deep copy of every resource's state. The
// returned containers never alias tracker internals.
func (t *Tracker) GetResourceStatus() map[string]ResourceStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resourceStatusLocked()
}

// GetProcessStatus returns a deep copy of every process's state.
func (t *Tracker) GetProcessStatus() map[string]ProcessStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.processStatusLocked()
}

// Snapshot captures both status maps in one lock-consistent pass. This is
// the input contract for cycle detection.
func (t *Tracker) Snapshot() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &Snapshot{
		Taken:     time.Now(),
		Resources: t.resourceStatusLocked(),
		Processes: t.processStatusLocked(),
	}
}

func (t *Tracker) resourceStatusLocked() map[string]ResourceStatus {
	out := make(map[string]ResourceStatus, len(t.resources))
	for id, res := range t.resources {
		st := ResourceStatus{
			ID:        id,
			Kind:      res.kind,
			Total:     res.total,
			Available: res.available,
			State:     res.state(),
		}
		if len(res.allocations) > 0 {
			st.Allocations = make(map[string]int, len(res.allocations))
			for pid, n := range res.allocations {
				st.Allocations[pid] = n
			}
		}
		if len(res.waiters) > 0 {
			st.Waiters = make([]string, 0, len(res.waiters))
			st.Requested = make(map[string]int, len(res.waiters))
			st.WaiterSince = make(map[string]time.Time, len(res.waiters))
			for _, w := range res.waiters {
				st.Waiters = append(st.Waiters, w.processID)
				st.Requested[w.processID] = w.requested
				st.WaiterSince[w.processID] = w.since
			}
		}
		out[id] = st
	}
	return out
}

func (t *Tracker) processStatusLocked() map[string]ProcessStatus {
	out := make(map[string]ProcessStatus, len(t.processes))
	for id, proc := range t.processes {
		st := ProcessStatus{
			ID:         id,
			WaitingFor: proc.waitingFor,
		}
		if len(proc.owns) > 0 {
			st.Owns = make([]string, 0, len(proc.owns))
			for rid := range proc.owns {
				st.Owns = append(st.Owns, rid)
			}
			sort.Strings(st.Owns)
		}
		out[id] = st
	}
	return out
}

// DetectDeadlocks takes a snapshot and returns every elementary cycle in
// its wait-for graph. Pure query: no events are emitted; the background
// monitor is the component that reports findings to the log.
func (t *Tracker) DetectDeadlocks() [][]string {
	return t.detector.Detect(t.Snapshot())
}

// -----------------------------------------------------------------------------
// Event access
// -----------------------------------------------------------------------------

// DrainEvents returns and removes all buffered events, oldest first.
// This is the destructive raw read; use LogEntries or SubscribeEvents
// for non-consuming views.
func (t *Tracker) DrainEvents() []Event {
	return t.log.Drain()
}

// LogEntries returns the formatted view of the buffered events without
// consuming them.
func (t *Tracker) LogEntries() []LogEntry {
	events := t.log.Entries()
	out := make([]LogEntry, 0, len(events))
	for _, e := range events {
		out = append(out, FormatEntry(e))
	}
	return out
}

// AppendEvent injects a host-supplied event into the log. A zero Time is
// stamped with the current time.
func (t *Tracker) AppendEvent(e Event) {
	t.log.Append(e)
}

// SubscribeEvents registers a live, non-consuming event feed. See
// EventLog.Subscribe for the delivery contract.
func (t *Tracker) SubscribeEvents() (<-chan Event, func()) {
	return t.log.Subscribe()
}

// -----------------------------------------------------------------------------
// Internal helpers
// -----------------------------------------------------------------------------

// recordDeadlock reports one detected cycle to the log and metrics. The
// event log has its own synchronization, so the tracker lock is not held.
func (t *Tracker) recordDeadlock(cycle []string) {
	t.emit(Event{Action: ActionDeadlockDetected, Cycle: cycle})
	t.logger.Warn("deadlock detected",
		slog.Any("cycle", cycle),
		slog.Int("length", len(cycle)),
	)
	if t.metrics != nil {
		t.metrics.DeadlocksDetectedTotal.Inc()
	}
}

func (t *Tracker) emit(e Event) {
	t.log.Append(e)
}

func (t *Tracker) countRequest(outcome string) {
	if t.metrics != nil {
		t.metrics.RequestsTotal.WithLabelValues(outcome).Inc()
	}
}

// updateGaugesLocked refreshes the entity gauges. Caller must hold at
// least the read lock.
func (t *Tracker) updateGaugesLocked() {
	if t.metrics == nil {
		return
	}
	waiting := 0
	for _, proc := range t.processes {
		if proc.waitingFor != "" {
			waiting++
		}
	}
	t.metrics.ActiveResources.Set(float64(len(t.resources)))
	t.metrics.ActiveProcesses.Set(float64(len(t.processes)))
	t.metrics.WaitingProcesses.Set(float64(waiting))
}
