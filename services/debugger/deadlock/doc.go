// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package deadlock tracks resource allocation across processes and detects
// circular wait conditions.
//
// # Overview
//
// The package models the classic deadlock setting: a set of resources with
// fixed instance counts, a set of processes that hold and request
// instances, and a FIFO wait queue per resource. From any consistent view
// of that state it derives the wait-for graph and enumerates its
// elementary cycles; every cycle is a deadlock among the processes on it.
// Nothing here blocks a caller on resource availability. Requests that
// cannot be satisfied are queued and surfaced as state, which is what
// makes the contention observable in the first place.
//
// # Architecture
//
//	Tracker ──┬── resource map (allocations, wait queues)
//	          ├── process map  (holdings, pending wait)
//	          ├── EventLog     (bounded ring, subscribers)
//	          └── Detector ──┬── Johnson enumeration (small graphs)
//	                         └── bounded DFS (large graphs)
//	Monitor ── periodic Snapshot -> Detect -> deadlock events
//
// The tracker is the single writer of allocation state; both maps are
// guarded by one lock so every snapshot is internally consistent. The
// detector works purely on snapshots and never touches live state. The
// monitor is an optional loop that turns detection into recorded events.
//
// # Event Log
//
// Every mutation appends a structured Event to a fixed-capacity ring.
// When the ring is full the oldest entry is dropped; producers never
// block on the log. Three read paths exist with different semantics:
// Drain consumes, Entries peeks, and Subscribe delivers live copies on a
// best-effort channel.
//
// # Thread Safety
//
// All exported types in this package are safe for concurrent use.
//
// # Metrics
//
// With EnableMetrics set, the package exports Prometheus metrics under
// the ipcscope_deadlock namespace: request, release, promotion, and
// force-release counters, detection scan counters by strategy, dropped
// event counts, and gauges for tracked entities.
//
// # Usage
//
//	tracker, err := deadlock.NewTracker(nil, logger)
//	if err != nil {
//	    return err
//	}
//
//	tracker.RegisterResource("db-lock", deadlock.KindLock, 1)
//	tracker.RegisterResource("cache-lock", deadlock.KindLock, 1)
//	tracker.RegisterProcess("worker-1")
//	tracker.RegisterProcess("worker-2")
//
//	tracker.RequestResource("worker-1", "db-lock", 1)    // granted
//	tracker.RequestResource("worker-2", "cache-lock", 1) // granted
//	tracker.RequestResource("worker-1", "cache-lock", 1) // queued
//	tracker.RequestResource("worker-2", "db-lock", 1)    // queued
//
//	for _, cycle := range tracker.DetectDeadlocks() {
//	    fmt.Println(strings.Join(cycle, " -> "))
//	}
//
//	// Or let the monitor watch continuously.
//	monitor, _ := deadlock.NewMonitor(nil, tracker, logger)
//	monitor.Start()
//	defer monitor.Stop()
package deadlock
