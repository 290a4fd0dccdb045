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
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper to create a tracker with a quiet logger and test defaults.
func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr, err := NewTracker(&Config{}, logger)
	require.NoError(t, err)
	return tr
}

// assertConsistent checks the invariants that must hold after every
// operation: instance conservation per resource, and the mirror between
// allocations/ownership and waiter queues/pending waits.
func assertConsistent(t *testing.T, tr *Tracker) {
	t.Helper()
	snap := tr.Snapshot()

	for id, res := range snap.Resources {
		allocated := 0
		for pid, n := range res.Allocations {
			allocated += n
			proc, ok := snap.Processes[pid]
			require.True(t, ok, "resource %s allocated to unknown process %s", id, pid)
			assert.Contains(t, proc.Owns, id, "process %s does not list %s as owned", pid, id)
		}
		assert.Equal(t, res.Total, res.Available+allocated,
			"instance conservation violated for %s", id)

		for _, pid := range res.Waiters {
			proc, ok := snap.Processes[pid]
			require.True(t, ok, "resource %s has unknown waiter %s", id, pid)
			assert.Equal(t, id, proc.WaitingFor,
				"waiter %s on %s has mismatched pending wait", pid, id)
		}
	}

	for pid, proc := range snap.Processes {
		for _, rid := range proc.Owns {
			res, ok := snap.Resources[rid]
			require.True(t, ok, "process %s owns unknown resource %s", pid, rid)
			assert.Greater(t, res.Allocations[pid], 0,
				"process %s owns %s but has no allocation", pid, rid)
		}
		if proc.WaitingFor != "" {
			res, ok := snap.Resources[proc.WaitingFor]
			require.True(t, ok, "process %s waits on unknown resource", pid)
			assert.Contains(t, res.Waiters, pid,
				"process %s waits on %s but is not queued", pid, proc.WaitingFor)
		}
	}
}

func actions(events []Event) []EventAction {
	out := make([]EventAction, 0, len(events))
	for _, e := range events {
		out = append(out, e.Action)
	}
	return out
}

// -----------------------------------------------------------------------------
// Construction
// -----------------------------------------------------------------------------

func TestNewTracker_Defaults(t *testing.T) {
	tr, err := NewTracker(nil, nil)
	require.NoError(t, err)
	require.NotNil(t, tr)

	cfg := tr.Config()
	assert.Equal(t, 1000, cfg.LogCapacity)
	assert.Equal(t, 500*time.Millisecond, cfg.MonitorInterval)
	assert.Equal(t, 2*time.Second, cfg.StopTimeout)
}

func TestNewTracker_InvalidConfig(t *testing.T) {
	_, err := NewTracker(&Config{LogCapacity: -1}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// -----------------------------------------------------------------------------
// Registration
// -----------------------------------------------------------------------------

func TestRegisterResource(t *testing.T) {
	tr := newTestTracker(t)

	ok, err := tr.RegisterResource("r1", KindSemaphore, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	// Duplicate registration is refused without error.
	ok, err = tr.RegisterResource("r1", KindLock, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	st := tr.GetResourceStatus()["r1"]
	assert.Equal(t, KindSemaphore, st.Kind)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 3, st.Available)
	assert.Equal(t, StateFree, st.State)
	assertConsistent(t, tr)
}

func TestRegisterResource_InvalidInstances(t *testing.T) {
	tr := newTestTracker(t)

	for _, n := range []int{0, -1, -100} {
		ok, err := tr.RegisterResource("r1", KindLock, n)
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrInvalidInstances)
	}
	// Nothing was registered by the failed calls.
	assert.Empty(t, tr.GetResourceStatus())
}

func TestRegisterResource_DefaultKind(t *testing.T) {
	tr := newTestTracker(t)

	ok, err := tr.RegisterResource("r1", "", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindLock, tr.GetResourceStatus()["r1"].Kind)
}

func TestRegisterProcess(t *testing.T) {
	tr := newTestTracker(t)

	assert.True(t, tr.RegisterProcess("p1"))
	assert.False(t, tr.RegisterProcess("p1"))

	st := tr.GetProcessStatus()["p1"]
	assert.Empty(t, st.Owns)
	assert.Empty(t, st.WaitingFor)
}

// -----------------------------------------------------------------------------
// Request / Release
// -----------------------------------------------------------------------------

func TestRequestResource_Grant(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindSemaphore, 3)
	tr.RegisterProcess("p1")

	granted, err := tr.RequestResource("p1", "r1", 2)
	require.NoError(t, err)
	assert.True(t, granted)

	res := tr.GetResourceStatus()["r1"]
	assert.Equal(t, 1, res.Available)
	assert.Equal(t, 2, res.Allocations["p1"])
	assert.Equal(t, StatePartiallyAllocated, res.State)
	assert.Equal(t, []string{"r1"}, tr.GetProcessStatus()["p1"].Owns)
	assertConsistent(t, tr)
}

func TestRequestResource_Queue(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindLock, 1)
	tr.RegisterProcess("p1")
	tr.RegisterProcess("p2")

	granted, err := tr.RequestResource("p1", "r1", 1)
	require.NoError(t, err)
	require.True(t, granted)

	granted, err = tr.RequestResource("p2", "r1", 1)
	require.NoError(t, err)
	assert.False(t, granted)

	res := tr.GetResourceStatus()["r1"]
	assert.Equal(t, []string{"p2"}, res.Waiters)
	assert.Equal(t, 1, res.Requested["p2"])
	assert.False(t, res.WaiterSince["p2"].IsZero())
	assert.Equal(t, "r1", tr.GetProcessStatus()["p2"].WaitingFor)
	assertConsistent(t, tr)
}

func TestRequestResource_UnknownIDs(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindLock, 1)
	tr.RegisterProcess("p1")

	granted, err := tr.RequestResource("ghost", "r1", 1)
	require.NoError(t, err)
	assert.False(t, granted)

	granted, err = tr.RequestResource("p1", "ghost", 1)
	require.NoError(t, err)
	assert.False(t, granted)

	// Failed calls left no trace.
	assert.Equal(t, 1, tr.GetResourceStatus()["r1"].Available)
	assert.Empty(t, tr.GetProcessStatus()["p1"].WaitingFor)
}

func TestRequestResource_SecondRequestWhileWaiting(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindLock, 1)
	tr.RegisterResource("r2", KindLock, 1)
	tr.RegisterProcess("p1")
	tr.RegisterProcess("p2")

	tr.RequestResource("p1", "r1", 1)
	granted, err := tr.RequestResource("p2", "r1", 1)
	require.NoError(t, err)
	require.False(t, granted)

	// p2 already has a pending wait; even a satisfiable request on a
	// free resource is refused without state changes.
	granted, err = tr.RequestResource("p2", "r2", 1)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, 1, tr.GetResourceStatus()["r2"].Available)
	assert.Equal(t, "r1", tr.GetProcessStatus()["p2"].WaitingFor)
	assertConsistent(t, tr)
}

func TestRequestResource_InvalidCount(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindLock, 1)
	tr.RegisterProcess("p1")

	_, err := tr.RequestResource("p1", "r1", 0)
	assert.ErrorIs(t, err, ErrInvalidInstances)
	_, err = tr.RequestResource("p1", "r1", -2)
	assert.ErrorIs(t, err, ErrInvalidInstances)
	assertConsistent(t, tr)
}

func TestReleaseResource_PartialAndClamp(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindSemaphore, 5)
	tr.RegisterProcess("p1")
	tr.RequestResource("p1", "r1", 3)

	// Partial release keeps the remaining allocation.
	require.True(t, tr.ReleaseResource("p1", "r1", 2))
	res := tr.GetResourceStatus()["r1"]
	assert.Equal(t, 4, res.Available)
	assert.Equal(t, 1, res.Allocations["p1"])

	// Releasing more than held clamps to the full allocation.
	require.True(t, tr.ReleaseResource("p1", "r1", 10))
	res = tr.GetResourceStatus()["r1"]
	assert.Equal(t, 5, res.Available)
	assert.Empty(t, res.Allocations)
	assert.Empty(t, tr.GetProcessStatus()["p1"].Owns)
	assertConsistent(t, tr)
}

func TestReleaseResource_ZeroMeansAll(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindSemaphore, 4)
	tr.RegisterProcess("p1")
	tr.RequestResource("p1", "r1", 3)

	require.True(t, tr.ReleaseResource("p1", "r1", 0))
	assert.Equal(t, 4, tr.GetResourceStatus()["r1"].Available)
	assertConsistent(t, tr)
}

func TestReleaseResource_NotHolder(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindLock, 1)
	tr.RegisterProcess("p1")
	tr.RegisterProcess("p2")
	tr.RequestResource("p1", "r1", 1)

	assert.False(t, tr.ReleaseResource("p2", "r1", 1))
	assert.False(t, tr.ReleaseResource("ghost", "r1", 1))
	assert.False(t, tr.ReleaseResource("p1", "ghost", 1))
	assert.Equal(t, 0, tr.GetResourceStatus()["r1"].Available)
}

// -----------------------------------------------------------------------------
// Waiter promotion
// -----------------------------------------------------------------------------

func TestPromotion_FIFO(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindLock, 1)
	for _, p := range []string{"p1", "p2", "p3"} {
		tr.RegisterProcess(p)
	}
	tr.RequestResource("p1", "r1", 1)
	tr.RequestResource("p2", "r1", 1)
	tr.RequestResource("p3", "r1", 1)

	require.Equal(t, []string{"p2", "p3"}, tr.GetResourceStatus()["r1"].Waiters)

	// First release promotes the longest waiter.
	tr.ReleaseResource("p1", "r1", 0)
	res := tr.GetResourceStatus()["r1"]
	assert.Equal(t, 1, res.Allocations["p2"])
	assert.Equal(t, []string{"p3"}, res.Waiters)
	assert.Empty(t, tr.GetProcessStatus()["p2"].WaitingFor)

	tr.ReleaseResource("p2", "r1", 0)
	res = tr.GetResourceStatus()["r1"]
	assert.Equal(t, 1, res.Allocations["p3"])
	assert.Empty(t, res.Waiters)
	assertConsistent(t, tr)
}

func TestPromotion_AtMostOnePerRelease(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindSemaphore, 2)
	for _, p := range []string{"p1", "p2", "p3"} {
		tr.RegisterProcess(p)
	}
	tr.RequestResource("p1", "r1", 2)
	tr.RequestResource("p2", "r1", 1)
	tr.RequestResource("p3", "r1", 1)

	// Releasing both instances frees room for both waiters, but only
	// the head of the queue is promoted on this release.
	tr.ReleaseResource("p1", "r1", 0)
	res := tr.GetResourceStatus()["r1"]
	assert.Equal(t, 1, res.Allocations["p2"])
	assert.Equal(t, []string{"p3"}, res.Waiters)
	assert.Equal(t, 1, res.Available)

	tr.ReleaseResource("p2", "r1", 0)
	res = tr.GetResourceStatus()["r1"]
	assert.Equal(t, 1, res.Allocations["p3"])
	assert.Empty(t, res.Waiters)
	assertConsistent(t, tr)
}

func TestPromotion_SkipsOversizedHead(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindSemaphore, 2)
	for _, p := range []string{"p1", "p2", "p3"} {
		tr.RegisterProcess(p)
	}
	tr.RequestResource("p1", "r1", 2)
	tr.RequestResource("p2", "r1", 2) // queued, needs both
	tr.RequestResource("p3", "r1", 1) // queued behind p2

	// Only one instance comes back; the head cannot be satisfied, so
	// the smaller request behind it is promoted instead.
	tr.ReleaseResource("p1", "r1", 1)
	res := tr.GetResourceStatus()["r1"]
	assert.Equal(t, 1, res.Allocations["p3"])
	assert.Equal(t, []string{"p2"}, res.Waiters)
	assert.Equal(t, "r1", tr.GetProcessStatus()["p2"].WaitingFor)

	// The remaining instance comes back; now the head fits.
	tr.ReleaseResource("p1", "r1", 0)
	res = tr.GetResourceStatus()["r1"]
	assert.Equal(t, 2, res.Allocations["p2"])
	assert.Empty(t, res.Waiters)
	assertConsistent(t, tr)
}

func TestPromotion_ReportsElapsedWait(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindLock, 1)
	tr.RegisterProcess("p1")
	tr.RegisterProcess("p2")
	tr.RequestResource("p1", "r1", 1)
	tr.RequestResource("p2", "r1", 1)

	time.Sleep(20 * time.Millisecond)
	tr.ReleaseResource("p1", "r1", 0)

	var found bool
	for _, e := range tr.DrainEvents() {
		if e.Action == ActionResourceAcquiredAfterWait {
			found = true
			assert.Equal(t, "p2", e.ProcessID)
			assert.GreaterOrEqual(t, e.WaitDuration, 10*time.Millisecond)
		}
	}
	assert.True(t, found, "promotion event not recorded")
}

// -----------------------------------------------------------------------------
// Unregistration cascades
// -----------------------------------------------------------------------------

func TestUnregisterProcess_ForceReleasesAndPromotes(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindLock, 1)
	tr.RegisterResource("r2", KindLock, 1)
	for _, p := range []string{"p1", "p2"} {
		tr.RegisterProcess(p)
	}
	tr.RequestResource("p1", "r1", 1)
	tr.RequestResource("p1", "r2", 1)
	tr.RequestResource("p2", "r1", 1) // queued behind p1

	require.True(t, tr.UnregisterProcess("p1"))

	// p1 is gone, r2 is free again, and p2 was promoted on r1.
	_, exists := tr.GetProcessStatus()["p1"]
	assert.False(t, exists)
	assert.Equal(t, 1, tr.GetResourceStatus()["r2"].Available)
	res := tr.GetResourceStatus()["r1"]
	assert.Equal(t, 1, res.Allocations["p2"])
	assert.Empty(t, res.Waiters)
	assertConsistent(t, tr)
}

func TestUnregisterProcess_StripsWaiterEntry(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindLock, 1)
	tr.RegisterProcess("p1")
	tr.RegisterProcess("p2")
	tr.RequestResource("p1", "r1", 1)
	tr.RequestResource("p2", "r1", 1)

	require.True(t, tr.UnregisterProcess("p2"))
	assert.Empty(t, tr.GetResourceStatus()["r1"].Waiters)
	assertConsistent(t, tr)
}

func TestUnregisterProcess_Unknown(t *testing.T) {
	tr := newTestTracker(t)
	assert.False(t, tr.UnregisterProcess("ghost"))
}

func TestUnregisterResource_ReclaimsAndClearsWaits(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindSemaphore, 2)
	for _, p := range []string{"p1", "p2", "p3"} {
		tr.RegisterProcess(p)
	}
	tr.RequestResource("p1", "r1", 1)
	tr.RequestResource("p2", "r1", 1)
	tr.RequestResource("p3", "r1", 1) // queued

	require.True(t, tr.UnregisterResource("r1"))

	_, exists := tr.GetResourceStatus()["r1"]
	assert.False(t, exists)
	for _, p := range []string{"p1", "p2", "p3"} {
		st := tr.GetProcessStatus()[p]
		assert.Empty(t, st.Owns, "process %s should own nothing", p)
		assert.Empty(t, st.WaitingFor, "process %s should not be waiting", p)
	}
	assertConsistent(t, tr)
}

func TestUnregisterResource_Unknown(t *testing.T) {
	tr := newTestTracker(t)
	assert.False(t, tr.UnregisterResource("ghost"))
}

// -----------------------------------------------------------------------------
// Direct state injection
// -----------------------------------------------------------------------------

func TestSetResourceOwner(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindSemaphore, 2)
	tr.RegisterProcess("p1")

	ok, err := tr.SetResourceOwner("r1", "p1", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, tr.GetResourceStatus()["r1"].Available)

	// No capacity left.
	ok, err = tr.SetResourceOwner("r1", "p1", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = tr.SetResourceOwner("r1", "p1", 0)
	assert.ErrorIs(t, err, ErrInvalidInstances)

	ok, err = tr.SetResourceOwner("ghost", "p1", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assertConsistent(t, tr)
}

func TestAddWaiter(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindLock, 1)
	tr.RegisterResource("r2", KindLock, 1)
	tr.RegisterProcess("p1")

	ok, err := tr.AddWaiter("r1", "p1", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "r1", tr.GetProcessStatus()["p1"].WaitingFor)

	// One pending wait per process, and no double queueing.
	ok, err = tr.AddWaiter("r2", "p1", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = tr.AddWaiter("r1", "p1", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = tr.AddWaiter("r1", "p1", -1)
	assert.ErrorIs(t, err, ErrInvalidInstances)
	assertConsistent(t, tr)
}

func TestRemoveWaiter(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindLock, 1)
	tr.RegisterProcess("p1")
	tr.RegisterProcess("p2")
	tr.RequestResource("p1", "r1", 1)
	tr.RequestResource("p2", "r1", 1)

	require.True(t, tr.RemoveWaiter("r1", "p2"))
	assert.Empty(t, tr.GetResourceStatus()["r1"].Waiters)
	assert.Empty(t, tr.GetProcessStatus()["p2"].WaitingFor)

	assert.False(t, tr.RemoveWaiter("r1", "p2"))
	assert.False(t, tr.RemoveWaiter("ghost", "p2"))
	assertConsistent(t, tr)
}

// -----------------------------------------------------------------------------
// Clear and snapshots
// -----------------------------------------------------------------------------

func TestClearAll(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindLock, 1)
	tr.RegisterProcess("p1")
	tr.RequestResource("p1", "r1", 1)

	tr.ClearAll()
	assert.Empty(t, tr.GetResourceStatus())
	assert.Empty(t, tr.GetProcessStatus())

	evts := tr.DrainEvents()
	require.NotEmpty(t, evts)
	assert.Equal(t, ActionSystemCleared, evts[len(evts)-1].Action)
}

func TestSnapshot_Isolation(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindSemaphore, 2)
	tr.RegisterProcess("p1")
	tr.RegisterProcess("p2")
	tr.RequestResource("p1", "r1", 2)
	tr.RequestResource("p2", "r1", 1)

	snap := tr.Snapshot()
	require.False(t, snap.Taken.IsZero())

	// Mutating the snapshot must not leak back into the tracker.
	snap.Resources["r1"].Allocations["p1"] = 99
	delete(snap.Processes, "p2")
	if len(snap.Resources["r1"].Waiters) > 0 {
		snap.Resources["r1"].Waiters[0] = "mutated"
	}

	fresh := tr.Snapshot()
	assert.Equal(t, 2, fresh.Resources["r1"].Allocations["p1"])
	assert.Contains(t, fresh.Processes, "p2")
	assert.Equal(t, []string{"p2"}, fresh.Resources["r1"].Waiters)
}

func TestEventOrder_MatchesOperations(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindLock, 1)
	tr.RegisterProcess("p1")
	tr.RegisterProcess("p2")
	tr.RequestResource("p1", "r1", 1)
	tr.RequestResource("p2", "r1", 1)
	tr.ReleaseResource("p1", "r1", 0)

	got := actions(tr.DrainEvents())
	want := []EventAction{
		ActionResourceRegistered,
		ActionProcessRegistered,
		ActionProcessRegistered,
		ActionResourceAcquired,
		ActionResourceWaiting,
		ActionResourceReleased,
		ActionResourceAcquiredAfterWait,
	}
	assert.Equal(t, want, got)
}

func TestDetectDeadlocks_IsPureQuery(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindLock, 1)
	tr.RegisterResource("r2", KindLock, 1)
	tr.RegisterProcess("p1")
	tr.RegisterProcess("p2")
	tr.RequestResource("p1", "r1", 1)
	tr.RequestResource("p2", "r2", 1)
	tr.RequestResource("p1", "r2", 1)
	tr.RequestResource("p2", "r1", 1)

	tr.DrainEvents()
	cycles := tr.DetectDeadlocks()
	require.Len(t, cycles, 1)
	cycles = tr.DetectDeadlocks()
	require.Len(t, cycles, 1)

	// Repeated detection emitted nothing.
	assert.Empty(t, tr.DrainEvents())
}
