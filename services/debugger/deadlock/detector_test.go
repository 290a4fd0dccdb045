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
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDetector_SimpleCycle(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindLock, 1)
	tr.RegisterResource("r2", KindLock, 1)
	tr.RegisterProcess("p1")
	tr.RegisterProcess("p2")
	tr.RequestResource("p1", "r1", 1)
	tr.RequestResource("p2", "r2", 1)
	tr.RequestResource("p1", "r2", 1)
	tr.RequestResource("p2", "r1", 1)

	cycles := tr.DetectDeadlocks()
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"p1", "p2"}, cycles[0])
}

func TestDetector_NoFalsePositiveOnChain(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindLock, 1)
	tr.RegisterResource("r2", KindLock, 1)
	tr.RegisterProcess("p1")
	tr.RegisterProcess("p2")

	// p1 holds r1 and waits for r2, held by p2, which waits for nothing.
	tr.RequestResource("p1", "r1", 1)
	tr.RequestResource("p2", "r2", 1)
	tr.RequestResource("p1", "r2", 1)

	assert.Empty(t, tr.DetectDeadlocks())
}

func TestDetector_EmptyTracker(t *testing.T) {
	tr := newTestTracker(t)
	assert.Empty(t, tr.DetectDeadlocks())
}

func TestDetector_ThreeProcessRing(t *testing.T) {
	tr := newTestTracker(t)
	for i := 1; i <= 3; i++ {
		tr.RegisterResource(fmt.Sprintf("r%d", i), KindLock, 1)
		tr.RegisterProcess(fmt.Sprintf("p%d", i))
	}
	for i := 1; i <= 3; i++ {
		tr.RequestResource(fmt.Sprintf("p%d", i), fmt.Sprintf("r%d", i), 1)
	}
	tr.RequestResource("p1", "r2", 1)
	tr.RequestResource("p2", "r3", 1)
	tr.RequestResource("p3", "r1", 1)

	cycles := tr.DetectDeadlocks()
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"p1", "p2", "p3"}, cycles[0])
}

func TestDetector_PartialOwnersFormCycle(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("sem", KindSemaphore, 2)
	tr.RegisterResource("lock", KindLock, 1)
	for _, p := range []string{"p1", "p2", "p3"} {
		tr.RegisterProcess(p)
	}

	// p2 and p3 each hold one instance of the semaphore. p1 holds the
	// lock and waits on the semaphore; p2 waits on the lock. The cycle
	// runs through a partial holder.
	tr.SetResourceOwner("sem", "p2", 1)
	tr.SetResourceOwner("sem", "p3", 1)
	tr.SetResourceOwner("lock", "p1", 1)
	tr.AddWaiter("sem", "p1", 1)
	tr.AddWaiter("lock", "p2", 1)

	cycles := tr.DetectDeadlocks()
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"p1", "p2"}, cycles[0])
}

func TestDetector_FallbackAboveNodeLimit(t *testing.T) {
	tr := newTestTracker(t)
	for i := 1; i <= 3; i++ {
		tr.RegisterResource(fmt.Sprintf("r%d", i), KindLock, 1)
		tr.RegisterProcess(fmt.Sprintf("p%d", i))
	}
	for i := 1; i <= 3; i++ {
		tr.SetResourceOwner(fmt.Sprintf("r%d", i), fmt.Sprintf("p%d", i), 1)
	}
	tr.AddWaiter("r2", "p1", 1)
	tr.AddWaiter("r3", "p2", 1)
	tr.AddWaiter("r1", "p3", 1)

	// Three waiting processes with a limit of two forces the bounded
	// search, which must still find the ring.
	det := NewDetector(&Config{DetectNodeLimit: 2}, quietLogger())
	cycles := det.Detect(tr.Snapshot())
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"p1", "p2", "p3"}, cycles[0])
}

func TestDetector_TimeoutYieldsEmpty(t *testing.T) {
	tr := newTestTracker(t)
	tr.RegisterResource("r1", KindLock, 1)
	tr.RegisterResource("r2", KindLock, 1)
	tr.RegisterProcess("p1")
	tr.RegisterProcess("p2")
	tr.SetResourceOwner("r1", "p1", 1)
	tr.SetResourceOwner("r2", "p2", 1)
	tr.AddWaiter("r2", "p1", 1)
	tr.AddWaiter("r1", "p2", 1)

	det := NewDetector(&Config{DetectNodeLimit: 1, DetectTimeout: time.Nanosecond}, quietLogger())
	assert.Empty(t, det.Detect(tr.Snapshot()))
}

func TestDetector_MaxCyclesTruncation(t *testing.T) {
	tr := newTestTracker(t)
	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		tr.RegisterResource(id, KindLock, 1)
	}
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		tr.RegisterProcess(id)
	}

	// Two independent two-process rings.
	tr.SetResourceOwner("r1", "p1", 1)
	tr.SetResourceOwner("r2", "p2", 1)
	tr.AddWaiter("r2", "p1", 1)
	tr.AddWaiter("r1", "p2", 1)

	tr.SetResourceOwner("r3", "p3", 1)
	tr.SetResourceOwner("r4", "p4", 1)
	tr.AddWaiter("r4", "p3", 1)
	tr.AddWaiter("r3", "p4", 1)

	det := NewDetector(&Config{MaxCycles: 1}, quietLogger())
	cycles := det.Detect(tr.Snapshot())
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"p1", "p2"}, cycles[0])
}

func TestDetector_DeterministicOutput(t *testing.T) {
	tr := newTestTracker(t)
	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		tr.RegisterResource(id, KindLock, 1)
	}
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		tr.RegisterProcess(id)
	}
	tr.SetResourceOwner("r1", "p1", 1)
	tr.SetResourceOwner("r2", "p2", 1)
	tr.AddWaiter("r2", "p1", 1)
	tr.AddWaiter("r1", "p2", 1)
	tr.SetResourceOwner("r3", "p3", 1)
	tr.SetResourceOwner("r4", "p4", 1)
	tr.AddWaiter("r4", "p3", 1)
	tr.AddWaiter("r3", "p4", 1)

	first := tr.DetectDeadlocks()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, tr.DetectDeadlocks())
	}
	require.Len(t, first, 2)
	assert.Equal(t, []string{"p1", "p2"}, first[0])
	assert.Equal(t, []string{"p3", "p4"}, first[1])
}
