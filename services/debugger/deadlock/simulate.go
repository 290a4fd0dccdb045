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

	"github.com/google/uuid"
)

// SimulateDeadlock stages a circular contention pattern for demos and
// detector verification.
//
// Description:
//
//	Registers the requested number of single-instance resources and
//	processes under a fresh run id, then arranges a ring over the first
//	k = min(processes, resources) of each: process i holds resource i
//	and waits on resource (i+1) mod k. The ring is a guaranteed wait-for
//	cycle, so the next detection pass will report it. Entities beyond k
//	are registered but left idle. Ids are prefixed with the run id, so
//	repeated simulations coexist without collisions.
//
// Inputs:
//   - processes: Number of processes to register. Must be >= 2.
//   - resources: Number of resources to register. Must be >= 2.
//
// Outputs:
//   - *Simulation: The run id and the registered entity ids.
//   - error: ErrInvalidSimulation if either count is below 2.
func (t *Tracker) SimulateDeadlock(processes, resources int) (*Simulation, error) {
	if processes < 2 || resources < 2 {
		return nil, fmt.Errorf("%w: need at least 2 processes and 2 resources, got %d and %d",
			ErrInvalidSimulation, processes, resources)
	}

	runID := uuid.NewString()[:8]
	sim := &Simulation{
		RunID:     runID,
		Processes: make([]string, 0, processes),
		Resources: make([]string, 0, resources),
	}

	for i := 0; i < resources; i++ {
		id := fmt.Sprintf("sim-%s-res-%d", runID, i)
		if _, err := t.RegisterResource(id, KindLock, 1); err != nil {
			return nil, err
		}
		sim.Resources = append(sim.Resources, id)
	}
	for i := 0; i < processes; i++ {
		id := fmt.Sprintf("sim-%s-proc-%d", runID, i)
		t.RegisterProcess(id)
		sim.Processes = append(sim.Processes, id)
	}

	k := processes
	if resources < k {
		k = resources
	}
	for i := 0; i < k; i++ {
		if _, err := t.SetResourceOwner(sim.Resources[i], sim.Processes[i], 1); err != nil {
			return nil, err
		}
	}
	for i := 0; i < k; i++ {
		if _, err := t.AddWaiter(sim.Resources[(i+1)%k], sim.Processes[i], 1); err != nil {
			return nil, err
		}
	}

	t.logger.Info("deadlock simulation staged",
		slog.String("run_id", runID),
		slog.Int("processes", processes),
		slog.Int("resources", resources),
		slog.Int("ring_size", k),
	)
	return sim, nil
}
