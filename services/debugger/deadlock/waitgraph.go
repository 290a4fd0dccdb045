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

import "sort"

// buildWaitGraph derives the wait-for adjacency from a snapshot.
//
// Description:
//
//	An edge p -> q exists when process p is waiting on a resource of
//	which process q currently holds at least one instance. Partial
//	holders count: with multi-instance resources a waiter is blocked by
//	every current holder, since any of them releasing may unblock it.
//	Self-edges are never produced, and processes with no outgoing edges
//	do not appear as keys.
//
//	Iteration is in sorted id order so the same snapshot always yields
//	the same adjacency, which keeps detection output stable.
func buildWaitGraph(snap *Snapshot) map[string][]string {
	if snap == nil || len(snap.Processes) == 0 {
		return nil
	}

	pids := make([]string, 0, len(snap.Processes))
	for pid := range snap.Processes {
		pids = append(pids, pid)
	}
	sort.Strings(pids)

	adj := make(map[string][]string)
	for _, pid := range pids {
		proc := snap.Processes[pid]
		if proc.WaitingFor == "" {
			continue
		}
		res, ok := snap.Resources[proc.WaitingFor]
		if !ok || len(res.Allocations) == 0 {
			continue
		}

		owners := make([]string, 0, len(res.Allocations))
		for owner := range res.Allocations {
			if owner == pid {
				continue
			}
			owners = append(owners, owner)
		}
		if len(owners) == 0 {
			continue
		}
		sort.Strings(owners)
		adj[pid] = owners
	}
	return adj
}
