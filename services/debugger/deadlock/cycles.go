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
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// -----------------------------------------------------------------------------
// Enumerator strategies
// -----------------------------------------------------------------------------

// cycleEnumerator finds elementary cycles in a directed adjacency map.
// Implementations return raw cycles; the detector normalizes them.
type cycleEnumerator interface {
	enumerate(adj map[string][]string, deadline time.Time) ([][]string, error)
}

// johnsonEnumerator finds every elementary cycle via Johnson's algorithm
// as implemented by gonum's topo package. Complete but worst-case
// exponential in the cycle count, so the detector only applies it below
// the configured node limit; the deadline is not consulted mid-run.
type johnsonEnumerator struct{}

func (johnsonEnumerator) enumerate(adj map[string][]string, _ time.Time) (cycles [][]string, err error) {
	// topo panics on malformed graphs rather than returning errors.
	defer func() {
		if r := recover(); r != nil {
			cycles = nil
			err = fmt.Errorf("cycle enumeration panicked: %v", r)
		}
	}()

	ids := make(map[string]int64)
	names := make(map[int64]string)
	idOf := func(name string) int64 {
		id, ok := ids[name]
		if !ok {
			id = int64(len(ids))
			ids[name] = id
			names[id] = name
		}
		return id
	}

	froms := make([]string, 0, len(adj))
	for from := range adj {
		froms = append(froms, from)
	}
	sort.Strings(froms)

	g := simple.NewDirectedGraph()
	for _, from := range froms {
		for _, to := range adj[from] {
			if from == to {
				continue
			}
			g.SetEdge(simple.Edge{F: simple.Node(idOf(from)), T: simple.Node(idOf(to))})
		}
	}
	if g.Nodes().Len() == 0 {
		return nil, nil
	}

	for _, cyc := range topo.DirectedCyclesIn(g) {
		// topo repeats the first node at the end of each cycle.
		if len(cyc) > 1 && cyc[0].ID() == cyc[len(cyc)-1].ID() {
			cyc = cyc[:len(cyc)-1]
		}
		names0 := make([]string, 0, len(cyc))
		for _, n := range cyc {
			names0 = append(names0, names[n.ID()])
		}
		cycles = append(cycles, names0)
	}
	return cycles, nil
}

// dfsEnumerator is a bounded depth-first search that reports back edges
// on the current path as cycles. Cheaper than full enumeration on large
// graphs but may miss some elementary cycles that only pass through
// already-explored nodes; any deadlock still surfaces through at least
// one cycle. Checks the deadline on every node entry.
type dfsEnumerator struct{}

func (dfsEnumerator) enumerate(adj map[string][]string, deadline time.Time) ([][]string, error) {
	roots := make([]string, 0, len(adj))
	for node := range adj {
		roots = append(roots, node)
	}
	sort.Strings(roots)

	var (
		cycles [][]string
		path   []string
		onPath = make(map[string]int)
		done   = make(map[string]bool)
	)

	var visit func(node string) error
	visit = func(node string) error {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return ErrDetectTimeout
		}
		onPath[node] = len(path)
		path = append(path, node)

		for _, next := range adj[node] {
			if i, open := onPath[next]; open {
				cyc := make([]string, len(path)-i)
				copy(cyc, path[i:])
				cycles = append(cycles, cyc)
				continue
			}
			if done[next] {
				continue
			}
			if err := visit(next); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		delete(onPath, node)
		done[node] = true
		return nil
	}

	for _, node := range roots {
		if done[node] {
			continue
		}
		if err := visit(node); err != nil {
			return nil, err
		}
	}
	return cycles, nil
}

// -----------------------------------------------------------------------------
// Normalization
// -----------------------------------------------------------------------------

// normalizeCycle rotates a cycle so its lexicographically smallest node
// comes first while preserving traversal order. Rotations of the same
// cycle then compare equal.
func normalizeCycle(cycle []string) []string {
	if len(cycle) == 0 {
		return cycle
	}
	best := 0
	for i, id := range cycle {
		if id < cycle[best] {
			best = i
		}
	}
	out := make([]string, 0, len(cycle))
	out = append(out, cycle[best:]...)
	out = append(out, cycle[:best]...)
	return out
}

func cycleKey(cycle []string) string {
	return strings.Join(cycle, "\x1f")
}

// normalizeCycles canonicalizes raw enumerator output: every cycle is
// rotated to its canonical form, duplicates are dropped, the result is
// ordered by length then node ids, and truncated to max when max > 0.
func normalizeCycles(raw [][]string, max int) [][]string {
	if len(raw) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([][]string, 0, len(raw))
	for _, c := range raw {
		if len(c) == 0 {
			continue
		}
		n := normalizeCycle(c)
		key := cycleKey(n)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})

	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
