// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// generate_scenarios emits ring-deadlock scenario files for stress and
// demo use.
//
// Usage:
//
//	go run scripts/generate_scenarios.go -size 10 > scenarios/ring10.yaml
//	go run scripts/generate_scenarios.go -size 4 -kind semaphore -instances 2
//
// The generated scenario registers N processes and N resources, has
// each process take one resource, then has each wait on the next so
// the ring closes into a single cycle of length N.
package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ipcscope/services/debugger/scenario"
)

func main() {
	size := flag.Int("size", 3, "Ring size (processes and resources, minimum 2)")
	kind := flag.String("kind", "lock", "Resource kind: lock, semaphore, shared_memory, pipe, queue")
	instances := flag.Int("instances", 1, "Instances per resource")
	flag.Parse()

	if *size < 2 {
		fmt.Fprintln(os.Stderr, "ring size must be at least 2")
		os.Exit(1)
	}

	s := buildRing(*size, *kind, *instances)
	if err := s.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "generated scenario failed validation: %v\n", err)
		os.Exit(1)
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode: %v\n", err)
		os.Exit(1)
	}
	enc.Close()
}

// buildRing arranges N processes in a circular wait over N resources.
func buildRing(n int, kind string, instances int) *scenario.Scenario {
	s := &scenario.Scenario{
		Name:        fmt.Sprintf("ring-%d", n),
		Description: fmt.Sprintf("Generated circular wait over %d %s resources.", n, kind),
	}
	for i := 0; i < n; i++ {
		s.Resources = append(s.Resources, scenario.ResourceDecl{
			ID:        fmt.Sprintf("r%d", i+1),
			Kind:      kind,
			Instances: instances,
		})
		s.Processes = append(s.Processes, fmt.Sprintf("p%d", i+1))
	}
	// Ownership first so every wait step finds its target held.
	for i := 0; i < n; i++ {
		s.Steps = append(s.Steps, scenario.Step{
			Op:       scenario.OpOwn,
			Process:  fmt.Sprintf("p%d", i+1),
			Resource: fmt.Sprintf("r%d", i+1),
		})
	}
	for i := 0; i < n; i++ {
		s.Steps = append(s.Steps, scenario.Step{
			Op:       scenario.OpWait,
			Process:  fmt.Sprintf("p%d", i+1),
			Resource: fmt.Sprintf("r%d", (i+1)%n+1),
		})
	}
	return s
}
