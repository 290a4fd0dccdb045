// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ipcscope/pkg/ux"
	"github.com/AleutianAI/ipcscope/services/debugger/deadlock"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	simProcesses int  // ring size, processes
	simResources int  // ring size, resources
	simJSON      bool // machine-readable output
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// simulateCmd builds a ring deadlock in-process.
//
// # Description
//
// Registers N processes and M resources, arranges a circular wait
// (each process owns one resource and waits on the next), runs
// detection, and prints the cycle. A quick way to see the detector
// work without wiring real processes.
//
// # Examples
//
//	ipcscope simulate                      # 3 processes, 3 resources
//	ipcscope simulate -p 5 -r 5            # a larger ring
//	ipcscope simulate --json               # machine-readable report
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Build a ring deadlock in-process and report the cycle",
	Long: `Constructs a synthetic circular wait and runs detection on it.

Each simulated process owns one resource and waits for the next, so the
ring closes into exactly one deadlock cycle.

Examples:
  ipcscope simulate
  ipcscope simulate --processes 5 --resources 5
  ipcscope simulate --json`,
	RunE: runSimulateCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().IntVarP(&simProcesses, "processes", "p", 3,
		"Number of simulated processes (minimum 2)")
	simulateCmd.Flags().IntVarP(&simResources, "resources", "r", 3,
		"Number of simulated resources (minimum 2)")
	simulateCmd.Flags().BoolVar(&simJSON, "json", false,
		"Output as JSON for scripting")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// simulateReport is the machine-readable simulate output.
type simulateReport struct {
	RunID     string     `json:"run_id"`
	Processes []string   `json:"processes"`
	Resources []string   `json:"resources"`
	Cycles    [][]string `json:"cycles"`
}

func runSimulateCommand(cmd *cobra.Command, args []string) error {
	logger := appLogger.Slog()

	tracker, err := deadlock.NewTracker(&deadlock.Config{}, logger)
	if err != nil {
		return fmt.Errorf("failed to build the tracker: %w", err)
	}

	sim, err := tracker.SimulateDeadlock(simProcesses, simResources)
	if err != nil {
		return err
	}
	cycles := tracker.DetectDeadlocks()

	if simJSON {
		report := simulateReport{
			RunID:     sim.RunID,
			Processes: sim.Processes,
			Resources: sim.Resources,
			Cycles:    cycles,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	ux.Title("Simulated ring deadlock")
	ux.Muted(fmt.Sprintf("run %s: %d processes over %d resources",
		sim.RunID, len(sim.Processes), len(sim.Resources)))
	ux.CycleList(cycles)
	return nil
}
