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
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ipcscope/pkg/ux"
	"github.com/AleutianAI/ipcscope/services/debugger/deadlock"
	"github.com/AleutianAI/ipcscope/services/debugger/scenario"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	scenarioJSON           bool // machine-readable report
	scenarioFailOnDeadlock bool // nonzero exit when a cycle is found
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Run or validate declarative contention scenarios",
	Long: `Scenario files declare resources, processes, and a step list
(own, wait, request, release) in YAML. Run applies one against a fresh
tracker and reports the outcome; check validates files without running
them.`,
}

// scenarioRunCmd applies one scenario file.
//
// # Description
//
// Loads the file, applies every step to a fresh in-process tracker,
// runs detection, and prints the per-step outcomes plus any cycles.
//
// # Examples
//
//	ipcscope scenario run examples/circular_wait.yaml
//	ipcscope scenario run deadlock.yaml --json
//	ipcscope scenario run deadlock.yaml --fail-on-deadlock   # for CI
var scenarioRunCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Apply a scenario file against a fresh tracker",
	Args:  cobra.ExactArgs(1),
	RunE:  runScenarioRunCommand,
}

// scenarioCheckCmd validates scenario files.
//
// # Description
//
// Parses and validates one file or every scenario file in a directory
// without applying anything. Reports each file's result and fails if
// any file is invalid.
//
// # Examples
//
//	ipcscope scenario check deadlock.yaml
//	ipcscope scenario check ./scenarios
var scenarioCheckCmd = &cobra.Command{
	Use:   "check [file or directory]",
	Short: "Validate scenario files without running them",
	Args:  cobra.ExactArgs(1),
	RunE:  runScenarioCheckCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	rootCmd.AddCommand(scenarioCmd)
	scenarioCmd.AddCommand(scenarioRunCmd)
	scenarioCmd.AddCommand(scenarioCheckCmd)
	scenarioRunCmd.Flags().BoolVar(&scenarioJSON, "json", false,
		"Output the report as JSON for scripting")
	scenarioRunCmd.Flags().BoolVar(&scenarioFailOnDeadlock, "fail-on-deadlock", false,
		"Exit with an error when the scenario produces a deadlock")
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

func runScenarioRunCommand(cmd *cobra.Command, args []string) error {
	logger := appLogger.Slog()

	sc, err := scenario.Load(args[0])
	if err != nil {
		return err
	}

	tracker, err := deadlock.NewTracker(&deadlock.Config{}, logger)
	if err != nil {
		return fmt.Errorf("failed to build the tracker: %w", err)
	}
	runner, err := scenario.NewRunner(tracker, logger)
	if err != nil {
		return fmt.Errorf("failed to build the runner: %w", err)
	}

	report := runner.Apply(sc)

	if scenarioJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		ux.Title("Scenario " + report.Scenario)
		for _, step := range report.Steps {
			detail := step.Detail
			if step.Error != "" {
				detail = step.Error
			}
			// Report indexes are zero-based; people count from one.
			ux.StepLine(step.Index+1, describeStep(step), step.OK, detail)
		}
		ux.Summary(report.Succeeded, report.Failed, len(report.Cycles))
		ux.CycleList(report.Cycles)
	}

	if scenarioFailOnDeadlock && len(report.Cycles) > 0 {
		return fmt.Errorf("scenario %q produced %d deadlock cycle(s)",
			report.Scenario, len(report.Cycles))
	}
	return nil
}

// describeStep renders one step as "op process resource [xN]".
func describeStep(step scenario.StepResult) string {
	parts := []string{string(step.Op)}
	if step.Process != "" {
		parts = append(parts, step.Process)
	}
	if step.Resource != "" {
		parts = append(parts, step.Resource)
	}
	if step.Instances > 1 {
		parts = append(parts, fmt.Sprintf("x%d", step.Instances))
	}
	return strings.Join(parts, " ")
}

func runScenarioCheckCommand(cmd *cobra.Command, args []string) error {
	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot check %s: %w", path, err)
	}

	paths := []string{path}
	if info.IsDir() {
		paths, err = scenarioFilesIn(path)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return fmt.Errorf("no scenario files found in %s", path)
		}
	}

	invalid := 0
	for _, p := range paths {
		sc, err := scenario.Load(p)
		if err != nil {
			invalid++
			ux.Error(fmt.Sprintf("%s: %v", p, err))
			continue
		}
		ux.Success(fmt.Sprintf("%s: scenario %q, %d resources, %d processes, %d steps",
			p, sc.Name, len(sc.Resources), len(sc.Processes), len(sc.Steps)))
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d scenario file(s) invalid", invalid, len(paths))
	}
	return nil
}

// scenarioFilesIn lists the *.yaml and *.yml files directly under dir,
// sorted by name.
func scenarioFilesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read the directory: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
