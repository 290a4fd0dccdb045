// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command ipcscope inspects interprocess resource contention.
//
// The CLI has three entry points:
//
//	ipcscope serve      # host the debugger API with live deadlock detection
//	ipcscope simulate   # build a ring deadlock in-process and report it
//	ipcscope scenario   # run or check declarative scenario files
//
// Usage:
//
//	ipcscope serve --listen 127.0.0.1:8099 --scenario-dir ./scenarios
//	ipcscope simulate --processes 4 --resources 4
//	ipcscope scenario run examples/circular_wait.yaml
//	ipcscope scenario check ./scenarios
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ipcscope/cmd/ipcscope/config"
	"github.com/AleutianAI/ipcscope/pkg/logging"
	"github.com/AleutianAI/ipcscope/pkg/ux"
)

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	flagConfig    string // explicit config file path
	flagLogLevel  string // debug, info, warn, error
	flagLogFormat string // auto, text, json
	flagPlain     bool   // disable styled output

	appLogger *logging.Logger
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "ipcscope",
	Short: "A debugger for interprocess resource contention and deadlock",
	Long: `ipcscope tracks which processes own and wait on shared resources,
detects circular waits as they form, and serves the state over an HTTP
and WebSocket API for live inspection.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		if flagPlain {
			ux.SetPlain(true)
		}
		return setupLogger()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appLogger != nil {
			_ = appLogger.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "",
		"Config file path (default ~/.ipcscope/ipcscope.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides the config file)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "",
		"Log format: auto, text, json (overrides the config file)")
	rootCmd.PersistentFlags().BoolVar(&flagPlain, "plain", false,
		"Disable styled terminal output")
}

func loadConfig() error {
	if flagConfig != "" {
		return config.LoadFile(flagConfig)
	}
	return config.Load()
}

// setupLogger builds the process logger from the config file with flag
// overrides applied on top.
func setupLogger() error {
	levelStr := config.Global.Logging.Level
	if flagLogLevel != "" {
		levelStr = flagLogLevel
	}
	level, err := logging.ParseLevel(levelStr)
	if err != nil {
		return err
	}

	format := config.Global.Logging.Format
	if flagLogFormat != "" {
		format = flagLogFormat
	}

	appLogger = logging.New(logging.Config{
		Level:   level,
		Format:  format,
		LogDir:  config.Global.Logging.Dir,
		Service: "ipcscope",
	})
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
