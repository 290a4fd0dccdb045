// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

// ScopeConfig is the on-disk configuration for the ipcscope CLI.
//
// Durations are strings in Go syntax ("500ms", "2s") so the YAML stays
// hand-editable; the commands parse them when building the services.
type ScopeConfig struct {
	// Server configures the debugger API host.
	Server ServerConfig `yaml:"server"`

	// Tracker configures the allocation tracker and detector.
	Tracker TrackerConfig `yaml:"tracker"`

	// Logging configures the CLI logger.
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry configures trace and metric export.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`               // e.g. 127.0.0.1:8099
	ScenarioDir    string   `yaml:"scenario_dir,omitempty"`    // watched scenario directory
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"` // WebSocket origin allowlist
	Debug          bool     `yaml:"debug"`                     // gin debug mode
}

type TrackerConfig struct {
	LogCapacity     int    `yaml:"log_capacity"`      // event ring size
	MonitorInterval string `yaml:"monitor_interval"`  // background scan period
	DetectTimeout   string `yaml:"detect_timeout"`    // per-pass budget
	DetectNodeLimit int    `yaml:"detect_node_limit"` // exact-enumeration ceiling
	MaxCycles       int    `yaml:"max_cycles"`        // reported cycles cap
	EnableMetrics   bool   `yaml:"enable_metrics"`
}

type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
	// Format is auto, text, or json.
	Format string `yaml:"format"`
	// Dir enables a JSON file sink when set.
	Dir string `yaml:"dir,omitempty"`
}

type TelemetryConfig struct {
	// TraceExporter can be "otlp", "stdout", or "none".
	TraceExporter string `yaml:"trace_exporter"`
	// MetricExporter can be "prometheus", "stdout", or "none".
	MetricExporter string `yaml:"metric_exporter"`
	// OTLPEndpoint is the OTLP receiver for traces.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
}

func DefaultConfig() ScopeConfig {
	return ScopeConfig{
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8099",
		},
		Tracker: TrackerConfig{
			LogCapacity:     1000,
			MonitorInterval: "500ms",
			DetectTimeout:   "250ms",
			DetectNodeLimit: 50,
			MaxCycles:       100,
			EnableMetrics:   true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}
