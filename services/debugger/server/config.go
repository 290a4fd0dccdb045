// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig reports a server configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid server configuration")

// Config controls the HTTP host surface.
type Config struct {
	// ListenAddr is the host:port the server binds.
	// Default: "127.0.0.1:8099". Use ":8099" to listen on all interfaces.
	ListenAddr string

	// ReadTimeout bounds reading a request, header through body.
	// Default: 15s.
	ReadTimeout time.Duration

	// WriteTimeout bounds writing a response. WebSocket connections are
	// exempt because gorilla hijacks the connection before it applies.
	// Default: 15s.
	WriteTimeout time.Duration

	// ShutdownTimeout bounds the graceful drain after the run context
	// is cancelled. Default: 10s.
	ShutdownTimeout time.Duration

	// AllowedOrigins lists Origin header values accepted for WebSocket
	// upgrades. Empty allows any origin, which suits the local single
	// user deployments this tool targets.
	AllowedOrigins []string

	// ScenarioDir, when set, is loaded and applied at startup and then
	// watched so edited scenario files are re-applied live.
	// Default: "" (disabled).
	ScenarioDir string

	// Debug switches gin into debug mode with request logging.
	// Default: false.
	Debug bool
}

// DefaultConfig returns the settings for a local single-user server.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      "127.0.0.1:8099",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen address must not be empty", ErrInvalidConfig)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("%w: read timeout must not be negative, got %v", ErrInvalidConfig, c.ReadTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("%w: write timeout must not be negative, got %v", ErrInvalidConfig, c.WriteTimeout)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: shutdown timeout must not be negative, got %v", ErrInvalidConfig, c.ShutdownTimeout)
	}
	return nil
}
