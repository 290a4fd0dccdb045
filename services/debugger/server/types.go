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
	"github.com/AleutianAI/ipcscope/services/debugger/deadlock"
)

// RegisterResourceRequest is the request body for POST /api/v1/resources.
type RegisterResourceRequest struct {
	// ID is the resource identifier. Required.
	ID string `json:"id" binding:"required"`

	// Kind classifies the resource. Default: "lock".
	Kind string `json:"kind" binding:"omitempty,oneof=lock semaphore shared_memory pipe queue"`

	// Instances is the total capacity. Default: 1. Negative values are
	// rejected by the tracker, not the binding layer.
	Instances int `json:"instances"`
}

// RegisterResourceResponse is the response for POST /api/v1/resources.
type RegisterResourceResponse struct {
	// ID echoes the resource identifier.
	ID string `json:"id"`

	// Registered is false when the id already existed.
	Registered bool `json:"registered"`
}

// RegisterProcessRequest is the request body for POST /api/v1/processes.
type RegisterProcessRequest struct {
	// ID is the process identifier. Required.
	ID string `json:"id" binding:"required"`
}

// RegisterProcessResponse is the response for POST /api/v1/processes.
type RegisterProcessResponse struct {
	// ID echoes the process identifier.
	ID string `json:"id"`

	// Registered is false when the id already existed.
	Registered bool `json:"registered"`
}

// RemoveResponse is the response for the DELETE routes.
type RemoveResponse struct {
	// ID echoes the removed identifier.
	ID string `json:"id"`

	// Removed is false when the id was unknown.
	Removed bool `json:"removed"`
}

// AcquireRequest is the request body for POST /api/v1/requests.
type AcquireRequest struct {
	// ProcessID is the requesting process. Required.
	ProcessID string `json:"process_id" binding:"required"`

	// ResourceID is the requested resource. Required.
	ResourceID string `json:"resource_id" binding:"required"`

	// Instances is the requested count. Default: 1.
	Instances int `json:"instances"`
}

// AcquireResponse is the response for POST /api/v1/requests.
type AcquireResponse struct {
	// Granted reports whether the allocation happened immediately.
	// False means the process was queued, or the request was refused
	// because an id was unknown or the process already waits elsewhere.
	Granted bool `json:"granted"`
}

// ReleaseRequest is the request body for POST /api/v1/releases.
type ReleaseRequest struct {
	// ProcessID is the holding process. Required.
	ProcessID string `json:"process_id" binding:"required"`

	// ResourceID is the held resource. Required.
	ResourceID string `json:"resource_id" binding:"required"`

	// Instances is the count to release. Zero or omitted releases the
	// process's full allocation.
	Instances int `json:"instances"`
}

// ReleaseResponse is the response for POST /api/v1/releases.
type ReleaseResponse struct {
	// Released is false when the process held nothing on the resource.
	Released bool `json:"released"`
}

// OwnerRequest is the request body for POST /api/v1/owners.
type OwnerRequest struct {
	// ResourceID is the resource to inject state into. Required.
	ResourceID string `json:"resource_id" binding:"required"`

	// ProcessID is the owner to record. Required.
	ProcessID string `json:"process_id" binding:"required"`

	// Instances is the count to allocate. Default: 1.
	Instances int `json:"instances"`
}

// OwnerResponse is the response for POST /api/v1/owners.
type OwnerResponse struct {
	// Applied is false when an id was unknown or capacity was exceeded.
	Applied bool `json:"applied"`
}

// WaiterRequest is the request body for POST /api/v1/waiters.
type WaiterRequest struct {
	// ResourceID is the resource to queue on. Required.
	ResourceID string `json:"resource_id" binding:"required"`

	// ProcessID is the process to enqueue. Required.
	ProcessID string `json:"process_id" binding:"required"`

	// Instances is the waited-for count. Default: 1.
	Instances int `json:"instances"`
}

// WaiterResponse is the response for POST /api/v1/waiters.
type WaiterResponse struct {
	// Queued is false when an id was unknown or the process already waits.
	Queued bool `json:"queued"`
}

// RemoveWaiterRequest is the request body for DELETE /api/v1/waiters.
type RemoveWaiterRequest struct {
	// ResourceID is the resource whose queue is edited. Required.
	ResourceID string `json:"resource_id" binding:"required"`

	// ProcessID is the waiter to remove. Required.
	ProcessID string `json:"process_id" binding:"required"`
}

// ResourcesResponse is the response for GET /api/v1/resources.
type ResourcesResponse struct {
	// Count is the number of registered resources.
	Count int `json:"count"`

	// Resources maps resource id to its status.
	Resources map[string]deadlock.ResourceStatus `json:"resources"`
}

// ProcessesResponse is the response for GET /api/v1/processes.
type ProcessesResponse struct {
	// Count is the number of registered processes.
	Count int `json:"count"`

	// Processes maps process id to its status.
	Processes map[string]deadlock.ProcessStatus `json:"processes"`
}

// DeadlocksResponse is the response for GET /api/v1/deadlocks.
type DeadlocksResponse struct {
	// Count is the number of distinct cycles found.
	Count int `json:"count"`

	// Cycles lists the process ids of each cycle, smallest id first.
	Cycles [][]string `json:"cycles"`
}

// EventsResponse is the response for GET /api/v1/events.
//
// Reading this endpoint drains the event log. Use GET /api/v1/logs for
// a non-destructive view.
type EventsResponse struct {
	// Count is the number of drained events.
	Count int `json:"count"`

	// Events holds the drained events in append order.
	Events []deadlock.Event `json:"events"`
}

// LogsResponse is the response for GET /api/v1/logs.
type LogsResponse struct {
	// Count is the number of formatted entries.
	Count int `json:"count"`

	// Entries holds the formatted entries, oldest first. Reading the
	// log does not consume it.
	Entries []deadlock.LogEntry `json:"entries"`
}

// SimulateRequest is the request body for POST /api/v1/simulate.
type SimulateRequest struct {
	// Processes is the number of processes to generate. Minimum 2.
	Processes int `json:"processes" binding:"required"`

	// Resources is the number of resources to generate. Minimum 2.
	Resources int `json:"resources" binding:"required"`
}

// SimulateResponse is the response for POST /api/v1/simulate.
type SimulateResponse struct {
	// RunID is the suffix shared by the generated ids.
	RunID string `json:"run_id"`

	// Processes lists the generated process ids.
	Processes []string `json:"processes"`

	// Resources lists the generated resource ids.
	Resources []string `json:"resources"`

	// Cycles holds the deadlocks detected right after staging.
	Cycles [][]string `json:"cycles"`
}

// MonitorStateResponse is the response for GET /api/v1/monitor.
type MonitorStateResponse struct {
	// Running reports whether the scan loop is active.
	Running bool `json:"running"`

	// Interval is the scan period, formatted as a Go duration.
	Interval string `json:"interval"`
}

// MonitorToggleResponse is the response for the monitor start/stop routes.
type MonitorToggleResponse struct {
	// Running is the state after the call.
	Running bool `json:"running"`

	// Changed is false when the call was a no-op.
	Changed bool `json:"changed"`
}

// ClearResponse is the response for POST /api/v1/clear.
type ClearResponse struct {
	// Status is always "cleared".
	Status string `json:"status"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	// Status is "healthy" whenever the server can answer.
	Status string `json:"status"`

	// Version is the server version.
	Version string `json:"version"`

	// MonitorRunning reports the background scan loop state.
	MonitorRunning bool `json:"monitor_running"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}
