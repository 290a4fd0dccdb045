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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/ipcscope/services/debugger/deadlock"
	"github.com/AleutianAI/ipcscope/services/debugger/scenario"
)

// Version is the ipcscope server version.
const Version = "0.1.0"

// Handlers contains the HTTP handlers for the debugger API.
type Handlers struct {
	tracker *deadlock.Tracker
	runner  *scenario.Runner
	monitor *deadlock.Monitor
	logger  *slog.Logger

	allowedOrigins []string
}

// NewHandlers creates handlers over the given tracker, runner, and monitor.
func NewHandlers(tracker *deadlock.Tracker, runner *scenario.Runner,
	monitor *deadlock.Monitor, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		tracker: tracker,
		runner:  runner,
		monitor: monitor,
		logger:  logger.With(slog.String("component", "debugger_api")),
	}
}

// WithAllowedOrigins restricts WebSocket upgrades to the listed origins.
//
// An empty list keeps the default of accepting any origin.
func (h *Handlers) WithAllowedOrigins(origins []string) *Handlers {
	h.allowedOrigins = origins
	return h
}

// HandleHealth handles GET /health.
//
// Description:
//
//	Returns liveness plus the background monitor state. Always 200
//	while the process can answer.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:         "healthy",
		Version:        Version,
		MonitorRunning: h.monitor.Running(),
	})
}

// HandleRegisterResource handles POST /api/v1/resources.
//
// Description:
//
//	Registers a resource with a kind and an instance count. Registering
//	an existing id is a no-op reported through Registered=false.
//
// Request Body:
//
//	RegisterResourceRequest
//
// Response:
//
//	200 OK: RegisterResourceResponse
//	400 Bad Request: Validation error or a non-positive instance count
func (h *Handlers) HandleRegisterResource(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleRegisterResource")

	var req RegisterResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if req.Instances == 0 {
		req.Instances = 1
	}

	registered, err := h.tracker.RegisterResource(req.ID, deadlock.ResourceKind(req.Kind), req.Instances)
	if err != nil {
		logger.Warn("resource registration rejected", "resource_id", req.ID, "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_INSTANCES",
		})
		return
	}

	c.JSON(http.StatusOK, RegisterResourceResponse{ID: req.ID, Registered: registered})
}

// HandleUnregisterResource handles DELETE /api/v1/resources/:id.
//
// Description:
//
//	Unregisters a resource, force-releasing its owners and clearing its
//	waiters first.
//
// Response:
//
//	200 OK: RemoveResponse (Removed=true)
//	404 Not Found: RemoveResponse (Removed=false)
func (h *Handlers) HandleUnregisterResource(c *gin.Context) {
	id := c.Param("id")
	removed := h.tracker.UnregisterResource(id)

	status := http.StatusOK
	if !removed {
		status = http.StatusNotFound
	}
	c.JSON(status, RemoveResponse{ID: id, Removed: removed})
}

// HandleListResources handles GET /api/v1/resources.
//
// Response:
//
//	200 OK: ResourcesResponse
func (h *Handlers) HandleListResources(c *gin.Context) {
	resources := h.tracker.GetResourceStatus()
	c.JSON(http.StatusOK, ResourcesResponse{
		Count:     len(resources),
		Resources: resources,
	})
}

// HandleRegisterProcess handles POST /api/v1/processes.
//
// Request Body:
//
//	RegisterProcessRequest
//
// Response:
//
//	200 OK: RegisterProcessResponse
//	400 Bad Request: Validation error
func (h *Handlers) HandleRegisterProcess(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleRegisterProcess")

	var req RegisterProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	registered := h.tracker.RegisterProcess(req.ID)
	c.JSON(http.StatusOK, RegisterProcessResponse{ID: req.ID, Registered: registered})
}

// HandleUnregisterProcess handles DELETE /api/v1/processes/:id.
//
// Description:
//
//	Unregisters a process, releasing everything it holds. Freed
//	instances flow to queued waiters before the process disappears.
//
// Response:
//
//	200 OK: RemoveResponse (Removed=true)
//	404 Not Found: RemoveResponse (Removed=false)
func (h *Handlers) HandleUnregisterProcess(c *gin.Context) {
	id := c.Param("id")
	removed := h.tracker.UnregisterProcess(id)

	status := http.StatusOK
	if !removed {
		status = http.StatusNotFound
	}
	c.JSON(status, RemoveResponse{ID: id, Removed: removed})
}

// HandleListProcesses handles GET /api/v1/processes.
//
// Response:
//
//	200 OK: ProcessesResponse
func (h *Handlers) HandleListProcesses(c *gin.Context) {
	processes := h.tracker.GetProcessStatus()
	c.JSON(http.StatusOK, ProcessesResponse{
		Count:     len(processes),
		Processes: processes,
	})
}

// HandleRequest handles POST /api/v1/requests.
//
// Description:
//
//	Requests instances of a resource for a process. Grants immediately
//	when capacity allows, otherwise queues the process FIFO. Granted is
//	false for queued and for refused requests alike; the process status
//	endpoint shows which.
//
// Request Body:
//
//	AcquireRequest
//
// Response:
//
//	200 OK: AcquireResponse
//	400 Bad Request: Validation error or a non-positive instance count
func (h *Handlers) HandleRequest(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleRequest")

	var req AcquireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if req.Instances == 0 {
		req.Instances = 1
	}

	granted, err := h.tracker.RequestResource(req.ProcessID, req.ResourceID, req.Instances)
	if err != nil {
		logger.Warn("request rejected",
			"process_id", req.ProcessID,
			"resource_id", req.ResourceID,
			"error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_INSTANCES",
		})
		return
	}

	c.JSON(http.StatusOK, AcquireResponse{Granted: granted})
}

// HandleRelease handles POST /api/v1/releases.
//
// Description:
//
//	Releases instances a process holds. Zero or omitted instances
//	releases the full allocation. Freed instances are offered to the
//	first satisfiable queued waiter.
//
// Request Body:
//
//	ReleaseRequest
//
// Response:
//
//	200 OK: ReleaseResponse
//	400 Bad Request: Validation error
func (h *Handlers) HandleRelease(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleRelease")

	var req ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	released := h.tracker.ReleaseResource(req.ProcessID, req.ResourceID, req.Instances)
	c.JSON(http.StatusOK, ReleaseResponse{Released: released})
}

// HandleSetOwner handles POST /api/v1/owners.
//
// Description:
//
//	Directly injects an allocation, bypassing the request queue. Meant
//	for staging observed states to analyze.
//
// Request Body:
//
//	OwnerRequest
//
// Response:
//
//	200 OK: OwnerResponse
//	400 Bad Request: Validation error or a non-positive instance count
func (h *Handlers) HandleSetOwner(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleSetOwner")

	var req OwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if req.Instances == 0 {
		req.Instances = 1
	}

	applied, err := h.tracker.SetResourceOwner(req.ResourceID, req.ProcessID, req.Instances)
	if err != nil {
		logger.Warn("owner injection rejected",
			"resource_id", req.ResourceID,
			"process_id", req.ProcessID,
			"error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_INSTANCES",
		})
		return
	}

	c.JSON(http.StatusOK, OwnerResponse{Applied: applied})
}

// HandleAddWaiter handles POST /api/v1/waiters.
//
// Description:
//
//	Directly enqueues a process on a resource's wait queue, bypassing
//	the availability check. Meant for staging observed states.
//
// Request Body:
//
//	WaiterRequest
//
// Response:
//
//	200 OK: WaiterResponse
//	400 Bad Request: Validation error or a non-positive instance count
func (h *Handlers) HandleAddWaiter(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleAddWaiter")

	var req WaiterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if req.Instances == 0 {
		req.Instances = 1
	}

	queued, err := h.tracker.AddWaiter(req.ResourceID, req.ProcessID, req.Instances)
	if err != nil {
		logger.Warn("waiter injection rejected",
			"resource_id", req.ResourceID,
			"process_id", req.ProcessID,
			"error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_INSTANCES",
		})
		return
	}

	c.JSON(http.StatusOK, WaiterResponse{Queued: queued})
}

// HandleRemoveWaiter handles DELETE /api/v1/waiters.
//
// Request Body:
//
//	RemoveWaiterRequest
//
// Response:
//
//	200 OK: RemoveResponse keyed by the process id
//	400 Bad Request: Validation error
func (h *Handlers) HandleRemoveWaiter(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleRemoveWaiter")

	var req RemoveWaiterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	removed := h.tracker.RemoveWaiter(req.ResourceID, req.ProcessID)
	c.JSON(http.StatusOK, RemoveResponse{ID: req.ProcessID, Removed: removed})
}

// HandleClear handles POST /api/v1/clear.
//
// Description:
//
//	Drops every resource, process, and queued waiter. The event log
//	keeps its history plus a trailing cleared marker.
//
// Response:
//
//	200 OK: ClearResponse
func (h *Handlers) HandleClear(c *gin.Context) {
	h.tracker.ClearAll()
	c.JSON(http.StatusOK, ClearResponse{Status: "cleared"})
}

// HandleDeadlocks handles GET /api/v1/deadlocks.
//
// Description:
//
//	Runs cycle detection on the current state and returns the
//	normalized cycles. A pure query; no events are recorded.
//
// Response:
//
//	200 OK: DeadlocksResponse
func (h *Handlers) HandleDeadlocks(c *gin.Context) {
	cycles := h.tracker.DetectDeadlocks()
	c.JSON(http.StatusOK, DeadlocksResponse{
		Count:  len(cycles),
		Cycles: cycles,
	})
}

// HandleEvents handles GET /api/v1/events.
//
// Description:
//
//	Drains and returns the buffered events. Reading here empties the
//	log; GET /api/v1/logs is the non-destructive view.
//
// Response:
//
//	200 OK: EventsResponse
func (h *Handlers) HandleEvents(c *gin.Context) {
	events := h.tracker.DrainEvents()
	c.JSON(http.StatusOK, EventsResponse{
		Count:  len(events),
		Events: events,
	})
}

// HandleLogs handles GET /api/v1/logs.
//
// Response:
//
//	200 OK: LogsResponse
func (h *Handlers) HandleLogs(c *gin.Context) {
	entries := h.tracker.LogEntries()
	c.JSON(http.StatusOK, LogsResponse{
		Count:   len(entries),
		Entries: entries,
	})
}

// HandleSimulate handles POST /api/v1/simulate.
//
// Description:
//
//	Stages a circular-wait of generated processes and resources, then
//	runs detection so the response carries the staged cycles.
//
// Request Body:
//
//	SimulateRequest
//
// Response:
//
//	200 OK: SimulateResponse
//	400 Bad Request: Validation error or fewer than 2 of either entity
func (h *Handlers) HandleSimulate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleSimulate")

	var req SimulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	sim, err := h.tracker.SimulateDeadlock(req.Processes, req.Resources)
	if err != nil {
		if errors.Is(err, deadlock.ErrInvalidSimulation) {
			logger.Warn("simulation rejected", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "INVALID_SIMULATION",
			})
			return
		}
		logger.Error("simulation failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SIMULATION_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, SimulateResponse{
		RunID:     sim.RunID,
		Processes: sim.Processes,
		Resources: sim.Resources,
		Cycles:    h.tracker.DetectDeadlocks(),
	})
}

// HandleApplyScenario handles POST /api/v1/scenarios.
//
// Description:
//
//	Parses the request body as a YAML scenario document, applies it to
//	the tracker, and returns the step-by-step report with the cycles
//	present afterwards. Refused steps are recorded in the report, not
//	turned into errors.
//
// Request Body:
//
//	A YAML scenario document (see services/debugger/scenario).
//
// Response:
//
//	200 OK: scenario.Report
//	400 Bad Request: Unreadable body or invalid scenario
func (h *Handlers) HandleApplyScenario(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleApplyScenario")

	body, err := c.GetRawData()
	if err != nil {
		logger.Warn("unreadable request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "unreadable request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	sc, err := scenario.Parse(body)
	if err != nil {
		logger.Warn("scenario rejected", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_SCENARIO",
		})
		return
	}

	report := h.runner.Apply(sc)
	logger.Info("scenario applied",
		"scenario", sc.Name,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"cycles", len(report.Cycles))

	c.JSON(http.StatusOK, report)
}

// HandleMonitorStart handles POST /api/v1/monitor/start.
//
// Description:
//
//	Starts the background detection loop. Idempotent; Changed is false
//	when the loop was already running.
//
// Response:
//
//	200 OK: MonitorToggleResponse
func (h *Handlers) HandleMonitorStart(c *gin.Context) {
	started := h.monitor.Start()
	c.JSON(http.StatusOK, MonitorToggleResponse{
		Running: h.monitor.Running(),
		Changed: started,
	})
}

// HandleMonitorStop handles POST /api/v1/monitor/stop.
//
// Response:
//
//	200 OK: MonitorToggleResponse
func (h *Handlers) HandleMonitorStop(c *gin.Context) {
	stopped := h.monitor.Stop()
	c.JSON(http.StatusOK, MonitorToggleResponse{
		Running: h.monitor.Running(),
		Changed: stopped,
	})
}

// HandleMonitorState handles GET /api/v1/monitor.
//
// Response:
//
//	200 OK: MonitorStateResponse
func (h *Handlers) HandleMonitorState(c *gin.Context) {
	c.JSON(http.StatusOK, MonitorStateResponse{
		Running:  h.monitor.Running(),
		Interval: h.monitor.Interval().String(),
	})
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
