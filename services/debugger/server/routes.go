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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the debugger API routes with the router group.
//
// Description:
//
//	Registers all /api/v1/* endpoints with the given Gin router group.
//	The group should already have any required middleware applied. The
//	root-level /health and /metrics routes are mounted by the Server,
//	not here, so the group can also be nested under another host.
//
// Inputs:
//
//	rg - Gin router group (typically /api/v1)
//	handlers - The handlers instance
//
// State Endpoints:
//
//	POST   /api/v1/resources - Register a resource
//	GET    /api/v1/resources - Resource status map
//	DELETE /api/v1/resources/:id - Unregister a resource
//	POST   /api/v1/processes - Register a process
//	GET    /api/v1/processes - Process status map
//	DELETE /api/v1/processes/:id - Unregister a process
//	POST   /api/v1/clear - Drop all tracked state
//
// Allocation Endpoints:
//
//	POST   /api/v1/requests - Request instances (grant or queue)
//	POST   /api/v1/releases - Release instances
//	POST   /api/v1/owners - Inject an allocation directly
//	POST   /api/v1/waiters - Enqueue a waiter directly
//	DELETE /api/v1/waiters - Remove a queued waiter
//
// Analysis Endpoints:
//
//	GET    /api/v1/deadlocks - Detect cycles in the current state
//	GET    /api/v1/events - Drain buffered events (destructive)
//	GET    /api/v1/logs - Formatted log entries (non-destructive)
//	POST   /api/v1/simulate - Stage a circular-wait ring
//	POST   /api/v1/scenarios - Apply a YAML scenario document
//
// Monitor Endpoints:
//
//	POST   /api/v1/monitor/start - Start the background scan loop
//	POST   /api/v1/monitor/stop - Stop the background scan loop
//	GET    /api/v1/monitor - Scan loop state
//
// Streaming:
//
//	GET    /api/v1/ws - WebSocket event stream
//
// Example:
//
//	handlers := server.NewHandlers(tracker, runner, monitor, logger)
//	api := router.Group("/api/v1")
//	server.RegisterRoutes(api, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	// State
	rg.POST("/resources", handlers.HandleRegisterResource)
	rg.GET("/resources", handlers.HandleListResources)
	rg.DELETE("/resources/:id", handlers.HandleUnregisterResource)
	rg.POST("/processes", handlers.HandleRegisterProcess)
	rg.GET("/processes", handlers.HandleListProcesses)
	rg.DELETE("/processes/:id", handlers.HandleUnregisterProcess)
	rg.POST("/clear", handlers.HandleClear)

	// Allocation
	rg.POST("/requests", handlers.HandleRequest)
	rg.POST("/releases", handlers.HandleRelease)
	rg.POST("/owners", handlers.HandleSetOwner)
	rg.POST("/waiters", handlers.HandleAddWaiter)
	rg.DELETE("/waiters", handlers.HandleRemoveWaiter)

	// Analysis
	rg.GET("/deadlocks", handlers.HandleDeadlocks)
	rg.GET("/events", handlers.HandleEvents)
	rg.GET("/logs", handlers.HandleLogs)
	rg.POST("/simulate", handlers.HandleSimulate)
	rg.POST("/scenarios", handlers.HandleApplyScenario)

	// Monitor
	monitor := rg.Group("/monitor")
	{
		monitor.POST("/start", handlers.HandleMonitorStart)
		monitor.POST("/stop", handlers.HandleMonitorStop)
		monitor.GET("", handlers.HandleMonitorState)
	}

	// Streaming
	rg.GET("/ws", handlers.HandleEventStream)
}
