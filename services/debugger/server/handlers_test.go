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
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ipcscope/services/debugger/deadlock"
	"github.com/AleutianAI/ipcscope/services/debugger/scenario"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(t *testing.T) (*gin.Engine, *deadlock.Tracker) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker, err := deadlock.NewTracker(&deadlock.Config{}, logger)
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}
	runner, err := scenario.NewRunner(tracker, logger)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	monitor, err := deadlock.NewMonitor(&deadlock.Config{
		MonitorInterval: 50 * time.Millisecond,
		StopTimeout:     time.Second,
	}, tracker, logger)
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	t.Cleanup(func() { monitor.Stop() })

	handlers := NewHandlers(tracker, runner, monitor, logger)

	router := gin.New()
	router.GET("/health", handlers.HandleHealth)
	api := router.Group("/api/v1")
	RegisterRoutes(api, handlers)
	return router, tracker
}

// doJSON performs a request with a JSON body and returns the recorder.
func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", w.Body.String(), err)
	}
}

func TestHandlers_HandleHealth(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(t, router, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp HealthResponse
	decodeBody(t, w, &resp)
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want %q", resp.Status, "healthy")
	}
	if resp.Version != Version {
		t.Errorf("version = %q, want %q", resp.Version, Version)
	}
	if resp.MonitorRunning {
		t.Error("monitor should not be running before start")
	}
}

func TestHandlers_RegisterResource(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(t, router, "POST", "/api/v1/resources",
		`{"id": "db-lock", "kind": "semaphore", "instances": 3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp RegisterResourceResponse
	decodeBody(t, w, &resp)
	if !resp.Registered {
		t.Error("first registration should report Registered=true")
	}

	// Same id again is a no-op.
	w = doJSON(t, router, "POST", "/api/v1/resources", `{"id": "db-lock"}`)
	decodeBody(t, w, &resp)
	if w.Code != http.StatusOK || resp.Registered {
		t.Errorf("duplicate registration: status = %d, registered = %v", w.Code, resp.Registered)
	}
}

func TestHandlers_RegisterResource_Invalid(t *testing.T) {
	router, _ := setupTestRouter(t)

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"missing id", `{"kind": "lock"}`, "INVALID_REQUEST"},
		{"unknown kind", `{"id": "r1", "kind": "mutex"}`, "INVALID_REQUEST"},
		{"negative instances", `{"id": "r1", "instances": -2}`, "INVALID_INSTANCES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, "POST", "/api/v1/resources", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			var resp ErrorResponse
			decodeBody(t, w, &resp)
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestHandlers_UnregisterResource(t *testing.T) {
	router, _ := setupTestRouter(t)

	doJSON(t, router, "POST", "/api/v1/resources", `{"id": "r1"}`)

	w := doJSON(t, router, "DELETE", "/api/v1/resources/r1", "")
	var resp RemoveResponse
	decodeBody(t, w, &resp)
	if w.Code != http.StatusOK || !resp.Removed {
		t.Errorf("delete: status = %d, removed = %v", w.Code, resp.Removed)
	}

	w = doJSON(t, router, "DELETE", "/api/v1/resources/r1", "")
	decodeBody(t, w, &resp)
	if w.Code != http.StatusNotFound || resp.Removed {
		t.Errorf("second delete: status = %d, removed = %v", w.Code, resp.Removed)
	}
}

func TestHandlers_UnregisterProcess_NotFound(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(t, router, "DELETE", "/api/v1/processes/ghost", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandlers_RequestFlow(t *testing.T) {
	router, _ := setupTestRouter(t)

	doJSON(t, router, "POST", "/api/v1/resources", `{"id": "r1", "instances": 2}`)
	doJSON(t, router, "POST", "/api/v1/processes", `{"id": "p1"}`)
	doJSON(t, router, "POST", "/api/v1/processes", `{"id": "p2"}`)

	// p1 takes both instances.
	w := doJSON(t, router, "POST", "/api/v1/requests",
		`{"process_id": "p1", "resource_id": "r1", "instances": 2}`)
	var acq AcquireResponse
	decodeBody(t, w, &acq)
	if !acq.Granted {
		t.Fatal("first request should be granted")
	}

	// p2 queues.
	w = doJSON(t, router, "POST", "/api/v1/requests",
		`{"process_id": "p2", "resource_id": "r1"}`)
	decodeBody(t, w, &acq)
	if w.Code != http.StatusOK || acq.Granted {
		t.Fatalf("queued request: status = %d, granted = %v", w.Code, acq.Granted)
	}

	// Releasing promotes p2.
	w = doJSON(t, router, "POST", "/api/v1/releases",
		`{"process_id": "p1", "resource_id": "r1"}`)
	var rel ReleaseResponse
	decodeBody(t, w, &rel)
	if !rel.Released {
		t.Fatal("release should succeed")
	}

	w = doJSON(t, router, "GET", "/api/v1/processes", "")
	var procs ProcessesResponse
	decodeBody(t, w, &procs)
	p2, ok := procs.Processes["p2"]
	if !ok {
		t.Fatal("p2 missing from the process status map")
	}
	if len(p2.Owns) != 1 || p2.Owns[0] != "r1" {
		t.Errorf("p2 should own r1 after promotion, owns %v", p2.Owns)
	}
	if p2.WaitingFor != "" {
		t.Errorf("p2 should no longer wait, waiting for %q", p2.WaitingFor)
	}
}

func TestHandlers_Request_InvalidInstances(t *testing.T) {
	router, _ := setupTestRouter(t)

	doJSON(t, router, "POST", "/api/v1/resources", `{"id": "r1"}`)
	doJSON(t, router, "POST", "/api/v1/processes", `{"id": "p1"}`)

	w := doJSON(t, router, "POST", "/api/v1/requests",
		`{"process_id": "p1", "resource_id": "r1", "instances": -1}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	var resp ErrorResponse
	decodeBody(t, w, &resp)
	if resp.Code != "INVALID_INSTANCES" {
		t.Errorf("code = %q, want INVALID_INSTANCES", resp.Code)
	}
}

func TestHandlers_OwnersAndWaiters(t *testing.T) {
	router, _ := setupTestRouter(t)

	doJSON(t, router, "POST", "/api/v1/resources", `{"id": "r1"}`)
	doJSON(t, router, "POST", "/api/v1/processes", `{"id": "p1"}`)
	doJSON(t, router, "POST", "/api/v1/processes", `{"id": "p2"}`)

	w := doJSON(t, router, "POST", "/api/v1/owners",
		`{"resource_id": "r1", "process_id": "p1"}`)
	var own OwnerResponse
	decodeBody(t, w, &own)
	if !own.Applied {
		t.Fatal("owner injection should apply")
	}

	// Unknown resource passes through as a boolean refusal, not an error.
	w = doJSON(t, router, "POST", "/api/v1/owners",
		`{"resource_id": "ghost", "process_id": "p1"}`)
	decodeBody(t, w, &own)
	if w.Code != http.StatusOK || own.Applied {
		t.Errorf("unknown resource: status = %d, applied = %v", w.Code, own.Applied)
	}

	w = doJSON(t, router, "POST", "/api/v1/waiters",
		`{"resource_id": "r1", "process_id": "p2"}`)
	var wait WaiterResponse
	decodeBody(t, w, &wait)
	if !wait.Queued {
		t.Fatal("waiter injection should queue")
	}

	w = doJSON(t, router, "DELETE", "/api/v1/waiters",
		`{"resource_id": "r1", "process_id": "p2"}`)
	var rm RemoveResponse
	decodeBody(t, w, &rm)
	if !rm.Removed {
		t.Error("waiter removal should succeed")
	}

	w = doJSON(t, router, "DELETE", "/api/v1/waiters",
		`{"resource_id": "r1", "process_id": "p2"}`)
	decodeBody(t, w, &rm)
	if rm.Removed {
		t.Error("second waiter removal should report Removed=false")
	}
}

func TestHandlers_Deadlocks(t *testing.T) {
	router, _ := setupTestRouter(t)

	doJSON(t, router, "POST", "/api/v1/resources", `{"id": "r1"}`)
	doJSON(t, router, "POST", "/api/v1/resources", `{"id": "r2"}`)
	doJSON(t, router, "POST", "/api/v1/processes", `{"id": "p1"}`)
	doJSON(t, router, "POST", "/api/v1/processes", `{"id": "p2"}`)
	doJSON(t, router, "POST", "/api/v1/owners", `{"resource_id": "r1", "process_id": "p1"}`)
	doJSON(t, router, "POST", "/api/v1/owners", `{"resource_id": "r2", "process_id": "p2"}`)
	doJSON(t, router, "POST", "/api/v1/waiters", `{"resource_id": "r2", "process_id": "p1"}`)
	doJSON(t, router, "POST", "/api/v1/waiters", `{"resource_id": "r1", "process_id": "p2"}`)

	w := doJSON(t, router, "GET", "/api/v1/deadlocks", "")
	var resp DeadlocksResponse
	decodeBody(t, w, &resp)
	if resp.Count != 1 {
		t.Fatalf("count = %d, want 1 (cycles: %v)", resp.Count, resp.Cycles)
	}
	cycle := resp.Cycles[0]
	if len(cycle) != 2 || cycle[0] != "p1" || cycle[1] != "p2" {
		t.Errorf("cycle = %v, want [p1 p2]", cycle)
	}
}

func TestHandlers_Simulate(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(t, router, "POST", "/api/v1/simulate", `{"processes": 3, "resources": 3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp SimulateResponse
	decodeBody(t, w, &resp)
	if resp.RunID == "" {
		t.Error("run id should not be empty")
	}
	if len(resp.Processes) != 3 || len(resp.Resources) != 3 {
		t.Errorf("generated %d processes and %d resources, want 3 and 3",
			len(resp.Processes), len(resp.Resources))
	}
	if len(resp.Cycles) != 1 {
		t.Errorf("cycles = %v, want exactly one", resp.Cycles)
	}
}

func TestHandlers_Simulate_TooSmall(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(t, router, "POST", "/api/v1/simulate", `{"processes": 1, "resources": 3}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	var resp ErrorResponse
	decodeBody(t, w, &resp)
	if resp.Code != "INVALID_SIMULATION" {
		t.Errorf("code = %q, want INVALID_SIMULATION", resp.Code)
	}
}

func TestHandlers_ApplyScenario(t *testing.T) {
	router, _ := setupTestRouter(t)

	scenarioYAML := `
name: circular-wait
resources:
  - id: db-lock
  - id: cache-lock
processes: [worker-1, worker-2]
steps:
  - {op: own, process: worker-1, resource: db-lock}
  - {op: own, process: worker-2, resource: cache-lock}
  - {op: wait, process: worker-1, resource: cache-lock}
  - {op: wait, process: worker-2, resource: db-lock}
`
	req, _ := http.NewRequest("POST", "/api/v1/scenarios", bytes.NewBufferString(scenarioYAML))
	req.Header.Set("Content-Type", "application/yaml")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var report scenario.Report
	decodeBody(t, w, &report)
	if report.Scenario != "circular-wait" {
		t.Errorf("scenario = %q, want circular-wait", report.Scenario)
	}
	if report.Succeeded != 4 || report.Failed != 0 {
		t.Errorf("succeeded = %d, failed = %d, want 4 and 0", report.Succeeded, report.Failed)
	}
	if len(report.Cycles) != 1 {
		t.Errorf("cycles = %v, want exactly one", report.Cycles)
	}
}

func TestHandlers_ApplyScenario_Invalid(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(t, router, "POST", "/api/v1/scenarios", "name: [unclosed")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	var resp ErrorResponse
	decodeBody(t, w, &resp)
	if resp.Code != "INVALID_SCENARIO" {
		t.Errorf("code = %q, want INVALID_SCENARIO", resp.Code)
	}
}

func TestHandlers_EventsDrainAndLogsDoNot(t *testing.T) {
	router, _ := setupTestRouter(t)

	doJSON(t, router, "POST", "/api/v1/resources", `{"id": "r1"}`)
	doJSON(t, router, "POST", "/api/v1/processes", `{"id": "p1"}`)
	doJSON(t, router, "POST", "/api/v1/requests", `{"process_id": "p1", "resource_id": "r1"}`)

	w := doJSON(t, router, "GET", "/api/v1/logs", "")
	var logs LogsResponse
	decodeBody(t, w, &logs)
	if logs.Count == 0 {
		t.Fatal("log entries should exist after operations")
	}

	// Logs are non-destructive.
	w = doJSON(t, router, "GET", "/api/v1/logs", "")
	var logsAgain LogsResponse
	decodeBody(t, w, &logsAgain)
	if logsAgain.Count != logs.Count {
		t.Errorf("second read count = %d, want %d", logsAgain.Count, logs.Count)
	}

	// Events drain.
	w = doJSON(t, router, "GET", "/api/v1/events", "")
	var events EventsResponse
	decodeBody(t, w, &events)
	if events.Count != logs.Count {
		t.Errorf("drained %d events, want %d", events.Count, logs.Count)
	}

	w = doJSON(t, router, "GET", "/api/v1/events", "")
	decodeBody(t, w, &events)
	if events.Count != 0 {
		t.Errorf("second drain count = %d, want 0", events.Count)
	}
}

func TestHandlers_MonitorRoutes(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(t, router, "GET", "/api/v1/monitor", "")
	var state MonitorStateResponse
	decodeBody(t, w, &state)
	if state.Running {
		t.Error("monitor should start stopped")
	}
	if state.Interval == "" {
		t.Error("interval should be reported")
	}

	var toggle MonitorToggleResponse
	w = doJSON(t, router, "POST", "/api/v1/monitor/start", "")
	decodeBody(t, w, &toggle)
	if !toggle.Running || !toggle.Changed {
		t.Errorf("start: running = %v, changed = %v", toggle.Running, toggle.Changed)
	}

	w = doJSON(t, router, "POST", "/api/v1/monitor/start", "")
	decodeBody(t, w, &toggle)
	if !toggle.Running || toggle.Changed {
		t.Errorf("second start: running = %v, changed = %v", toggle.Running, toggle.Changed)
	}

	w = doJSON(t, router, "POST", "/api/v1/monitor/stop", "")
	decodeBody(t, w, &toggle)
	if toggle.Running || !toggle.Changed {
		t.Errorf("stop: running = %v, changed = %v", toggle.Running, toggle.Changed)
	}

	w = doJSON(t, router, "POST", "/api/v1/monitor/stop", "")
	decodeBody(t, w, &toggle)
	if toggle.Changed {
		t.Error("second stop should be a no-op")
	}
}

func TestHandlers_Clear(t *testing.T) {
	router, _ := setupTestRouter(t)

	doJSON(t, router, "POST", "/api/v1/simulate", `{"processes": 2, "resources": 2}`)

	w := doJSON(t, router, "POST", "/api/v1/clear", "")
	var resp ClearResponse
	decodeBody(t, w, &resp)
	if resp.Status != "cleared" {
		t.Errorf("status = %q, want cleared", resp.Status)
	}

	w = doJSON(t, router, "GET", "/api/v1/resources", "")
	var resources ResourcesResponse
	decodeBody(t, w, &resources)
	if resources.Count != 0 {
		t.Errorf("resources after clear = %d, want 0", resources.Count)
	}
}
