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
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/ipcscope/services/debugger/deadlock"
)

// EventFrame is one message on the WebSocket event stream.
//
// The first frame after the upgrade has Type "session" and carries the
// session id. Every following frame has Type "event" and carries one
// tracker event.
type EventFrame struct {
	// Type is "session" or "event".
	Type string `json:"type"`

	// SessionID identifies the connection (session frames only).
	SessionID string `json:"session_id,omitempty"`

	// Event is the tracker event (event frames only).
	Event *deadlock.Event `json:"event,omitempty"`
}

// HandleEventStream handles GET /api/v1/ws.
//
// Description:
//
//	Upgrades the connection and streams tracker events as JSON frames
//	until the client disconnects or the subscription closes. Slow
//	consumers lose the oldest buffered events rather than stalling the
//	tracker.
//
// Response:
//
//	101 Switching Protocols, then EventFrame messages
//	403 Forbidden: Origin not in the allowlist
func (h *Handlers) HandleEventStream(c *gin.Context) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	sessionID := uuid.NewString()
	logger := h.logger.With("session_id", sessionID)
	logger.Info("event stream client connected", "remote", ws.RemoteAddr().String())

	if err := ws.WriteJSON(EventFrame{Type: "session", SessionID: sessionID}); err != nil {
		logger.Warn("failed to write the session frame", "error", err)
		return
	}

	events, cancel := h.tracker.SubscribeEvents()
	defer cancel()

	// The stream is one-way. The read pump exists to notice the client
	// going away, including clean close frames.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				logger.Info("event subscription closed")
				return
			}
			if err := ws.WriteJSON(EventFrame{Type: "event", Event: &event}); err != nil {
				logger.Info("event stream client disconnected", "error", err.Error())
				return
			}
		case <-clientGone:
			logger.Info("event stream client disconnected")
			return
		}
	}
}

// checkOrigin applies the configured origin allowlist.
//
// An empty allowlist accepts everything, which matches the local
// single-user deployments this tool targets.
func (h *Handlers) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.allowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}
