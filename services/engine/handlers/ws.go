// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianTale/pkg/validation"
	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
	"github.com/AleutianAI/AleutianTale/services/engine/scheduler"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The engine fronts a local UI; cross-origin enforcement happens at
	// the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingPeriod   = 30 * time.Second
)

// SessionEvents handles GET /api/sessions/:id/ws: the live event stream
// for one session (phase results, countdown ticks, death and restart
// notifications).
func SessionEvents(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := validation.ValidateSessionID(id); err != nil {
			respondError(c, fmt.Errorf("%w: %v", datatypes.ErrInvalidInput, err))
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "session_id", id, "error", err)
			return
		}
		defer conn.Close()

		events, cancel := sched.Subscribe(id)
		defer cancel()

		// Reader goroutine: the client sends nothing meaningful, but the
		// read pump surfaces disconnects.
		disconnected := make(chan struct{})
		go func() {
			defer close(disconnected)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					slog.Debug("websocket write failed", "session_id", id, "error", err)
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-disconnected:
				return
			}
		}
	}
}
