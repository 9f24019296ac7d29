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
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
	"github.com/AleutianAI/AleutianTale/services/engine/frames"
	"github.com/AleutianAI/AleutianTale/services/engine/scheduler"
	"github.com/AleutianAI/AleutianTale/services/engine/store"
)

// CreateSession handles POST /api/sessions.
func CreateSession(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		meta, err := st.CreateSession(req.Name, req.Description, req.SessionID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, meta)
	}
}

// ListSessions handles GET /api/sessions. Query params: sort
// (name|created_at|last_accessed) and limit.
func ListSessions(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				bindError(c, errInvalidLimit)
				return
			}
			limit = n
		}
		sessions, err := st.ListSessions(c.Query("sort"), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
	}
}

// GetSession handles GET /api/sessions/:id with the full detail view.
// The history tail length comes from ?last (default 20, 0 for all).
func GetSession(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		meta, err := st.GetMetadata(id)
		if err != nil {
			respondError(c, err)
			return
		}

		unlock := st.Lock(id)
		state, err := st.LoadState(id)
		unlock()
		if err != nil {
			respondError(c, err)
			return
		}

		last := 20
		if raw := c.Query("last"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
				last = n
			}
		}
		history, err := st.GetHistory(id, last)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, datatypes.SessionDetailResponse{
			Metadata: *meta,
			State:    state,
			History:  history,
		})
	}
}

// GetSessionHistory handles GET /api/sessions/:id/history. The tail
// length comes from ?last (default 20, 0 for all).
func GetSessionHistory(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if !st.Exists(id) {
			respondError(c, datatypes.ErrNotFound)
			return
		}

		last := 20
		if raw := c.Query("last"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
				last = n
			}
		}
		history, err := st.GetHistory(id, last)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id": id,
			"history":    history,
			"count":      len(history),
		})
	}
}

// GetSessionStatus handles GET /api/sessions/:id/status, the compact poll
// target.
func GetSessionStatus(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := sched.Status(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// DeleteSession handles DELETE /api/sessions/:id. Deleting "default" is
// refused by the store.
func DeleteSession(st *store.Store, sched *scheduler.Scheduler, fb *frames.Buffer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := st.DeleteSession(id); err != nil {
			respondError(c, err)
			return
		}
		sched.CancelSession(id)
		fb.Clear(id)
		slog.Info("session deleted via API", "session_id", id)
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "session_id": id})
	}
}
