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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
	"github.com/AleutianAI/AleutianTale/services/engine/scheduler"
	"github.com/AleutianAI/AleutianTale/services/engine/turn"
)

// Intro handles POST /api/game/intro: the opening scene for a session at
// turn zero.
func Intro(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.IntroRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		res, err := sched.Intro(c.Request.Context(), req.SessionID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// ActionImage handles POST /api/game/action/image: Phase A of a turn.
func ActionImage(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ActionImageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		res, err := sched.SubmitChoice(c.Request.Context(), turn.ActionInput{
			SessionID:    req.SessionID,
			Choice:       req.Choice,
			IsCustom:     req.IsCustom,
			FateOverride: req.Fate,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// ActionChoices handles POST /api/game/action/choices: Phase B, deriving
// the next decision point and arming the countdown.
func ActionChoices(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ActionChoicesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		res, err := sched.PhaseB(c.Request.Context(), req.SessionID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// Restart handles POST /api/game/restart: PlayAgain during a death
// sequence or an explicit reset of a live session.
func Restart(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RestartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		if err := sched.Restart(c.Request.Context(), req.SessionID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "restarted", "session_id": req.SessionID})
	}
}

// ForceTimeout handles POST /api/game/timeout: trigger the penalty turn
// immediately instead of waiting out the countdown. The turn runs
// asynchronously; progress arrives over the session's event stream.
func ForceTimeout(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ActionChoicesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		if err := sched.ForceTimeout(req.SessionID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "timeout_triggered", "session_id": req.SessionID})
	}
}
