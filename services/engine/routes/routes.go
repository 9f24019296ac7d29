// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianTale/services/engine/frames"
	"github.com/AleutianAI/AleutianTale/services/engine/handlers"
	"github.com/AleutianAI/AleutianTale/services/engine/lore"
	"github.com/AleutianAI/AleutianTale/services/engine/scheduler"
	"github.com/AleutianAI/AleutianTale/services/engine/store"
)

// SetupRoutes registers the engine's HTTP surface.
func SetupRoutes(router *gin.Engine, st *store.Store, sched *scheduler.Scheduler,
	fb *frames.Buffer, loreCache *lore.Cache) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		sessions := api.Group("/sessions")
		{
			sessions.POST("", handlers.CreateSession(st))
			sessions.GET("", handlers.ListSessions(st))
			sessions.GET("/:id", handlers.GetSession(st))
			sessions.GET("/:id/history", handlers.GetSessionHistory(st))
			sessions.GET("/:id/status", handlers.GetSessionStatus(sched))
			sessions.DELETE("/:id", handlers.DeleteSession(st, sched, fb))
			sessions.GET("/:id/ws", handlers.SessionEvents(sched))
			sessions.GET("/:id/images/:filename", handlers.SessionImage(st))
			sessions.GET("/:id/tapes/:filename", handlers.SessionTape(st))
			sessions.GET("/:id/videos/:filename", handlers.SessionVideo(st))
		}

		game := api.Group("/game")
		{
			game.POST("/intro", handlers.Intro(sched))
			game.POST("/action/image", handlers.ActionImage(sched))
			game.POST("/action/choices", handlers.ActionChoices(sched))
			game.POST("/restart", handlers.Restart(sched))
			game.POST("/timeout", handlers.ForceTimeout(sched))
		}

		if loreCache != nil {
			api.GET("/lore/:element", handlers.GetLore(loreCache))
		}
	}
}
