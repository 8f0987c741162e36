// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package changeguard

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/changeguard/services/changeguard/config"
	"github.com/AleutianAI/changeguard/services/changeguard/telemetry"
)

// RegisterRoutes registers changeguard routes on the given router group.
//
// Description:
//
//	Registers all /v1/changeguard/* endpoints with the given Gin router
//	group. The group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Unit Endpoints:
//
//	PUT  /v1/changeguard/units/:id - Register or replace a unit
//	GET  /v1/changeguard/units/:id - Get a unit
//	POST /v1/changeguard/units/:id/rollback - Restore the latest backup
//	GET  /v1/changeguard/units/:id/history - Journalled events for a unit
//
// Change Endpoints:
//
//	POST /v1/changeguard/apply - Apply one change
//	POST /v1/changeguard/batch - Apply a batch of changes
//	POST /v1/changeguard/conflicts - Detect and resolve conflicts
//
// Health Endpoints:
//
//	GET  /v1/changeguard/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	cg := rg.Group("/changeguard")
	{
		units := cg.Group("/units/:id")
		{
			units.PUT("", handlers.HandlePutUnit)
			units.GET("", handlers.HandleGetUnit)
			units.POST("/rollback", handlers.HandleRollback)
			units.GET("/history", handlers.HandleHistory)
		}

		cg.POST("/apply", handlers.HandleApply)
		cg.POST("/batch", handlers.HandleBatch)
		cg.POST("/conflicts", handlers.HandleConflicts)

		cg.GET("/health", handlers.HandleHealth)
	}
}

// NewRouter builds the full HTTP engine: recovery, tracing, rate limiting
// and body caps, the /v1 API and Prometheus /metrics.
func NewRouter(svc *Service, cfg config.ServerConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("changeguard"))

	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := router.Group("/v1")
	v1.Use(RateLimit(cfg.RateLimit, cfg.Burst), MaxBody(cfg.MaxBodyBytes))
	RegisterRoutes(v1, NewHandlers(svc))
	return router
}
