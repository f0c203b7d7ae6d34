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

	"github.com/AleutianAI/lineage/pkg/logging"
	"github.com/AleutianAI/lineage/services/registry/engine"
	"github.com/AleutianAI/lineage/services/registry/handlers"
	"github.com/AleutianAI/lineage/services/registry/middleware"
	"github.com/AleutianAI/lineage/services/registry/storage"
)

// SetupRoutes wires middleware and the full API surface onto router.
func SetupRoutes(router *gin.Engine, eng *engine.Engine, store storage.Store, log *logging.Logger) {
	router.Use(middleware.RequestID(), middleware.AccessLog(log), gin.Recovery())

	router.GET("/healthz", handlers.HealthCheck(store))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		members := v1.Group("/members")
		{
			members.GET("", handlers.ListMembers(store))
			members.POST("", handlers.CreateMember(eng, store))
			members.GET("/:id", handlers.GetMember(store))
			members.PATCH("/:id", handlers.UpdateMember(eng, store))
			members.DELETE("/:id", handlers.DeleteMember(eng))
			members.GET("/:id/children", handlers.ListChildren(store))

			// Dry-run and structural-edit routes
			members.POST("/:id/validate", handlers.ValidateFields(store))
			members.POST("/:id/validate-parent", handlers.ValidateParent(store))
			members.POST("/:id/plan", handlers.PlanCascade(store))
			members.POST("/:id/cascade", handlers.ApplyCascade(eng, store))
		}
	}
}
