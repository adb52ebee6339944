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

// RegisterRoutes registers all refinement routes with the router.
//
// Description:
//
//	Registers the /v1 endpoints on the given Gin router group. The
//	group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	s - The server instance
//
// Endpoints:
//
//	POST /v1/plan - Run a plan refinement
//	POST /v1/resolve - Run an issue resolution
//	GET  /v1/operations/:id - Fetch an archived trajectory
//	GET  /v1/costs - Live session ledger consumption
//	GET  /v1/health - Health check
//
// Example:
//
//	srv, _ := server.New(led, exec, store, cfg, logger)
//
//	v1 := router.Group("/v1")
//	server.RegisterRoutes(v1, srv)
func RegisterRoutes(rg *gin.RouterGroup, s *Server) {
	rg.POST("/plan", s.HandlePlan)
	rg.POST("/resolve", s.HandleResolve)
	rg.GET("/operations/:id", s.HandleOperation)
	rg.GET("/costs", s.HandleCosts)
	rg.GET("/health", s.HandleHealth)
}
