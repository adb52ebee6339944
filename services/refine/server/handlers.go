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
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/Refinery/services/refine/engine"
	"github.com/AleutianAI/Refinery/services/refine/issue"
	"github.com/AleutianAI/Refinery/services/refine/plan"
	"github.com/AleutianAI/Refinery/services/refine/storage/badger"
	"github.com/AleutianAI/Refinery/services/refine/trajectory"
	"github.com/gin-gonic/gin"
)

// HandlePlan handles POST /v1/plan.
//
// Description:
//
//	Runs one plan refinement against the shared session ledger. The
//	finished trajectory is archived; the response carries the refined
//	plan and the operation ID for later retrieval.
//
// Request Body:
//
//	PlanRequest
//
// Response:
//
//	200 OK: PlanResponse (the operation ran; Success reports its outcome)
//	400 Bad Request: Validation error
//	500 Internal Server Error: Engine construction error
//
// Thread Safety: This method is safe for concurrent use.
func (s *Server) HandlePlan(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.Slog().With("request_id", requestID, "handler", "HandlePlan")

	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if req.UserRequest == "" {
		logger.Warn("Empty user request")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "user_request is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	model := s.modelFor(req.Model)
	refiner, err := plan.NewRefiner(s.led, s.exec, model,
		engine.WithMaxReasoningSteps(s.cfg.Reasoning.MaxSteps),
		engine.WithLogger(s.logger.Slog()))
	if err != nil {
		logger.Error("Failed to build refiner", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "ENGINE_ERROR",
		})
		return
	}

	logger.Info("Starting plan refinement",
		"model", model,
		"request_chars", len(req.UserRequest))

	result := refiner.Execute(c.Request.Context(), &plan.Request{
		InitialPlan:      req.InitialPlan,
		UserRequest:      req.UserRequest,
		ProjectPath:      req.ProjectPath,
		Language:         req.Language,
		RetrievedContext: req.RetrievedContext,
	})
	s.archive(logger, result.Trajectory)

	resp := PlanResponse{
		Success:    result.Success,
		Valid:      result.Valid,
		Iterations: result.Iterations,
		Plan:       result.Plan,
		Error:      result.Error,
	}
	if result.Trajectory != nil {
		resp.OperationID = result.Trajectory.OperationID
		resp.TokensConsumed = result.Trajectory.TotalTokensConsumed
		resp.CostIncurred = result.Trajectory.TotalCostIncurred
	}

	logger.Info("Plan refinement completed",
		"operation_id", resp.OperationID,
		"success", resp.Success,
		"valid", resp.Valid,
		"iterations", resp.Iterations)
	c.JSON(http.StatusOK, resp)
}

// HandleResolve handles POST /v1/resolve.
//
// Description:
//
//	Runs one issue resolution against the shared session ledger. The
//	server wires no sandbox, so test verification is always skipped
//	and Success stays false; clients treat validation as the outcome
//	and verify the returned patch locally.
//
// Request Body:
//
//	ResolveRequest
//
// Response:
//
//	200 OK: ResolveResponse (the operation ran; fields report its outcome)
//	400 Bad Request: Validation error
//	500 Internal Server Error: Engine construction error
//
// Thread Safety: This method is safe for concurrent use.
func (s *Server) HandleResolve(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.Slog().With("request_id", requestID, "handler", "HandleResolve")

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	missing := ""
	switch {
	case req.FilePath == "":
		missing = "file_path"
	case req.FileContent == "":
		missing = "file_content"
	case req.Traceback == "":
		missing = "traceback"
	}
	if missing != "" {
		logger.Warn("Missing required field", "field", missing)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: missing + " is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	model := s.modelFor(req.Model)
	resolver, err := issue.NewResolver(s.led, s.exec, model,
		issue.WithEngineOptions(
			engine.WithMaxReasoningSteps(s.cfg.Reasoning.MaxSteps),
			engine.WithLogger(s.logger.Slog())))
	if err != nil {
		logger.Error("Failed to build resolver", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "ENGINE_ERROR",
		})
		return
	}

	logger.Info("Starting issue resolution",
		"model", model,
		"file_path", req.FilePath,
		"error_type", req.ErrorType)

	result := resolver.Execute(c.Request.Context(), &issue.Request{
		Failure: issue.TestFailure{
			ErrorType:    req.ErrorType,
			ErrorMessage: req.ErrorMessage,
			Traceback:    req.Traceback,
			FailingTest:  req.FailingTest,
		},
		FileContent: req.FileContent,
		FilePath:    req.FilePath,
		Language:    req.Language,
		ProjectPath: req.ProjectPath,
	})
	s.archive(logger, result.Trajectory)

	resp := ResolveResponse{
		Success:      result.Success,
		Valid:        result.Valid,
		TestsPassed:  result.TestsPassed,
		Iterations:   result.Iterations,
		Patch:        result.Patch,
		FixedContent: result.FixedContent,
		Error:        result.Error,
	}
	if result.Trajectory != nil {
		resp.OperationID = result.Trajectory.OperationID
		resp.TokensConsumed = result.Trajectory.TotalTokensConsumed
		resp.CostIncurred = result.Trajectory.TotalCostIncurred
	}

	logger.Info("Issue resolution completed",
		"operation_id", resp.OperationID,
		"valid", resp.Valid,
		"iterations", resp.Iterations)
	c.JSON(http.StatusOK, resp)
}

// HandleOperation handles GET /v1/operations/:id.
//
// Description:
//
//	Fetches an archived trajectory by operation ID, including every
//	phase, reasoning step and validation record.
//
// Response:
//
//	200 OK: trajectory.Trajectory
//	404 Not Found: No trajectory archived under that ID
//	500 Internal Server Error: Archive read error
//
// Thread Safety: This method is safe for concurrent use.
func (s *Server) HandleOperation(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.Slog().With("request_id", requestID, "handler", "HandleOperation")

	operationID := c.Param("id")
	traj, err := s.store.Get(c.Request.Context(), operationID)
	if err != nil {
		if errors.Is(err, badger.ErrTrajectoryNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: err.Error(),
				Code:  "OPERATION_NOT_FOUND",
			})
			return
		}
		logger.Error("Archive read failed", "operation_id", operationID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "ARCHIVE_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, traj)
}

// HandleCosts handles GET /v1/costs.
//
// Description:
//
//	Reports the live session ledger: tokens and dollars consumed by
//	every operation since the server started, with the per-provider
//	breakdown and the rendered summary.
//
// Response:
//
//	200 OK: CostsResponse
//
// Thread Safety: This method is safe for concurrent use.
func (s *Server) HandleCosts(c *gin.Context) {
	getOrCreateRequestID(c)

	tokens, cost := s.led.SessionConsumption()
	c.JSON(http.StatusOK, CostsResponse{
		TokensConsumed: tokens,
		CostIncurred:   cost,
		Providers:      s.led.ProviderBreakdown(),
		Summary:        s.led.Summary(),
	})
}

// HandleHealth handles GET /v1/health.
func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: "refinery",
	})
}

// archive persists a finished trajectory. Writes use a background
// context so a client disconnect cannot lose the record; failures are
// logged, never surfaced, because the operation itself completed.
func (s *Server) archive(logger *slog.Logger, traj *trajectory.Trajectory) {
	if traj == nil {
		return
	}
	if err := s.store.Put(context.Background(), traj); err != nil {
		logger.Warn("Failed to archive trajectory",
			"operation_id", traj.OperationID,
			"error", err)
	}
}
