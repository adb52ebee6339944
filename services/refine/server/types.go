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
	"github.com/AleutianAI/Refinery/services/refine/ledger"
	"github.com/AleutianAI/Refinery/services/refine/plan"
)

// PlanRequest is the body of POST /v1/plan.
type PlanRequest struct {
	// UserRequest is the change the plan should accomplish. Required.
	UserRequest string `json:"user_request"`

	// InitialPlan is the starting plan as a JSON array. Optional; an
	// empty or unparseable plan degrades to a from-scratch refinement.
	InitialPlan string `json:"initial_plan,omitempty"`

	ProjectPath string `json:"project_path,omitempty"`
	Language    string `json:"language,omitempty"`

	// RetrievedContext is opaque caller-supplied context, embedded
	// verbatim in prompts.
	RetrievedContext string `json:"retrieved_context,omitempty"`

	// Model overrides the configured highest-tier model for this
	// operation only.
	Model string `json:"model,omitempty"`
}

// PlanResponse is the body of a completed plan refinement.
//
// The full reasoning trajectory is archived, not inlined; fetch it
// from /v1/operations/:id with the returned operation ID.
type PlanResponse struct {
	OperationID    string     `json:"operation_id,omitempty"`
	Success        bool       `json:"success"`
	Valid          bool       `json:"valid"`
	Iterations     int        `json:"iterations"`
	Plan           *plan.Plan `json:"plan,omitempty"`
	TokensConsumed int        `json:"tokens_consumed"`
	CostIncurred   float64    `json:"cost_incurred"`
	Error          string     `json:"error,omitempty"`
}

// ResolveRequest is the body of POST /v1/resolve.
type ResolveRequest struct {
	// FilePath is the suspect file's path relative to the project root.
	// Required.
	FilePath string `json:"file_path"`

	// FileContent is the file's current source. Required; the server
	// never reads the client's filesystem.
	FileContent string `json:"file_content"`

	// Traceback is the failing test's traceback text. Required.
	Traceback string `json:"traceback"`

	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	FailingTest  string `json:"failing_test,omitempty"`
	Language     string `json:"language,omitempty"`
	ProjectPath  string `json:"project_path,omitempty"`

	// Model overrides the configured highest-tier model for this
	// operation only.
	Model string `json:"model,omitempty"`
}

// ResolveResponse is the body of a completed issue resolution.
type ResolveResponse struct {
	OperationID    string  `json:"operation_id,omitempty"`
	Success        bool    `json:"success"`
	Valid          bool    `json:"validation"`
	TestsPassed    bool    `json:"test_verification"`
	Iterations     int     `json:"iterations"`
	Patch          string  `json:"patch,omitempty"`
	FixedContent   string  `json:"fixed_content,omitempty"`
	TokensConsumed int     `json:"tokens_consumed"`
	CostIncurred   float64 `json:"cost_incurred"`
	Error          string  `json:"error,omitempty"`
}

// CostsResponse is the body of GET /v1/costs: the live session
// ledger's consumption since the server started.
type CostsResponse struct {
	TokensConsumed int                                      `json:"tokens_consumed"`
	CostIncurred   float64                                  `json:"cost_incurred"`
	Providers      map[ledger.Provider]ledger.ProviderStats `json:"providers"`
	Summary        string                                   `json:"summary"`
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}
