// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trajectory

import "time"

// =============================================================================
// Phase Verdicts
// =============================================================================

// PhaseVerdict judges a closed phase. Phases auto-closed during
// operation completion stay unjudged.
type PhaseVerdict string

const (
	VerdictSucceeded PhaseVerdict = "succeeded"
	VerdictFailed    PhaseVerdict = "failed"
	VerdictUnjudged  PhaseVerdict = "unjudged"
)

// String returns the verdict name.
func (v PhaseVerdict) String() string {
	return string(v)
}

// Succeeded reports whether the phase was judged successful.
func (v PhaseVerdict) Succeeded() bool {
	return v == VerdictSucceeded
}

// =============================================================================
// Records
// =============================================================================

// ReasoningStep is one priced prompt/response exchange inside a phase.
type ReasoningStep struct {
	StepID            string   `json:"step_id"`
	Prompt            string   `json:"prompt"`
	Response          string   `json:"response"`
	TokensConsumed    int      `json:"tokens_consumed"`
	CostIncurred      float64  `json:"cost_incurred"`
	ToolsUsed         []string `json:"tools_used,omitempty"`
	ContextChunksUsed []string `json:"context_chunks_used,omitempty"`
}

// ValidationRecord is one validation verdict recorded against a step.
type ValidationRecord struct {
	StepID   string `json:"step_id"`
	Outcome  bool   `json:"outcome"`
	Feedback string `json:"feedback"`
}

// PhaseOutcome is the judgment a phase closed with.
type PhaseOutcome struct {
	Verdict  PhaseVerdict `json:"verdict"`
	Result   any          `json:"result,omitempty"`
	Feedback string       `json:"feedback,omitempty"`
}

// PhaseRecord is one phase of a reasoning chain: its exchanges,
// validations, totals, and outcome.
type PhaseRecord struct {
	PhaseID        string             `json:"phase_id"`
	Description    string             `json:"phase_description"`
	StartedAt      time.Time          `json:"started_at"`
	EndedAt        time.Time          `json:"ended_at"`
	TokensConsumed int                `json:"tokens_consumed"`
	CostIncurred   float64            `json:"cost_incurred"`
	ModelUsed      string             `json:"model_used"`
	ReasoningSteps []ReasoningStep    `json:"reasoning_steps"`
	Validations    []ValidationRecord `json:"validations,omitempty"`
	Outcome        PhaseOutcome       `json:"outcome"`
}

// Trajectory is the complete record of one refinement operation.
type Trajectory struct {
	OperationID         string        `json:"operation_id"`
	OperationType       string        `json:"operation_type"`
	Phases              []PhaseRecord `json:"phases"`
	TotalTokensConsumed int           `json:"total_tokens_consumed"`
	TotalCostIncurred   float64       `json:"total_cost_incurred"`
	OverallSuccess      bool          `json:"overall_success"`
	FinalResult         any           `json:"final_result,omitempty"`
}

// StepInput describes one exchange for RecordReasoningStep.
// ActualTokens carries the provider-reported usage when the executor
// returned one; zero means unknown and the step is priced by estimate.
type StepInput struct {
	StepID            string
	Prompt            string
	Response          string
	ModelID           string
	ActualTokens      int
	ToolsUsed         []string
	ContextChunksUsed []string
}

// PhaseCost is one phase's totals in a cost summary.
type PhaseCost struct {
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
	Steps  int     `json:"steps"`
}

// CostSummary aggregates closed-phase spend for an operation.
type CostSummary struct {
	OperationID string               `json:"operation_id"`
	Description string               `json:"description"`
	Phases      map[string]PhaseCost `json:"phases"`
	TotalTokens int                  `json:"total_tokens"`
	TotalCost   float64              `json:"total_cost"`
}
