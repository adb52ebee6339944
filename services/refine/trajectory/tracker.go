// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trajectory records the audit log of a refinement operation:
// which phases ran, every priced prompt/response exchange inside them,
// the validation verdicts, and the running token/dollar totals.
//
// A PhaseTracker drives exactly one operation. Phases may not overlap;
// a phase joins the trajectory only once it has ended, so summaries
// never report a half-finished phase.
package trajectory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/Refinery/services/refine/ledger"
)

var tracer = otel.Tracer("refine.trajectory")

// =============================================================================
// PhaseTracker
// =============================================================================

// PhaseTracker accumulates the trajectory of one multi-phase reasoning
// operation and feeds every priced exchange into the session ledger.
//
// Description:
//
//	Each operation runs as a sequence of non-overlapping phases. A phase
//	is opened with StartPhase, filled with RecordReasoningStep and
//	RecordValidation, and sealed with EndPhase, which stamps the end
//	time and appends the record to the trajectory. CompleteOperation
//	seals the whole trajectory, closing any still-open phase with an
//	unjudged verdict.
//
//	Every recorded step is priced with the ledger's estimator and pushed
//	into the session totals, so the budget gate sees reflective spend
//	the same as any other call.
//
// Thread Safety:
//
//	PhaseTracker is NOT safe for concurrent use. One tracker belongs to
//	one reasoning loop; wrap the shared ledger, not the tracker.
type PhaseTracker struct {
	ledger ledger.SessionLedger
	logger *slog.Logger

	traj     Trajectory
	open     *PhaseRecord
	openSpan trace.Span
	sealed   bool
}

// NewPhaseTracker creates a tracker for a single operation.
//
// Inputs:
//
//	led - Session ledger fed with every step's spend. Must not be nil.
//	operationID - Unique ID of the operation being tracked.
//	operationType - Kind of operation (e.g. "plan_refinement").
//	logger - Logger for phase lifecycle events. If nil, uses slog.Default().
//
// Outputs:
//
//	*PhaseTracker - The configured tracker.
//	error - ErrNilLedger if led is nil.
func NewPhaseTracker(led ledger.SessionLedger, operationID, operationType string, logger *slog.Logger) (*PhaseTracker, error) {
	if led == nil {
		return nil, ErrNilLedger
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PhaseTracker{
		ledger: led,
		logger: logger,
		traj: Trajectory{
			OperationID:   operationID,
			OperationType: operationType,
			Phases:        []PhaseRecord{},
		},
	}, nil
}

// OperationID returns the tracked operation's ID.
func (t *PhaseTracker) OperationID() string {
	return t.traj.OperationID
}

// OperationType returns the tracked operation's type.
func (t *PhaseTracker) OperationType() string {
	return t.traj.OperationType
}

// =============================================================================
// Phase lifecycle
// =============================================================================

// StartPhase opens a new phase of the operation.
//
// Inputs:
//
//	ctx - Context the phase span is parented to. Must not be nil.
//	phaseID - Identifier of the phase within the operation.
//	description - Human-readable purpose of the phase.
//	modelID - Model the phase's reasoning steps default to.
//
// Outputs:
//
//	error - ErrNilContext, ErrOperationComplete if the trajectory is
//	        sealed, or ErrPhaseAlreadyOpen if a phase is still open.
func (t *PhaseTracker) StartPhase(ctx context.Context, phaseID, description, modelID string) error {
	if ctx == nil {
		return ErrNilContext
	}
	if t.sealed {
		return fmt.Errorf("%w: cannot start phase %s", ErrOperationComplete, phaseID)
	}
	if t.open != nil {
		return fmt.Errorf("%w: %s must end before %s starts", ErrPhaseAlreadyOpen, t.open.PhaseID, phaseID)
	}

	t.open = &PhaseRecord{
		PhaseID:        phaseID,
		Description:    description,
		StartedAt:      time.Now(),
		ModelUsed:      modelID,
		ReasoningSteps: []ReasoningStep{},
		Outcome:        PhaseOutcome{Verdict: VerdictUnjudged},
	}

	_, t.openSpan = tracer.Start(ctx, "trajectory.Phase",
		trace.WithAttributes(
			attribute.String("operation.id", t.traj.OperationID),
			attribute.String("operation.type", t.traj.OperationType),
			attribute.String("phase.id", phaseID),
			attribute.String("phase.model", modelID),
		),
	)

	t.logger.Info("phase started",
		slog.String("operation_id", t.traj.OperationID),
		slog.String("phase_id", phaseID),
		slog.String("model", modelID),
	)
	return nil
}

// RecordReasoningStep prices one prompt/response exchange and appends
// it to the open phase.
//
// Description:
//
//	When the input carries a provider-reported token count, that count
//	is used and priced through the table; otherwise token counts are
//	taken on prompt and response separately and the dollar cost is
//	estimated on the concatenated text. Both phase and trajectory
//	totals are bumped, and the spend is pushed into the session ledger
//	so downstream budget checks see it.
//
// Outputs:
//
//	ReasoningStep - The appended step record.
//	error - ErrNoOpenPhase if no phase is open.
func (t *PhaseTracker) RecordReasoningStep(in StepInput) (ReasoningStep, error) {
	if t.open == nil {
		return ReasoningStep{}, fmt.Errorf("%w: cannot record step %s", ErrNoOpenPhase, in.StepID)
	}

	modelID := in.ModelID
	if modelID == "" {
		modelID = t.open.ModelUsed
	}

	var tokens int
	var cost float64
	if in.ActualTokens > 0 {
		tokens = in.ActualTokens
		cost = t.ledger.Pricing().CostForTokens(tokens, modelID)
	} else {
		tokens = ledger.CountTokens(in.Prompt) + ledger.CountTokens(in.Response)
		_, cost = t.ledger.Pricing().Estimate(in.Prompt+in.Response, modelID)
	}

	step := ReasoningStep{
		StepID:            in.StepID,
		Prompt:            in.Prompt,
		Response:          in.Response,
		TokensConsumed:    tokens,
		CostIncurred:      cost,
		ToolsUsed:         in.ToolsUsed,
		ContextChunksUsed: in.ContextChunksUsed,
	}
	t.open.ReasoningSteps = append(t.open.ReasoningSteps, step)
	t.open.TokensConsumed += tokens
	t.open.CostIncurred += cost

	t.traj.TotalTokensConsumed += tokens
	t.traj.TotalCostIncurred += cost

	t.ledger.TrackUsage(in.Prompt, in.Response, modelID, ledger.WithActuals(tokens, cost))

	t.logger.Debug("reasoning step recorded",
		slog.String("phase_id", t.open.PhaseID),
		slog.String("step_id", in.StepID),
		slog.Int("tokens", tokens),
		slog.Float64("cost", cost),
	)
	return step, nil
}

// RecordValidation appends a validation verdict for a step to the open
// phase. The step itself need not have been recorded; verdicts for
// unknown steps are kept so stubbed-out executions still leave a trail.
//
// Outputs:
//
//	error - ErrNoOpenPhase if no phase is open.
func (t *PhaseTracker) RecordValidation(stepID string, outcome bool, feedback string) error {
	if t.open == nil {
		return fmt.Errorf("%w: cannot record validation for step %s", ErrNoOpenPhase, stepID)
	}

	t.open.Validations = append(t.open.Validations, ValidationRecord{
		StepID:   stepID,
		Outcome:  outcome,
		Feedback: feedback,
	})
	return nil
}

// EndPhase seals the open phase with a verdict and appends it to the
// trajectory.
//
// Inputs:
//
//	verdict - Judgment of the phase. Unjudged is legal.
//	result - Phase result payload, if any.
//	feedback - Free-form note on the verdict.
//
// Outputs:
//
//	error - ErrNoOpenPhase if no phase is open.
func (t *PhaseTracker) EndPhase(verdict PhaseVerdict, result any, feedback string) error {
	if t.open == nil {
		return ErrNoOpenPhase
	}

	t.open.EndedAt = time.Now()
	t.open.Outcome = PhaseOutcome{Verdict: verdict, Result: result, Feedback: feedback}

	if t.openSpan != nil {
		t.openSpan.SetAttributes(
			attribute.Int("phase.tokens", t.open.TokensConsumed),
			attribute.Float64("phase.cost", t.open.CostIncurred),
			attribute.Int("phase.steps", len(t.open.ReasoningSteps)),
		)
		switch verdict {
		case VerdictSucceeded:
			t.openSpan.SetStatus(codes.Ok, "")
		case VerdictFailed:
			t.openSpan.SetStatus(codes.Error, feedback)
		}
		t.openSpan.End()
		t.openSpan = nil
	}

	t.logger.Info("phase ended",
		slog.String("operation_id", t.traj.OperationID),
		slog.String("phase_id", t.open.PhaseID),
		slog.String("verdict", verdict.String()),
		slog.Int("tokens", t.open.TokensConsumed),
		slog.Float64("cost", t.open.CostIncurred),
	)

	t.traj.Phases = append(t.traj.Phases, *t.open)
	t.open = nil
	return nil
}

// CompleteOperation seals the trajectory and returns it.
//
// Description:
//
//	A phase still open at completion is closed with an unjudged verdict
//	before sealing. Calling CompleteOperation again returns the already
//	sealed trajectory unchanged.
//
// Outputs:
//
//	*Trajectory - The sealed operation record.
func (t *PhaseTracker) CompleteOperation(success bool, finalResult any) *Trajectory {
	if t.sealed {
		return &t.traj
	}

	if t.open != nil {
		t.logger.Warn("completing operation with open phase",
			slog.String("operation_id", t.traj.OperationID),
			slog.String("phase_id", t.open.PhaseID),
		)
		_ = t.EndPhase(VerdictUnjudged, nil, "")
	}

	t.traj.OverallSuccess = success
	t.traj.FinalResult = finalResult
	t.sealed = true

	t.logger.Info("operation complete",
		slog.String("operation_id", t.traj.OperationID),
		slog.Bool("success", success),
		slog.Int("total_tokens", t.traj.TotalTokensConsumed),
		slog.Float64("total_cost", t.traj.TotalCostIncurred),
	)
	return &t.traj
}

// =============================================================================
// Reporting
// =============================================================================

// CostSummary reports per-phase spend for every closed phase plus the
// operation totals. An open phase's spend is in the totals but gets no
// per-phase entry until it ends.
func (t *PhaseTracker) CostSummary() CostSummary {
	summary := CostSummary{
		OperationID: t.traj.OperationID,
		Description: t.traj.OperationType,
		Phases:      make(map[string]PhaseCost, len(t.traj.Phases)),
		TotalTokens: t.traj.TotalTokensConsumed,
		TotalCost:   t.traj.TotalCostIncurred,
	}
	for _, phase := range t.traj.Phases {
		summary.Phases[phase.PhaseID] = PhaseCost{
			Tokens: phase.TokensConsumed,
			Cost:   phase.CostIncurred,
			Steps:  len(phase.ReasoningSteps),
		}
	}
	return summary
}
