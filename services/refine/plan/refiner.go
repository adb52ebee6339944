// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plan refines code-modification plans.
//
// A refiner takes a caller-supplied initial plan (often rough or even
// unparseable), has the model analyse it against the user request,
// generates an improved plan, and then iterates fixes until the plan
// passes schema and logical-consistency validation or the reasoning
// budget runs out. Every model call is charged to the session ledger
// and recorded on the operation's trajectory.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/Refinery/services/refine/engine"
	"github.com/AleutianAI/Refinery/services/refine/executor"
	"github.com/AleutianAI/Refinery/services/refine/hooks"
	"github.com/AleutianAI/Refinery/services/refine/ledger"
	"github.com/AleutianAI/Refinery/services/refine/trajectory"
)

// OperationType labels plan refinement operations on trajectories,
// scopes and metrics.
const OperationType = "plan_refinement"

const (
	phaseAnalyze  = "analyze_initial_plan"
	phaseGenerate = "generate_improved_plan"
)

// stepSchema is the shape every plan step must satisfy.
var stepSchema = hooks.ObjectSchema{
	Required: []string{"file", "action", "what", "how"},
	Properties: map[string]hooks.FieldSpec{
		"file":   {Type: "string"},
		"action": {Type: "string", Enum: []string{"create", "modify", "delete"}},
		"what":   {Type: "string"},
		"how":    {Type: "string"},
	},
}

// Request carries everything a plan refinement needs.
type Request struct {
	// InitialPlan is the starting plan as a JSON array. Invalid JSON
	// degrades to an empty plan rather than failing the operation.
	InitialPlan string `json:"initial_plan"`

	// UserRequest is the change the plan is meant to accomplish.
	UserRequest string `json:"user_request"`

	ProjectPath string `json:"project_path"`
	Language    string `json:"language"`

	// RetrievedContext is opaque caller-supplied context, embedded
	// verbatim in prompts.
	RetrievedContext string `json:"retrieved_context,omitempty"`
}

// Result is the outcome of a plan refinement.
type Result struct {
	Success    bool                   `json:"success"`
	Plan       *Plan                  `json:"plan,omitempty"`
	Valid      bool                   `json:"valid"`
	Iterations int                    `json:"iterations"`
	Trajectory *trajectory.Trajectory `json:"reasoning_trajectory,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Refiner runs plan refinement operations.
//
// Thread Safety: a Refiner is safe for concurrent Execute calls; each
// call gets its own run, scope and trajectory.
type Refiner struct {
	op *engine.Operator
}

// NewRefiner builds a plan refiner on the given ledger and executor.
//
// Inputs:
//
//	led - Session ledger charged for every reasoning step.
//	exec - Model backend.
//	modelID - Model to reason with; empty uses the executor's default.
//	opts - Engine options; the refiner reasons on the highest tier
//	unless overridden.
func NewRefiner(led ledger.SessionLedger, exec executor.Executor, modelID string, opts ...engine.Option) (*Refiner, error) {
	opts = append([]engine.Option{engine.WithModelTier(ledger.TierHighest)}, opts...)
	op, err := engine.NewOperator(OperationType, led, exec, modelID, opts...)
	if err != nil {
		return nil, err
	}
	op.Hooks().Register(hooks.NewSchemaHook(stepSchema))
	op.Hooks().Register(NewConsistencyHook())
	return &Refiner{op: op}, nil
}

// Hooks exposes the refiner's registry so callers can add their own
// validation.
func (r *Refiner) Hooks() *hooks.Registry {
	return r.op.Hooks()
}

// Execute runs one plan refinement operation.
//
// Description:
//
//	Two phases. The first parses the initial plan and asks the model
//	for a structured analysis; a step failure there is fatal. The
//	second generates an improved plan and refines it against the
//	schema and consistency hooks, at most the operator's reasoning
//	budget of fix rounds.
//
// Outputs:
//
//	*Result - Always non-nil with the sealed trajectory attached.
//	Documented failures land in Result.Error, never in a Go error;
//	panics from hooks or extraction are folded in the same way.
func (r *Refiner) Execute(ctx context.Context, req *Request) *Result {
	if req == nil {
		return &Result{Error: "request must not be nil"}
	}

	runCtx, run, err := r.op.NewRun(ctx)
	if err != nil {
		return &Result{Error: err.Error()}
	}

	result := r.guarded(runCtx, run, req)

	final := *result
	final.Trajectory = nil
	result.Trajectory = run.Complete(result.Success, final)
	return result
}

// guarded isolates a refinement run so a panic becomes a failed result
// instead of unwinding the caller.
func (r *Refiner) guarded(ctx context.Context, run *engine.Run, req *Request) (result *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.op.Logger().Error("plan refinement panicked",
				slog.String("operation_id", run.OperationID()),
				slog.Any("panic", rec))
			result = &Result{Error: fmt.Sprintf("plan refinement panicked: %v", rec)}
		}
	}()
	return r.refine(ctx, run, req)
}

func (r *Refiner) refine(ctx context.Context, run *engine.Run, req *Request) *Result {
	tracker := run.Tracker()
	logger := r.op.Logger()

	if err := run.Transition(engine.StateAnalyze); err != nil {
		return &Result{Error: err.Error()}
	}
	if err := tracker.StartPhase(ctx, phaseAnalyze, "Analyse initial plan and retrieve context", r.op.ModelID()); err != nil {
		return &Result{Error: err.Error()}
	}

	initial, err := ParsePlan(req.InitialPlan)
	if err != nil {
		logger.Warn("initial plan is not valid JSON; starting with empty plan",
			slog.String("operation_id", run.OperationID()))
		initial = &Plan{}
	}

	var stepOpts []engine.StepOption
	if req.RetrievedContext != "" {
		stepOpts = append(stepOpts, engine.WithContextChunks(req.RetrievedContext))
	}

	step, err := run.ExecuteReasoningStep(ctx, phaseAnalyze, "analyze_plan", analysisPrompt(initial, req), stepOpts...)
	if err != nil {
		if endErr := tracker.EndPhase(trajectory.VerdictFailed, nil, "Failed to analyse initial plan"); endErr != nil {
			logger.Warn("failed to end phase", slog.Any("error", endErr))
		}
		return &Result{Error: "Failed to analyse initial plan"}
	}

	analysis := ExtractAnalysis(step.Response)
	if err := tracker.EndPhase(trajectory.VerdictSucceeded, analysis, ""); err != nil {
		return &Result{Error: err.Error()}
	}

	loop, err := run.RefineLoop(ctx, engine.LoopSpec{
		PhaseID:         phaseGenerate,
		Description:     "Generate improved plan",
		GenerateStepID:  "generate_plan",
		GeneratePrompt:  improvementPrompt(initial, analysis, req),
		GenerateOptions: stepOpts,
		Extract: func(response string) (engine.Artifact, error) {
			return ExtractPlan(response)
		},
		Validate: func(artifact engine.Artifact) map[string]hooks.HookResult {
			return r.op.Hooks().RunValidationHooks(artifact.(*Plan).Raw)
		},
		FixPrompt: func(artifact engine.Artifact, results map[string]hooks.HookResult) string {
			return fixPrompt(artifact.(*Plan), results, req)
		},
		FixStepID: func(iteration int) string {
			return fmt.Sprintf("fix_plan_%d", iteration)
		},
		GenerateFailureFeedback: "Failed to generate improved plan",
	})
	if err != nil {
		return &Result{Error: err.Error()}
	}
	if loop.Failure != "" {
		return &Result{Error: loop.Failure}
	}

	improved, _ := loop.Artifact.(*Plan)
	return &Result{
		Success:    loop.Valid,
		Plan:       improved,
		Valid:      loop.Valid,
		Iterations: loop.Iterations,
	}
}

// =============================================================================
// Prompts
// =============================================================================

func analysisPrompt(initial *Plan, req *Request) string {
	return fmt.Sprintf(`# Plan Analysis Task

## User Request
%s

## Project Details
Path: %s
Language: %s

## Initial Plan
`+"```json\n%s\n```"+`

## Retrieved Context
%s

## Analysis Task
Identify missing steps, dependency issues, sequencing errors and any mismatches with the user request. Return a structured analysis.`,
		req.UserRequest, req.ProjectPath, req.Language, initial.Wire(), req.RetrievedContext)
}

func improvementPrompt(initial *Plan, analysis Analysis, req *Request) string {
	return fmt.Sprintf(`# Plan Improvement Task

## User Request
%s

## Initial Plan
`+"```json\n%s\n```"+`

## Analysis
%s

## Retrieved Context
%s

## Improvement Task
Produce an improved plan (JSON array with file/action/what/how) that resolves all issues.`,
		req.UserRequest, initial.Wire(), indentJSON(analysis), req.RetrievedContext)
}

func fixPrompt(current *Plan, results map[string]hooks.HookResult, req *Request) string {
	return fmt.Sprintf(`# Plan Fix Task

## User Request
%s

## Current Plan
`+"```json\n%s\n```"+`

## Validation Issues
%s

## Fix Task
Return a corrected JSON plan (array of steps with file/action/what/how).`,
		req.UserRequest, current.Wire(), strings.TrimRight(hooks.FormatFailures(results), "\n"))
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
