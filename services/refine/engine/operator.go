// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine provides the budget-governed reflective refinement
// loop shared by the concrete operators.
//
// An Operator bundles the session ledger, the executor, and a hook
// registry for one operation type. Each Execute call opens a Run: a
// fresh operation ID, a phase tracker, an operation-level budget
// scope, and a state machine walk from INIT to DONE. Reasoning steps
// execute under per-step child scopes so a denial stops one step
// without poisoning the run, and candidates are revised in a
// validate/fix loop until the hooks pass or the reasoning budget is
// exhausted.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/Refinery/services/refine/executor"
	"github.com/AleutianAI/Refinery/services/refine/hooks"
	"github.com/AleutianAI/Refinery/services/refine/ledger"
	"github.com/AleutianAI/Refinery/services/refine/trajectory"
)

var tracer = otel.Tracer("refine.engine")

var (
	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_reasoning_steps_total",
			Help: "Reasoning steps by operation type and outcome.",
		},
		[]string{"operation_type", "outcome"},
	)

	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_operations_total",
			Help: "Completed operations by type and success.",
		},
		[]string{"operation_type", "success"},
	)

	fixIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_fix_iterations",
			Help:    "Fix iterations consumed per refinement loop.",
			Buckets: prometheus.LinearBuckets(0, 1, 6),
		},
		[]string{"operation_type"},
	)
)

// DefaultMaxReasoningSteps bounds the fix loop when no override is
// given at construction.
const DefaultMaxReasoningSteps = 3

// =============================================================================
// Operator
// =============================================================================

// Operator is the reusable configuration for one operation type.
//
// Thread Safety:
//
//	An Operator is safe for concurrent Execute calls as long as hook
//	registration is finished before the first run starts. Each run
//	keeps its mutable state in its own Run value.
type Operator struct {
	opType   string
	ledger   ledger.SessionLedger
	exec     executor.Executor
	registry *hooks.Registry
	maxSteps int
	tier     ledger.ModelTier
	modelID  string
	logger   *slog.Logger
	machine  *StateMachine
}

// Option configures an Operator.
type Option func(*Operator)

// WithMaxReasoningSteps bounds the validate/fix loop. Values below one
// are ignored.
func WithMaxReasoningSteps(n int) Option {
	return func(o *Operator) {
		if n >= 1 {
			o.maxSteps = n
		}
	}
}

// WithModelTier labels the operator's budget scopes with a tier.
func WithModelTier(tier ledger.ModelTier) Option {
	return func(o *Operator) {
		o.tier = tier
	}
}

// WithLogger sets the logger used by the operator and its runs.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Operator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOperator creates the reusable configuration for one operation
// type.
//
// Inputs:
//
//	opType - Operation type label, e.g. "plan_refinement".
//	led - Session ledger charged by every reasoning step.
//	exec - Executor that runs reasoning prompts.
//	modelID - Model for reasoning steps; empty uses the executor's.
//
// Outputs:
//
//	*Operator - Configured operator with an empty hook registry.
//	error - ErrNilLedger or ErrNilExecutor on missing collaborators.
func NewOperator(opType string, led ledger.SessionLedger, exec executor.Executor, modelID string, opts ...Option) (*Operator, error) {
	if opType == "" {
		return nil, fmt.Errorf("operation type must not be empty")
	}
	if led == nil {
		return nil, ErrNilLedger
	}
	if exec == nil {
		return nil, ErrNilExecutor
	}
	if modelID == "" {
		modelID = exec.Model()
	}

	o := &Operator{
		opType:   opType,
		ledger:   led,
		exec:     exec,
		registry: hooks.NewRegistry(),
		maxSteps: DefaultMaxReasoningSteps,
		tier:     ledger.TierMiddle,
		modelID:  modelID,
		logger:   slog.Default(),
		machine:  DefaultStateMachine,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Type returns the operation type label.
func (o *Operator) Type() string {
	return o.opType
}

// Hooks returns the operator's hook registry for registration.
func (o *Operator) Hooks() *hooks.Registry {
	return o.registry
}

// Ledger returns the session ledger the operator charges.
func (o *Operator) Ledger() ledger.SessionLedger {
	return o.ledger
}

// ModelID returns the model reasoning steps run on.
func (o *Operator) ModelID() string {
	return o.modelID
}

// MaxReasoningSteps returns the fix-loop bound.
func (o *Operator) MaxReasoningSteps() int {
	return o.maxSteps
}

// Logger returns the operator's logger.
func (o *Operator) Logger() *slog.Logger {
	return o.logger
}

// =============================================================================
// Run
// =============================================================================

// Run is the mutable state of one Execute call: operation identity,
// phase tracker, operation-level budget scope, and the state machine
// position.
//
// Thread Safety:
//
//	A Run is confined to the goroutine executing the operation.
type Run struct {
	op          *Operator
	operationID string
	tracker     *trajectory.PhaseTracker
	scope       *ledger.BudgetScope
	span        trace.Span
	state       OperatorState
	completed   bool
}

// NewRun opens a fresh run for one operation.
//
// Description:
//
//	Mints the operation ID, opens the operation-level budget scope and
//	the phase tracker, and starts the operation span. The returned
//	context carries the span so phase and executor spans nest under
//	it.
//
// Outputs:
//
//	context.Context - Derived context carrying the operation span.
//	*Run - The run, positioned at INIT.
//	error - ErrNilContext, or a tracker construction failure.
func (o *Operator) NewRun(ctx context.Context) (context.Context, *Run, error) {
	if ctx == nil {
		return nil, nil, ErrNilContext
	}

	operationID := fmt.Sprintf("%s_%s", o.opType, uuid.NewString()[:8])
	tracker, err := trajectory.NewPhaseTracker(o.ledger, operationID, o.opType, o.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open run %s: %w", operationID, err)
	}

	scope := ledger.NewScope(o.ledger, operationID, o.opType, o.modelID,
		ledger.WithModelTier(o.tier),
	)

	ctx, span := tracer.Start(ctx, "engine.Operation", trace.WithAttributes(
		attribute.String("operation.id", operationID),
		attribute.String("operation.type", o.opType),
		attribute.String("operation.model", o.modelID),
	))

	o.logger.Info("operation started",
		slog.String("operation_id", operationID),
		slog.String("operation_type", o.opType),
		slog.String("model", o.modelID),
	)

	return ctx, &Run{
		op:          o,
		operationID: operationID,
		tracker:     tracker,
		scope:       scope,
		span:        span,
		state:       StateInit,
	}, nil
}

// OperationID returns the run's operation identifier.
func (r *Run) OperationID() string {
	return r.operationID
}

// State returns the run's current state.
func (r *Run) State() OperatorState {
	return r.state
}

// Tracker returns the run's phase tracker.
func (r *Run) Tracker() *trajectory.PhaseTracker {
	return r.tracker
}

// Scope returns the operation-level budget scope.
func (r *Run) Scope() *ledger.BudgetScope {
	return r.scope
}

// Transition moves the run to a new state.
//
// Outputs:
//
//	error - ErrInvalidTransition when the state machine forbids it.
func (r *Run) Transition(to OperatorState) error {
	next, err := r.op.machine.Transition(r.state, to)
	if err != nil {
		return err
	}

	r.op.logger.Debug("state transition",
		slog.String("operation_id", r.operationID),
		slog.String("from", r.state.String()),
		slog.String("to", next.String()),
	)
	r.state = next
	return nil
}

// ReasoningPrompt builds the step-by-step reasoning prompt for a task,
// stamped with the run's operation identity.
func (r *Run) ReasoningPrompt(task, contextText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task Description\n%s\n\n", task)
	fmt.Fprintf(&b, "# Current Operation\nID: %s\nType: %s\n", r.operationID, r.op.opType)
	if contextText != "" {
		fmt.Fprintf(&b, "\n# Context\n%s\n", contextText)
	}
	b.WriteString("\n# Reasoning Process\nPlease think step-by-step:\n")
	b.WriteString("1. Understand the task\n")
	b.WriteString("2. Break it into sub-tasks\n")
	b.WriteString("3. Solve each sub-task\n")
	b.WriteString("4. Validate your result\n")
	b.WriteString("5. Provide a concise answer and rationale.")
	return b.String()
}

// =============================================================================
// Reasoning Steps
// =============================================================================

type stepParams struct {
	tier    ledger.ModelTier
	modelID string
	tools   []string
	chunks  []string
}

// StepOption adjusts one reasoning step.
type StepOption func(*stepParams)

// WithStepTier overrides the budget-scope tier for one step.
func WithStepTier(tier ledger.ModelTier) StepOption {
	return func(p *stepParams) {
		p.tier = tier
	}
}

// WithStepModel overrides the model for one step.
func WithStepModel(modelID string) StepOption {
	return func(p *stepParams) {
		if modelID != "" {
			p.modelID = modelID
		}
	}
}

// WithToolsUsed records tool names against the step's trajectory entry.
func WithToolsUsed(tools ...string) StepOption {
	return func(p *stepParams) {
		p.tools = tools
	}
}

// WithContextChunks records retrieval chunk IDs against the step.
func WithContextChunks(ids ...string) StepOption {
	return func(p *stepParams) {
		p.chunks = ids
	}
}

// ExecuteReasoningStep runs one prompt through the executor under a
// per-step budget scope and records the exchange in the open phase.
//
// Description:
//
//	The step gets its own child scope named {operation}_{phase}_{step}
//	so consumption rolls up to the operation scope while approval is
//	judged against the step's own estimate. A denial never reaches the
//	executor. Provider-reported token usage, when present, is what the
//	ledger is charged with.
//
// Outputs:
//
//	*trajectory.ReasoningStep - The recorded step.
//	error - ErrStepDenied on refusal, ErrNoResponse when the executor
//	returns nothing, or the executor's own failure.
func (r *Run) ExecuteReasoningStep(ctx context.Context, phaseID, stepID, prompt string, opts ...StepOption) (*trajectory.ReasoningStep, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	params := stepParams{tier: r.op.tier, modelID: r.op.modelID}
	for _, opt := range opts {
		opt(&params)
	}

	scope := ledger.NewScope(r.op.ledger,
		fmt.Sprintf("%s_%s_%s", r.operationID, phaseID, stepID),
		fmt.Sprintf("Reasoning step %s in phase %s", stepID, phaseID),
		params.modelID,
		ledger.WithModelTier(params.tier),
		ledger.WithParentScope(r.operationID),
	)
	defer scope.Close()

	if !scope.RequestApproval(fmt.Sprintf("Reasoning step %s", stepID), prompt) {
		stepsTotal.WithLabelValues(r.op.opType, "denied").Inc()
		r.op.logger.Warn("reasoning step denied",
			slog.String("operation_id", r.operationID),
			slog.String("phase_id", phaseID),
			slog.String("step_id", stepID),
		)
		return nil, fmt.Errorf("%w: %s", ErrStepDenied, stepID)
	}

	resp, err := r.op.exec.Run(ctx, &executor.Request{
		Prompt:  prompt,
		ModelID: params.modelID,
	})
	if err != nil {
		stepsTotal.WithLabelValues(r.op.opType, "failed").Inc()
		r.op.logger.Error("reasoning step failed",
			slog.String("operation_id", r.operationID),
			slog.String("step_id", stepID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("reasoning step %s: %w", stepID, err)
	}
	if resp == nil {
		stepsTotal.WithLabelValues(r.op.opType, "failed").Inc()
		return nil, fmt.Errorf("%w: step %s", ErrNoResponse, stepID)
	}

	modelID := resp.ModelID
	if modelID == "" {
		modelID = params.modelID
	}
	step, err := r.tracker.RecordReasoningStep(trajectory.StepInput{
		StepID:            stepID,
		Prompt:            prompt,
		Response:          resp.Content,
		ModelID:           modelID,
		ActualTokens:      resp.TokensUsed,
		ToolsUsed:         params.tools,
		ContextChunksUsed: params.chunks,
	})
	if err != nil {
		return nil, err
	}

	stepsTotal.WithLabelValues(r.op.opType, "executed").Inc()
	return &step, nil
}

// =============================================================================
// Refinement Loop
// =============================================================================

// LoopSpec configures one generate/validate/fix phase of a run.
//
// Extract turns a raw response into an artifact. When extraction
// cannot find a payload it returns an error wrapping
// ErrMalformedArtifact; unless AbortOnMalformed is set it must still
// return a usable empty artifact so the loop can keep iterating on
// it.
type LoopSpec struct {
	PhaseID        string
	Description    string
	GenerateStepID string
	GeneratePrompt string

	// GenerateOptions apply to the generate step only, fix steps run
	// bare.
	GenerateOptions []StepOption

	// Extract parses a response into a candidate artifact.
	Extract func(response string) (Artifact, error)

	// Validate runs the operator's hooks over a candidate and returns
	// the verdicts. Split-target operators run several passes and
	// merge.
	Validate func(artifact Artifact) map[string]hooks.HookResult

	// FixPrompt builds the revision prompt from the current candidate
	// and its failing verdicts.
	FixPrompt func(artifact Artifact, results map[string]hooks.HookResult) string

	// FixStepID names the fix step for an iteration. Defaults to
	// fix_{iteration}.
	FixStepID func(iteration int) string

	// AbortOnMalformed ends the phase when extraction fails instead of
	// iterating on an empty artifact.
	AbortOnMalformed bool

	// GenerateFailureFeedback is the phase feedback recorded when the
	// generate step itself fails or is denied.
	GenerateFailureFeedback string

	// MalformedFeedback is the phase feedback recorded when extraction
	// fails and AbortOnMalformed is set.
	MalformedFeedback string

	// PhaseFeedback renders the closing phase feedback from the final
	// verdict. Optional.
	PhaseFeedback func(valid bool) string
}

// LoopResult is the outcome of one refinement loop.
type LoopResult struct {
	// Artifact is the last candidate, best effort when invalid. Nil
	// only when the loop aborted before any candidate existed.
	Artifact Artifact

	// Valid reports whether the final candidate is non-empty and
	// passed every hook.
	Valid bool

	// Iterations counts completed fix attempts. Zero when the first
	// candidate validated.
	Iterations int

	// Results holds the final validation verdicts by hook ID.
	Results map[string]hooks.HookResult

	// Failure carries the phase feedback when the loop aborted early.
	Failure string
}

// RefineLoop runs one generate/validate/fix phase to completion.
//
// Description:
//
//	Opens the phase, executes the generate step, extracts the first
//	candidate, then alternates VALIDATE and FIX until the candidate
//	passes every hook or the operator's reasoning budget is spent.
//	Documented failures (step denial, executor errors, malformed
//	responses) end the phase and come back inside the LoopResult; the
//	error return is reserved for misuse such as calling with no run
//	state to transition from.
//
// Outputs:
//
//	LoopResult - Final candidate, validity, and fix-iteration count.
//	error - Non-nil only on tracker or state machine misuse.
func (r *Run) RefineLoop(ctx context.Context, spec LoopSpec) (LoopResult, error) {
	if ctx == nil {
		return LoopResult{}, ErrNilContext
	}
	if spec.Extract == nil || spec.Validate == nil || spec.FixPrompt == nil {
		return LoopResult{}, fmt.Errorf("refine loop: Extract, Validate and FixPrompt are required")
	}
	fixStepID := spec.FixStepID
	if fixStepID == nil {
		fixStepID = func(i int) string { return fmt.Sprintf("fix_%d", i) }
	}
	phaseFeedback := spec.PhaseFeedback
	if phaseFeedback == nil {
		phaseFeedback = func(bool) string { return "" }
	}

	if err := r.tracker.StartPhase(ctx, spec.PhaseID, spec.Description, r.op.modelID); err != nil {
		return LoopResult{}, err
	}
	if err := r.Transition(StateGenerate); err != nil {
		return LoopResult{}, err
	}

	step, err := r.ExecuteReasoningStep(ctx, spec.PhaseID, spec.GenerateStepID, spec.GeneratePrompt, spec.GenerateOptions...)
	if err != nil {
		if endErr := r.tracker.EndPhase(trajectory.VerdictFailed, nil, spec.GenerateFailureFeedback); endErr != nil {
			return LoopResult{}, endErr
		}
		return LoopResult{Failure: spec.GenerateFailureFeedback}, nil
	}

	artifact, xerr := spec.Extract(step.Response)
	if xerr != nil {
		r.op.logger.Warn("artifact extraction failed",
			slog.String("operation_id", r.operationID),
			slog.String("phase_id", spec.PhaseID),
			slog.String("error", xerr.Error()),
		)
		if spec.AbortOnMalformed {
			if endErr := r.tracker.EndPhase(trajectory.VerdictFailed, nil, spec.MalformedFeedback); endErr != nil {
				return LoopResult{}, endErr
			}
			return LoopResult{Artifact: artifact, Failure: spec.MalformedFeedback}, nil
		}
	}

	if err := r.Transition(StateValidate); err != nil {
		return LoopResult{}, err
	}
	results := spec.Validate(artifact)
	valid := !artifact.Empty() && hooks.AllPassed(results)
	if err := r.tracker.RecordValidation(spec.GenerateStepID, valid, hooks.FormatFeedback(results)); err != nil {
		return LoopResult{}, err
	}

	iterations := 0
	for !valid && iterations < r.op.maxSteps {
		if err := r.Transition(StateFix); err != nil {
			return LoopResult{}, err
		}

		stepID := fixStepID(iterations)
		step, err := r.ExecuteReasoningStep(ctx, spec.PhaseID, stepID, spec.FixPrompt(artifact, results))
		if err != nil {
			break
		}

		next, xerr := spec.Extract(step.Response)
		if xerr != nil {
			r.op.logger.Warn("artifact extraction failed",
				slog.String("operation_id", r.operationID),
				slog.String("phase_id", spec.PhaseID),
				slog.String("step_id", stepID),
				slog.String("error", xerr.Error()),
			)
			if spec.AbortOnMalformed {
				break
			}
		}
		artifact = next

		if err := r.Transition(StateValidate); err != nil {
			return LoopResult{}, err
		}
		results = spec.Validate(artifact)
		valid = !artifact.Empty() && hooks.AllPassed(results)
		if err := r.tracker.RecordValidation(stepID, valid, hooks.FormatFeedback(results)); err != nil {
			return LoopResult{}, err
		}
		iterations++
	}

	verdict := trajectory.VerdictFailed
	if valid {
		verdict = trajectory.VerdictSucceeded
	}
	if err := r.tracker.EndPhase(verdict, artifact, phaseFeedback(valid)); err != nil {
		return LoopResult{}, err
	}

	fixIterations.WithLabelValues(r.op.opType).Observe(float64(iterations))
	r.op.logger.Info("refinement loop finished",
		slog.String("operation_id", r.operationID),
		slog.String("phase_id", spec.PhaseID),
		slog.Bool("valid", valid),
		slog.Int("iterations", iterations),
	)

	return LoopResult{
		Artifact:   artifact,
		Valid:      valid,
		Iterations: iterations,
		Results:    results,
	}, nil
}

// =============================================================================
// Completion
// =============================================================================

// Complete seals the run and returns its trajectory.
//
// Description:
//
//	Forces the state machine to DONE, seals the tracker, closes the
//	operation scope, and ends the operation span. Safe to call more
//	than once; later calls return the sealed trajectory unchanged.
func (r *Run) Complete(success bool, finalResult any) *trajectory.Trajectory {
	traj := r.tracker.CompleteOperation(success, finalResult)
	if r.completed {
		return traj
	}
	r.completed = true

	if r.state != StateDone {
		if err := r.Transition(StateDone); err != nil {
			r.op.logger.Warn("run completion transition failed",
				slog.String("operation_id", r.operationID),
				slog.String("state", r.state.String()),
			)
		}
	}

	r.scope.Close()

	r.span.SetAttributes(
		attribute.Bool("operation.success", success),
		attribute.Int("operation.tokens", traj.TotalTokensConsumed),
		attribute.Float64("operation.cost", traj.TotalCostIncurred),
	)
	if success {
		r.span.SetStatus(codes.Ok, "")
	} else {
		r.span.SetStatus(codes.Error, "operation failed")
	}
	r.span.End()

	operationsTotal.WithLabelValues(r.op.opType, strconv.FormatBool(success)).Inc()
	return traj
}
