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

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/AleutianAI/Refinery/services/refine/ledger"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(t *testing.T) *ledger.CostLedger {
	t.Helper()
	table, err := ledger.GetPriceTable(context.Background())
	if err != nil {
		t.Fatalf("GetPriceTable() error = %v", err)
	}
	l, err := ledger.NewCostLedger(
		ledger.WithPricing(table),
		ledger.WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("NewCostLedger() error = %v", err)
	}
	return l
}

func newTestTracker(t *testing.T) (*PhaseTracker, *ledger.CostLedger) {
	t.Helper()
	l := newTestLedger(t)
	tracker, err := NewPhaseTracker(l, "plan_refinement_abc12345", "plan_refinement", discardLogger())
	if err != nil {
		t.Fatalf("NewPhaseTracker() error = %v", err)
	}
	return tracker, l
}

func TestNewPhaseTracker_NilLedger(t *testing.T) {
	_, err := NewPhaseTracker(nil, "op", "test", nil)
	if !errors.Is(err, ErrNilLedger) {
		t.Errorf("NewPhaseTracker(nil ledger) error = %v, want ErrNilLedger", err)
	}
}

func TestPhaseTracker_Identity(t *testing.T) {
	tracker, _ := newTestTracker(t)
	if got := tracker.OperationID(); got != "plan_refinement_abc12345" {
		t.Errorf("OperationID() = %q", got)
	}
	if got := tracker.OperationType(); got != "plan_refinement" {
		t.Errorf("OperationType() = %q", got)
	}
}

func TestStartPhase_NilContext(t *testing.T) {
	tracker, _ := newTestTracker(t)
	//nolint:staticcheck // deliberately testing nil context handling
	if err := tracker.StartPhase(nil, "analyze", "look at the plan", "gpt-4"); !errors.Is(err, ErrNilContext) {
		t.Errorf("StartPhase(nil ctx) error = %v, want ErrNilContext", err)
	}
}

func TestStartPhase_RejectsOverlap(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	if err := tracker.StartPhase(ctx, "analyze", "first phase", "gpt-4"); err != nil {
		t.Fatalf("StartPhase() error = %v", err)
	}
	err := tracker.StartPhase(ctx, "generate", "second phase", "gpt-4")
	if !errors.Is(err, ErrPhaseAlreadyOpen) {
		t.Fatalf("overlapping StartPhase() error = %v, want ErrPhaseAlreadyOpen", err)
	}
	if !strings.Contains(err.Error(), "analyze") {
		t.Errorf("error %q should name the open phase", err)
	}
}

func TestRecordReasoningStep_NoOpenPhase(t *testing.T) {
	tracker, _ := newTestTracker(t)
	_, err := tracker.RecordReasoningStep(StepInput{StepID: "step_1", Prompt: "p", Response: "r"})
	if !errors.Is(err, ErrNoOpenPhase) {
		t.Errorf("RecordReasoningStep() error = %v, want ErrNoOpenPhase", err)
	}
}

func TestRecordValidation_NoOpenPhase(t *testing.T) {
	tracker, _ := newTestTracker(t)
	if err := tracker.RecordValidation("step_1", true, "fine"); !errors.Is(err, ErrNoOpenPhase) {
		t.Errorf("RecordValidation() error = %v, want ErrNoOpenPhase", err)
	}
}

func TestEndPhase_NoOpenPhase(t *testing.T) {
	tracker, _ := newTestTracker(t)
	if err := tracker.EndPhase(VerdictSucceeded, nil, ""); !errors.Is(err, ErrNoOpenPhase) {
		t.Errorf("EndPhase() error = %v, want ErrNoOpenPhase", err)
	}
}

func TestRecordReasoningStep_PricesAndFeedsLedger(t *testing.T) {
	tracker, l := newTestTracker(t)
	ctx := context.Background()

	if err := tracker.StartPhase(ctx, "analyze", "analyze the plan", "gpt-4"); err != nil {
		t.Fatalf("StartPhase() error = %v", err)
	}

	// 400 prompt chars and 200 response chars price as 100 + 50 tokens;
	// the cost reads off the concatenated 600 chars at gpt-4's rate.
	prompt := strings.Repeat("p", 400)
	response := strings.Repeat("r", 200)
	step, err := tracker.RecordReasoningStep(StepInput{
		StepID:   "step_1",
		Prompt:   prompt,
		Response: response,
	})
	if err != nil {
		t.Fatalf("RecordReasoningStep() error = %v", err)
	}

	if step.TokensConsumed != 150 {
		t.Errorf("step tokens = %d, want 150", step.TokensConsumed)
	}
	if step.CostIncurred != 0.0045 {
		t.Errorf("step cost = %v, want 0.0045", step.CostIncurred)
	}

	gotTokens, gotCost := l.SessionConsumption()
	if gotTokens != 150 || gotCost != 0.0045 {
		t.Errorf("SessionConsumption() = (%d, %v), want (150, 0.0045)", gotTokens, gotCost)
	}
	stats := l.ProviderBreakdown()[ledger.ProviderOpenAI]
	if stats.Calls != 1 || stats.Tokens != 150 {
		t.Errorf("openai stats = %+v, want 1 call of 150 tokens", stats)
	}
}

func TestRecordReasoningStep_ActualTokensOverrideEstimate(t *testing.T) {
	tracker, l := newTestTracker(t)
	ctx := context.Background()

	if err := tracker.StartPhase(ctx, "analyze", "analyze the plan", "gpt-4"); err != nil {
		t.Fatalf("StartPhase() error = %v", err)
	}

	// The text would estimate to a handful of tokens; the provider count
	// wins and is priced through the table (200 tokens at $0.03/1k).
	step, err := tracker.RecordReasoningStep(StepInput{
		StepID:       "step_1",
		Prompt:       "short prompt",
		Response:     "short response",
		ActualTokens: 200,
	})
	if err != nil {
		t.Fatalf("RecordReasoningStep() error = %v", err)
	}

	if step.TokensConsumed != 200 {
		t.Errorf("step tokens = %d, want 200", step.TokensConsumed)
	}
	if step.CostIncurred != 0.006 {
		t.Errorf("step cost = %v, want 0.006", step.CostIncurred)
	}
	if gotTokens, _ := l.SessionConsumption(); gotTokens != 200 {
		t.Errorf("session tokens = %d, want the provider-reported 200", gotTokens)
	}
}

func TestRecordReasoningStep_ModelFallsBackToPhase(t *testing.T) {
	tracker, l := newTestTracker(t)
	ctx := context.Background()

	if err := tracker.StartPhase(ctx, "analyze", "analyze the plan", "groq/llama-3.1-8b-instant"); err != nil {
		t.Fatalf("StartPhase() error = %v", err)
	}
	if _, err := tracker.RecordReasoningStep(StepInput{StepID: "step_1", Prompt: "hi", Response: "ok"}); err != nil {
		t.Fatalf("RecordReasoningStep() error = %v", err)
	}

	if stats := l.ProviderBreakdown()[ledger.ProviderGroq]; stats.Calls != 1 {
		t.Errorf("groq stats = %+v, want the step attributed to the phase model", stats)
	}
}

func TestRecordReasoningStep_AccumulatesTotals(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	if err := tracker.StartPhase(ctx, "analyze", "analyze the plan", "gpt-4"); err != nil {
		t.Fatalf("StartPhase() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		_, err := tracker.RecordReasoningStep(StepInput{
			StepID:   "step",
			Prompt:   strings.Repeat("p", 400),
			Response: strings.Repeat("r", 200),
		})
		if err != nil {
			t.Fatalf("RecordReasoningStep() error = %v", err)
		}
	}
	if err := tracker.EndPhase(VerdictSucceeded, nil, ""); err != nil {
		t.Fatalf("EndPhase() error = %v", err)
	}

	traj := tracker.CompleteOperation(true, nil)
	if traj.TotalTokensConsumed != 450 {
		t.Errorf("trajectory tokens = %d, want 450", traj.TotalTokensConsumed)
	}
	if len(traj.Phases) != 1 {
		t.Fatalf("len(Phases) = %d, want 1", len(traj.Phases))
	}
	if got := traj.Phases[0].TokensConsumed; got != 450 {
		t.Errorf("phase tokens = %d, want 450", got)
	}
	if got := len(traj.Phases[0].ReasoningSteps); got != 3 {
		t.Errorf("len(ReasoningSteps) = %d, want 3", got)
	}
}

func TestRecordValidation_AppendsToOpenPhase(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	if err := tracker.StartPhase(ctx, "analyze", "analyze the plan", "gpt-4"); err != nil {
		t.Fatalf("StartPhase() error = %v", err)
	}
	// A verdict for a step that was never recorded still lands.
	if err := tracker.RecordValidation("ghost_step", false, "syntax error"); err != nil {
		t.Fatalf("RecordValidation() error = %v", err)
	}
	if err := tracker.EndPhase(VerdictFailed, nil, "validation failed"); err != nil {
		t.Fatalf("EndPhase() error = %v", err)
	}

	traj := tracker.CompleteOperation(false, nil)
	vals := traj.Phases[0].Validations
	if len(vals) != 1 {
		t.Fatalf("len(Validations) = %d, want 1", len(vals))
	}
	if vals[0].StepID != "ghost_step" || vals[0].Outcome || vals[0].Feedback != "syntax error" {
		t.Errorf("validation = %+v", vals[0])
	}
}

func TestEndPhase_SealsRecord(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	if err := tracker.StartPhase(ctx, "analyze", "analyze the plan", "gpt-4"); err != nil {
		t.Fatalf("StartPhase() error = %v", err)
	}
	if err := tracker.EndPhase(VerdictSucceeded, "a plan", "looks good"); err != nil {
		t.Fatalf("EndPhase() error = %v", err)
	}

	traj := tracker.CompleteOperation(true, nil)
	phase := traj.Phases[0]
	if phase.EndedAt.IsZero() {
		t.Error("EndedAt not stamped")
	}
	if phase.EndedAt.Before(phase.StartedAt) {
		t.Error("EndedAt before StartedAt")
	}
	if phase.Outcome.Verdict != VerdictSucceeded {
		t.Errorf("verdict = %q, want succeeded", phase.Outcome.Verdict)
	}
	if phase.Outcome.Result != "a plan" || phase.Outcome.Feedback != "looks good" {
		t.Errorf("outcome = %+v", phase.Outcome)
	}
}

func TestCompleteOperation_AutoClosesOpenPhaseUnjudged(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	if err := tracker.StartPhase(ctx, "verify", "verify the fix", "gpt-4"); err != nil {
		t.Fatalf("StartPhase() error = %v", err)
	}

	traj := tracker.CompleteOperation(false, nil)
	if len(traj.Phases) != 1 {
		t.Fatalf("len(Phases) = %d, want the dangling phase closed", len(traj.Phases))
	}
	if got := traj.Phases[0].Outcome.Verdict; got != VerdictUnjudged {
		t.Errorf("auto-closed verdict = %q, want unjudged", got)
	}
	if traj.Phases[0].EndedAt.IsZero() {
		t.Error("auto-closed phase missing EndedAt")
	}
	if traj.OverallSuccess {
		t.Error("OverallSuccess = true, want false")
	}
}

func TestCompleteOperation_Idempotent(t *testing.T) {
	tracker, _ := newTestTracker(t)

	first := tracker.CompleteOperation(true, "the result")
	second := tracker.CompleteOperation(false, "ignored")

	if first != second {
		t.Error("repeat CompleteOperation() returned a different trajectory")
	}
	if !second.OverallSuccess {
		t.Error("repeat call overwrote OverallSuccess")
	}
	if second.FinalResult != "the result" {
		t.Errorf("FinalResult = %v, want the first call's value", second.FinalResult)
	}
}

func TestStartPhase_AfterCompletion(t *testing.T) {
	tracker, _ := newTestTracker(t)
	tracker.CompleteOperation(true, nil)

	err := tracker.StartPhase(context.Background(), "late", "too late", "gpt-4")
	if !errors.Is(err, ErrOperationComplete) {
		t.Errorf("StartPhase() after completion error = %v, want ErrOperationComplete", err)
	}
}

func TestCostSummary_ClosedPhasesOnly(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	if err := tracker.StartPhase(ctx, "analyze", "analyze the plan", "gpt-4"); err != nil {
		t.Fatalf("StartPhase() error = %v", err)
	}
	if _, err := tracker.RecordReasoningStep(StepInput{
		StepID:   "step_1",
		Prompt:   strings.Repeat("p", 400),
		Response: strings.Repeat("r", 200),
	}); err != nil {
		t.Fatalf("RecordReasoningStep() error = %v", err)
	}
	if err := tracker.EndPhase(VerdictSucceeded, nil, ""); err != nil {
		t.Fatalf("EndPhase() error = %v", err)
	}

	if err := tracker.StartPhase(ctx, "generate", "generate a fix", "gpt-4"); err != nil {
		t.Fatalf("StartPhase() error = %v", err)
	}
	if _, err := tracker.RecordReasoningStep(StepInput{
		StepID:   "step_1",
		Prompt:   strings.Repeat("p", 400),
		Response: strings.Repeat("r", 200),
	}); err != nil {
		t.Fatalf("RecordReasoningStep() error = %v", err)
	}

	summary := tracker.CostSummary()
	if summary.OperationID != "plan_refinement_abc12345" {
		t.Errorf("OperationID = %q", summary.OperationID)
	}
	if summary.Description != "plan_refinement" {
		t.Errorf("Description = %q", summary.Description)
	}
	if len(summary.Phases) != 1 {
		t.Fatalf("len(Phases) = %d, want only the closed phase", len(summary.Phases))
	}
	closed, ok := summary.Phases["analyze"]
	if !ok {
		t.Fatal("closed phase missing from summary")
	}
	if closed.Tokens != 150 || closed.Steps != 1 {
		t.Errorf("closed phase = %+v, want 150 tokens over 1 step", closed)
	}
	if closed.Cost != 0.0045 {
		t.Errorf("closed phase cost = %v, want 0.0045", closed.Cost)
	}

	// The open phase's spend is still in the totals.
	if summary.TotalTokens != 300 {
		t.Errorf("TotalTokens = %d, want 300", summary.TotalTokens)
	}
}

func TestPhaseVerdict_Succeeded(t *testing.T) {
	if !VerdictSucceeded.Succeeded() {
		t.Error("VerdictSucceeded.Succeeded() = false")
	}
	if VerdictFailed.Succeeded() {
		t.Error("VerdictFailed.Succeeded() = true")
	}
	if VerdictUnjudged.Succeeded() {
		t.Error("VerdictUnjudged.Succeeded() = true")
	}
}
