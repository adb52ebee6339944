// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/AleutianAI/Refinery/services/refine/engine"
	"github.com/AleutianAI/Refinery/services/refine/executor"
	"github.com/AleutianAI/Refinery/services/refine/ledger"
	"github.com/AleutianAI/Refinery/services/refine/trajectory"
)

const (
	analysisResponse = "The plan is missing tests but otherwise coherent."

	validPlanResponse = "Improved plan:\n```json\n" +
		`[
  {"file": "a.go", "action": "create", "what": "Add the handler", "how": "Write the file"},
  {"file": "a.go", "action": "modify", "what": "Register the route", "how": "Edit main"}
]` + "\n```"

	inconsistentPlanResponse = "Attempt:\n```json\n" +
		`[{"file": "b.go", "action": "modify", "what": "Patch it", "how": "Edit in place"}]` + "\n```"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(t *testing.T, opts ...ledger.Option) *ledger.CostLedger {
	t.Helper()
	table, err := ledger.GetPriceTable(context.Background())
	if err != nil {
		t.Fatalf("GetPriceTable() error = %v", err)
	}
	opts = append([]ledger.Option{
		ledger.WithPricing(table),
		ledger.WithLogger(discardLogger()),
	}, opts...)
	l, err := ledger.NewCostLedger(opts...)
	if err != nil {
		t.Fatalf("NewCostLedger() error = %v", err)
	}
	return l
}

func newTestRefiner(t *testing.T, exec executor.Executor) *Refiner {
	t.Helper()
	r, err := NewRefiner(newTestLedger(t), exec, "", engine.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewRefiner() error = %v", err)
	}
	return r
}

func testRequest() *Request {
	return &Request{
		InitialPlan:      `[{"file": "x.go", "action": "create", "what": "Seed", "how": "Initial"}]`,
		UserRequest:      "Add a health endpoint",
		ProjectPath:      "/srv/app",
		Language:         "go",
		RetrievedContext: "handler conventions",
	}
}

func TestNewRefiner_RegistersHooks(t *testing.T) {
	r := newTestRefiner(t, executor.NewMock())

	if got := r.Hooks().Len(); got != 2 {
		t.Fatalf("Hooks().Len() = %d, want 2", got)
	}
	if _, ok := r.Hooks().Get("schema_validation"); !ok {
		t.Error("schema_validation hook not registered")
	}
	if _, ok := r.Hooks().Get("plan_logical_consistency"); !ok {
		t.Error("plan_logical_consistency hook not registered")
	}
}

func TestNewRefiner_RequiresLedger(t *testing.T) {
	if _, err := NewRefiner(nil, executor.NewMock(), ""); err == nil {
		t.Error("NewRefiner() accepted a nil ledger")
	}
}

func TestExecute_FirstPassValid(t *testing.T) {
	mock := executor.NewMock().
		QueueContent(analysisResponse).
		QueueContent(validPlanResponse)
	r := newTestRefiner(t, mock)

	res := r.Execute(context.Background(), testRequest())

	if res.Error != "" {
		t.Fatalf("Error = %q, want empty", res.Error)
	}
	if !res.Success || !res.Valid {
		t.Errorf("Success = %v, Valid = %v, want true, true", res.Success, res.Valid)
	}
	if res.Iterations != 0 {
		t.Errorf("Iterations = %d, want 0", res.Iterations)
	}
	if res.Plan == nil || len(res.Plan.Steps) != 2 {
		t.Fatalf("Plan = %+v, want two steps", res.Plan)
	}
	if mock.CallCount() != 2 {
		t.Errorf("CallCount() = %d, want 2", mock.CallCount())
	}

	traj := res.Trajectory
	if traj == nil {
		t.Fatal("Trajectory = nil")
	}
	if !traj.OverallSuccess {
		t.Error("OverallSuccess = false, want true")
	}
	if !strings.HasPrefix(traj.OperationID, "plan_refinement_") {
		t.Errorf("OperationID = %q, want plan_refinement_ prefix", traj.OperationID)
	}
	if len(traj.Phases) != 2 {
		t.Fatalf("len(Phases) = %d, want 2", len(traj.Phases))
	}
	if traj.Phases[0].PhaseID != "analyze_initial_plan" || !traj.Phases[0].Outcome.Verdict.Succeeded() {
		t.Errorf("phase 0 = %s (%s)", traj.Phases[0].PhaseID, traj.Phases[0].Outcome.Verdict)
	}
	if traj.Phases[1].PhaseID != "generate_improved_plan" || !traj.Phases[1].Outcome.Verdict.Succeeded() {
		t.Errorf("phase 1 = %s (%s)", traj.Phases[1].PhaseID, traj.Phases[1].Outcome.Verdict)
	}
	if len(traj.Phases[1].Validations) != 1 || traj.Phases[1].Validations[0].StepID != "generate_plan" {
		t.Errorf("validations = %+v, want one for generate_plan", traj.Phases[1].Validations)
	}

	final, ok := traj.FinalResult.(Result)
	if !ok {
		t.Fatalf("FinalResult = %T, want Result", traj.FinalResult)
	}
	if !final.Success || final.Trajectory != nil {
		t.Errorf("FinalResult = %+v, want success without nested trajectory", final)
	}
}

func TestExecute_PromptShapes(t *testing.T) {
	mock := executor.NewMock().
		QueueContent(analysisResponse).
		QueueContent(validPlanResponse)
	r := newTestRefiner(t, mock)

	res := r.Execute(context.Background(), testRequest())
	if res.Error != "" {
		t.Fatalf("Error = %q", res.Error)
	}

	analyze := mock.Requests()[0].Prompt
	if !strings.HasPrefix(analyze, "# Plan Analysis Task") {
		t.Errorf("analysis prompt starts %q", analyze[:40])
	}
	for _, want := range []string{
		"## User Request\nAdd a health endpoint",
		"Path: /srv/app\nLanguage: go",
		`"file": "x.go"`,
		"## Retrieved Context\nhandler conventions",
	} {
		if !strings.Contains(analyze, want) {
			t.Errorf("analysis prompt missing %q", want)
		}
	}

	improve := mock.Requests()[1].Prompt
	if !strings.HasPrefix(improve, "# Plan Improvement Task") {
		t.Errorf("improvement prompt starts %q", improve[:40])
	}
	for _, want := range []string{
		`"file": "x.go"`,
		`"structured": false`,
		analysisResponse,
		"Produce an improved plan (JSON array with file/action/what/how) that resolves all issues.",
	} {
		if !strings.Contains(improve, want) {
			t.Errorf("improvement prompt missing %q", want)
		}
	}

	steps := res.Trajectory.Phases[0].ReasoningSteps
	if len(steps) != 1 || len(steps[0].ContextChunksUsed) != 1 || steps[0].ContextChunksUsed[0] != "handler conventions" {
		t.Errorf("analysis step chunks = %+v", steps)
	}
}

func TestExecute_InvalidInitialPlanDegrades(t *testing.T) {
	mock := executor.NewMock().
		QueueContent(analysisResponse).
		QueueContent(validPlanResponse)
	r := newTestRefiner(t, mock)

	req := testRequest()
	req.InitialPlan = "definitely not json"
	res := r.Execute(context.Background(), req)

	if res.Error != "" {
		t.Fatalf("Error = %q, want empty", res.Error)
	}
	if !res.Success {
		t.Error("Success = false, want true")
	}
	if !strings.Contains(mock.Requests()[0].Prompt, "```json\n[]\n```") {
		t.Error("analysis prompt does not degrade to the empty plan")
	}
}

func TestExecute_AnalysisFailure(t *testing.T) {
	mock := executor.NewMock().WithError(errors.New("backend down"))
	r := newTestRefiner(t, mock)

	res := r.Execute(context.Background(), testRequest())

	if res.Error != "Failed to analyse initial plan" {
		t.Errorf("Error = %q", res.Error)
	}
	if res.Success {
		t.Error("Success = true, want false")
	}
	if mock.CallCount() != 1 {
		t.Errorf("CallCount() = %d, want 1", mock.CallCount())
	}

	traj := res.Trajectory
	if traj == nil || traj.OverallSuccess {
		t.Fatalf("trajectory = %+v, want sealed failure", traj)
	}
	if len(traj.Phases) != 1 || traj.Phases[0].Outcome.Verdict != trajectory.VerdictFailed {
		t.Errorf("phases = %+v, want one failed phase", traj.Phases)
	}
	if traj.Phases[0].Outcome.Feedback != "Failed to analyse initial plan" {
		t.Errorf("phase feedback = %q", traj.Phases[0].Outcome.Feedback)
	}
}

func TestExecute_GenerateFailure(t *testing.T) {
	calls := 0
	mock := executor.NewMock().WithResponseFunc(func(req *executor.Request) (*executor.Response, error) {
		calls++
		if calls == 1 {
			return &executor.Response{Content: analysisResponse, ModelID: req.ModelID, TokensUsed: 120}, nil
		}
		return nil, errors.New("backend down")
	})
	r := newTestRefiner(t, mock)

	res := r.Execute(context.Background(), testRequest())

	if res.Error != "Failed to generate improved plan" {
		t.Errorf("Error = %q", res.Error)
	}
	if res.Success {
		t.Error("Success = true, want false")
	}
	if len(res.Trajectory.Phases) != 2 {
		t.Fatalf("len(Phases) = %d, want 2", len(res.Trajectory.Phases))
	}
	if res.Trajectory.Phases[1].Outcome.Verdict != trajectory.VerdictFailed {
		t.Errorf("generate phase verdict = %s, want failed", res.Trajectory.Phases[1].Outcome.Verdict)
	}
}

func TestExecute_FixLoopRepairsPlan(t *testing.T) {
	fixedPlanResponse := "Corrected:\n```json\n" +
		`[
  {"file": "b.go", "action": "create", "what": "Create it first", "how": "Write the file"},
  {"file": "b.go", "action": "modify", "what": "Patch it", "how": "Edit in place"}
]` + "\n```"

	mock := executor.NewMock().
		QueueContent(analysisResponse).
		QueueContent(inconsistentPlanResponse).
		QueueContent(fixedPlanResponse)
	r := newTestRefiner(t, mock)

	res := r.Execute(context.Background(), testRequest())

	if res.Error != "" {
		t.Fatalf("Error = %q", res.Error)
	}
	if !res.Valid || res.Iterations != 1 {
		t.Errorf("Valid = %v, Iterations = %d, want true, 1", res.Valid, res.Iterations)
	}
	if mock.CallCount() != 3 {
		t.Errorf("CallCount() = %d, want 3", mock.CallCount())
	}

	fix := mock.Requests()[2].Prompt
	if !strings.HasPrefix(fix, "# Plan Fix Task") {
		t.Errorf("fix prompt starts %q", fix[:40])
	}
	if !strings.Contains(fix, "plan_logical_consistency") {
		t.Error("fix prompt does not name the failing hook")
	}
	if !strings.Contains(fix, "modified before creation") {
		t.Error("fix prompt does not carry the hook feedback")
	}
	if strings.Contains(fix, "schema_validation") {
		t.Error("fix prompt lists a passing hook")
	}

	validations := res.Trajectory.Phases[1].Validations
	if len(validations) != 2 {
		t.Fatalf("validations = %d, want 2", len(validations))
	}
	if validations[0].StepID != "generate_plan" || validations[0].Outcome {
		t.Errorf("validations[0] = %+v", validations[0])
	}
	if validations[1].StepID != "fix_plan_0" || !validations[1].Outcome {
		t.Errorf("validations[1] = %+v", validations[1])
	}
}

func TestExecute_ExhaustsReasoningBudget(t *testing.T) {
	calls := 0
	mock := executor.NewMock().WithResponseFunc(func(req *executor.Request) (*executor.Response, error) {
		calls++
		content := inconsistentPlanResponse
		if calls == 1 {
			content = analysisResponse
		}
		return &executor.Response{Content: content, ModelID: req.ModelID, TokensUsed: 150}, nil
	})
	r := newTestRefiner(t, mock)

	res := r.Execute(context.Background(), testRequest())

	if res.Success || res.Valid {
		t.Errorf("Success = %v, Valid = %v, want false, false", res.Success, res.Valid)
	}
	if res.Iterations != engine.DefaultMaxReasoningSteps {
		t.Errorf("Iterations = %d, want %d", res.Iterations, engine.DefaultMaxReasoningSteps)
	}
	if mock.CallCount() != 5 {
		t.Errorf("CallCount() = %d, want 5", mock.CallCount())
	}

	var ids []string
	for _, v := range res.Trajectory.Phases[1].Validations {
		ids = append(ids, v.StepID)
	}
	want := []string{"generate_plan", "fix_plan_0", "fix_plan_1", "fix_plan_2"}
	if len(ids) != len(want) {
		t.Fatalf("validation steps = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("validation step %d = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestExecute_UnparseablePlanIteratesOnEmpty(t *testing.T) {
	mock := executor.NewMock().
		QueueContent(analysisResponse).
		QueueContent("I am unable to produce a plan for this request.").
		QueueContent(validPlanResponse)
	r := newTestRefiner(t, mock)

	res := r.Execute(context.Background(), testRequest())

	if res.Error != "" {
		t.Fatalf("Error = %q", res.Error)
	}
	if !res.Valid || res.Iterations != 1 {
		t.Errorf("Valid = %v, Iterations = %d, want true, 1", res.Valid, res.Iterations)
	}
	if !strings.Contains(mock.Requests()[2].Prompt, "```json\n[]\n```") {
		t.Error("fix prompt does not show the empty plan")
	}
}

func TestExecute_BudgetDenialStopsBeforeTheModel(t *testing.T) {
	led := newTestLedger(t, ledger.WithSessionBudget(0.0000001))
	mock := executor.NewMock()
	r, err := NewRefiner(led, mock, "", engine.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewRefiner() error = %v", err)
	}

	res := r.Execute(context.Background(), testRequest())

	if res.Error != "Failed to analyse initial plan" {
		t.Errorf("Error = %q", res.Error)
	}
	if mock.CallCount() != 0 {
		t.Errorf("CallCount() = %d, want 0", mock.CallCount())
	}
}

func TestExecute_NilRequest(t *testing.T) {
	r := newTestRefiner(t, executor.NewMock())
	res := r.Execute(context.Background(), nil)
	if res.Error != "request must not be nil" {
		t.Errorf("Error = %q", res.Error)
	}
	if res.Trajectory != nil {
		t.Error("Trajectory != nil for rejected request")
	}
}
