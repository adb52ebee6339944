// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package issue diagnoses failing tests and refines minimal patches.
//
// A resolver analyses the failure (traceback, failing test, source
// context), asks the model for a unified diff, and iterates the patch
// against format, size and language syntax validation until it passes
// or the reasoning budget runs out. A valid patch is then staged into
// a scratch tree and handed to the sandbox collaborator for test
// verification. Resolution succeeds only when the patch validates and
// the tests pass.
package issue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/Refinery/services/refine/engine"
	"github.com/AleutianAI/Refinery/services/refine/executor"
	"github.com/AleutianAI/Refinery/services/refine/hooks"
	"github.com/AleutianAI/Refinery/services/refine/ledger"
	"github.com/AleutianAI/Refinery/services/refine/trajectory"
)

// OperationType labels issue resolution operations on trajectories,
// scopes and metrics.
const OperationType = "issue_resolution"

const (
	phaseAnalyze  = "analyze_failure"
	phaseGenerate = "generate_fix"
	phaseVerify   = "verify_fix"
)

// TestFailure describes the failing test being diagnosed.
type TestFailure struct {
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	Traceback    string `json:"traceback"`
	FailingTest  string `json:"failing_test"`
}

func (f TestFailure) errorType() string {
	if f.ErrorType == "" {
		return "Unknown"
	}
	return f.ErrorType
}

// Request carries everything an issue resolution needs.
type Request struct {
	Failure TestFailure `json:"test_failure"`

	// FileContent is the current source of the file under suspicion.
	FileContent string `json:"file_content"`

	// FilePath is the file's path relative to the project root; the
	// fixed content is staged under it for verification.
	FilePath string `json:"file_path"`

	Language    string `json:"language"`
	ProjectPath string `json:"project_path,omitempty"`
}

// Verification is the sandbox's judgment of a staged fix.
type Verification struct {
	Passed bool   `json:"test_success"`
	Output string `json:"test_output"`
}

// Result is the outcome of an issue resolution.
type Result struct {
	Success         bool                   `json:"success"`
	OriginalContent string                 `json:"original_content,omitempty"`
	FixedContent    string                 `json:"fixed_content,omitempty"`
	Patch           string                 `json:"patch,omitempty"`
	Valid           bool                   `json:"validation"`
	TestsPassed     bool                   `json:"test_verification"`
	TestOutput      string                 `json:"test_output,omitempty"`
	Iterations      int                    `json:"iterations"`
	Trajectory      *trajectory.Trajectory `json:"reasoning_trajectory,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

// Sandbox runs the failing test against a staged fix.
//
// stagedRoot is a scratch directory holding the fixed file at
// filePath. Implementations return whether the test now passes and
// the run's output; an error stands for the harness itself breaking,
// not a failing test.
type Sandbox interface {
	VerifyFix(ctx context.Context, stagedRoot, filePath string, failure TestFailure) (bool, string, error)
}

// Resolver runs issue resolution operations.
//
// Thread Safety: a Resolver is safe for concurrent Execute calls; the
// per-request syntax hook lives on a per-run registry clone.
type Resolver struct {
	op      *engine.Operator
	sandbox Sandbox
}

type config struct {
	sandbox    Sandbox
	engineOpts []engine.Option
}

// Option configures a Resolver.
type Option func(*config)

// WithSandbox wires the test verification collaborator. Without one,
// verification is skipped and resolutions cannot fully succeed.
func WithSandbox(s Sandbox) Option {
	return func(c *config) { c.sandbox = s }
}

// WithEngineOptions forwards options to the underlying operator.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(c *config) { c.engineOpts = append(c.engineOpts, opts...) }
}

// NewResolver builds an issue resolver on the given ledger and
// executor. The resolver reasons on the highest tier unless
// overridden through engine options.
func NewResolver(led ledger.SessionLedger, exec executor.Executor, modelID string, opts ...Option) (*Resolver, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	engineOpts := append([]engine.Option{engine.WithModelTier(ledger.TierHighest)}, cfg.engineOpts...)
	op, err := engine.NewOperator(OperationType, led, exec, modelID, engineOpts...)
	if err != nil {
		return nil, err
	}
	op.Hooks().Register(NewPatchFormatHook())
	op.Hooks().Register(NewPatchSizeHook())

	return &Resolver{op: op, sandbox: cfg.sandbox}, nil
}

// Hooks exposes the resolver's base registry so callers can add their
// own validation. Per-run syntax hooks are layered on top of it.
func (r *Resolver) Hooks() *hooks.Registry {
	return r.op.Hooks()
}

// Execute runs one issue resolution operation.
//
// Description:
//
//	Three phases. Analysis diagnoses the failure; a step failure there
//	is fatal. Generation extracts a patch from the model's answer
//	(diff block, labelled before/after blocks, or a whole-file block)
//	and refines it against the patch and syntax hooks. Verification
//	stages the fixed file and runs the sandbox, only when the patch
//	validated and a sandbox is wired. Overall success requires both a
//	valid patch and passing tests.
//
// Outputs:
//
//	*Result - Always non-nil with the sealed trajectory attached.
//	Documented failures land in Result.Error, never in a Go error;
//	panics from hooks, extraction or the sandbox are folded in the
//	same way.
func (r *Resolver) Execute(ctx context.Context, req *Request) *Result {
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

// guarded isolates a resolution run so a panic becomes a failed
// result instead of unwinding the caller.
func (r *Resolver) guarded(ctx context.Context, run *engine.Run, req *Request) (result *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.op.Logger().Error("issue resolution panicked",
				slog.String("operation_id", run.OperationID()),
				slog.Any("panic", rec))
			result = &Result{Error: fmt.Sprintf("issue resolution panicked: %v", rec)}
		}
	}()
	return r.resolve(ctx, run, req)
}

func (r *Resolver) resolve(ctx context.Context, run *engine.Run, req *Request) *Result {
	tracker := run.Tracker()
	logger := r.op.Logger()

	// The language is only known per request, so the syntax hook lives
	// on a clone of the shared registry.
	runHooks := r.op.Hooks().Clone()
	runHooks.Register(hooks.NewSyntaxHook(req.Language))

	if err := run.Transition(engine.StateAnalyze); err != nil {
		return &Result{Error: err.Error()}
	}
	if err := tracker.StartPhase(ctx, phaseAnalyze, "Analyse test failure and identify root cause", r.op.ModelID()); err != nil {
		return &Result{Error: err.Error()}
	}

	step, err := run.ExecuteReasoningStep(ctx, phaseAnalyze, "analyze_failure", analysisPrompt(req))
	if err != nil {
		if endErr := tracker.EndPhase(trajectory.VerdictFailed, nil, "Failed to analyse test failure"); endErr != nil {
			logger.Warn("failed to end phase", slog.Any("error", endErr))
		}
		return &Result{Error: "Failed to analyse test failure"}
	}

	analysis := ExtractAnalysis(step.Response)
	if err := tracker.EndPhase(trajectory.VerdictSucceeded, analysis, "Successfully analysed test failure"); err != nil {
		return &Result{Error: err.Error()}
	}

	loop, err := run.RefineLoop(ctx, engine.LoopSpec{
		PhaseID:        phaseGenerate,
		Description:    "Generate fix for the identified issue",
		GenerateStepID: "generate_fix",
		GeneratePrompt: fixPrompt(analysis, req),
		Extract: func(response string) (engine.Artifact, error) {
			return extractCandidate(response, req.FileContent)
		},
		Validate: func(artifact engine.Artifact) map[string]hooks.HookResult {
			p := artifact.(*Patch)
			return hooks.Merge(
				runHooks.RunValidationHooksExcluding(p.Diff, hooks.TypeSyntax),
				runHooks.RunValidationHooks(p.FixedContent, hooks.TypeSyntax),
			)
		},
		FixPrompt: func(artifact engine.Artifact, results map[string]hooks.HookResult) string {
			return improvePrompt(artifact.(*Patch), results, req)
		},
		FixStepID: func(iteration int) string {
			return fmt.Sprintf("improve_fix_%d", iteration+1)
		},
		AbortOnMalformed:        true,
		GenerateFailureFeedback: "Failed to generate fix",
		MalformedFeedback:       "No patch found in response",
		PhaseFeedback: func(valid bool) string {
			return fmt.Sprintf("Fix validation: %t", valid)
		},
	})
	if err != nil {
		return &Result{Error: err.Error()}
	}
	if loop.Failure != "" {
		return &Result{Error: loop.Failure}
	}

	candidate := loop.Artifact.(*Patch)
	valid := loop.Valid

	if err := tracker.StartPhase(ctx, phaseVerify, "Verify fix by running tests", r.op.ModelID()); err != nil {
		return &Result{Error: err.Error()}
	}
	verification := Verification{Output: "Test verification not implemented"}
	if valid && r.sandbox != nil {
		verification.Passed, verification.Output = r.verify(ctx, req, candidate.FixedContent)
	}
	verdict := trajectory.VerdictFailed
	if verification.Passed {
		verdict = trajectory.VerdictSucceeded
	}
	if err := tracker.EndPhase(verdict, verification, fmt.Sprintf("Test verification: %t", verification.Passed)); err != nil {
		return &Result{Error: err.Error()}
	}

	return &Result{
		Success:         valid && verification.Passed,
		OriginalContent: req.FileContent,
		FixedContent:    candidate.FixedContent,
		Patch:           candidate.Diff,
		Valid:           valid,
		TestsPassed:     verification.Passed,
		TestOutput:      verification.Output,
		Iterations:      loop.Iterations,
	}
}

// verify stages the fixed file into a scratch tree and runs the
// sandbox over it. Sandbox panics and errors fold into a failed
// verification rather than aborting the operation.
func (r *Resolver) verify(ctx context.Context, req *Request, fixedContent string) (passed bool, output string) {
	defer func() {
		if rec := recover(); rec != nil {
			passed, output = false, fmt.Sprintf("Error verifying fix: %v", rec)
		}
	}()

	dir, err := os.MkdirTemp("", "refinery-verify-*")
	if err != nil {
		return false, fmt.Sprintf("Error verifying fix: %v", err)
	}
	defer os.RemoveAll(dir)

	target := filepath.Join(dir, req.FilePath)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return false, fmt.Sprintf("Error verifying fix: %v", err)
	}
	if err := os.WriteFile(target, []byte(fixedContent), 0o644); err != nil {
		return false, fmt.Sprintf("Error verifying fix: %v", err)
	}

	passed, output, err = r.sandbox.VerifyFix(ctx, dir, req.FilePath, req.Failure)
	if err != nil {
		return false, fmt.Sprintf("Error verifying fix: %v", err)
	}
	return passed, output
}

// extractCandidate turns a model response into a patch artifact.
func extractCandidate(response, originalContent string) (engine.Artifact, error) {
	diffText := ExtractPatch(response)
	if diffText == "" {
		diffText = ReconstructDiff(response, originalContent)
	}
	if diffText == "" {
		return &Patch{}, fmt.Errorf("%w: no patch in response", engine.ErrMalformedArtifact)
	}
	return &Patch{
		Diff:         diffText,
		FixedContent: ApplyPatch(originalContent, diffText),
	}, nil
}

// =============================================================================
// Prompts
// =============================================================================

func analysisPrompt(req *Request) string {
	snippets := FormatSnippets(CodeSnippets(req.FileContent, ExtractLineNumbers(req.Failure.Traceback)))

	return fmt.Sprintf(`# Issue Analysis Task

## Test Failure Information
Error Type: %s
Error Message: %s

## Traceback
`+"```\n%s\n```"+`

## Failing Test
`+"```\n%s\n```"+`

## Code Snippets Around Error
%s

## Full File Content
`+"```%s\n%s\n```"+`

## Analysis Task
Please analyse this test failure carefully, looking for:
1. The root cause of the failure
2. The specific lines of code causing the issue
3. The logic or syntax error that needs to be fixed
4. Any context from the file that's important to understand the issue

Return a structured analysis with these sections:
- Root Cause Identification
- Affected Code Explanation
- Fix Approach
- Potential Side Effects

Think step by step and be specific about exactly what's causing the issue.`,
		req.Failure.errorType(), req.Failure.ErrorMessage, req.Failure.Traceback,
		req.Failure.FailingTest, snippets, req.Language, req.FileContent)
}

func fixPrompt(analysis Analysis, req *Request) string {
	return fmt.Sprintf(`# Issue Fix Task

## File Path
%s

## Issue Analysis
%s

## Original Code
`+"```%s\n%s\n```"+`

## Fix Task
Based on the analysis, create a fix that:
1. Addresses the root cause of the issue
2. Makes minimal changes to the code
3. Preserves the original functionality
4. Follows the code style of the original file

Provide your fix in two formats:
1. A unified diff patch (with - for removed lines, + for added lines)
2. The complete fixed version of the code`,
		req.FilePath, analysisText(analysis), req.Language, req.FileContent)
}

func improvePrompt(p *Patch, results map[string]hooks.HookResult, req *Request) string {
	return fmt.Sprintf(`# Fix Improvement Task

## File Path
%s

## Validation Issues
%s

## Current Patch
`+"```diff\n%s\n```"+`

## Current Fixed Code
`+"```%s\n%s\n```"+`

## Original Code
`+"```%s\n%s\n```"+`

## Improvement Task
Please improve the fix to address all validation issues. Your improved fix should:
1. Pass syntax validation for %s
2. Be properly formatted as a unified diff
3. Make minimal, targeted changes

Provide your improved fix in the same format as before.`,
		req.FilePath, strings.TrimRight(hooks.FormatFailures(results), "\n"),
		p.Diff, req.Language, p.FixedContent, req.Language, req.FileContent, req.Language)
}

// analysisText renders structured sections for the fix prompt. An
// unstructured analysis renders nothing.
func analysisText(analysis Analysis) string {
	var b strings.Builder
	for _, s := range analysis.Sections {
		b.WriteString("### ")
		b.WriteString(titleWords(strings.ReplaceAll(s.Key, "_", " ")))
		b.WriteString("\n")
		for i, line := range s.Lines {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("- ")
			b.WriteString(line)
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

// titleWords upper-cases each word's first letter.
func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
