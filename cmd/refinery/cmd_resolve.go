// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/Refinery/pkg/logging"
	"github.com/AleutianAI/Refinery/pkg/ux"
	"github.com/AleutianAI/Refinery/services/refine/approval"
	"github.com/AleutianAI/Refinery/services/refine/config"
	"github.com/AleutianAI/Refinery/services/refine/engine"
	"github.com/AleutianAI/Refinery/services/refine/executor"
	"github.com/AleutianAI/Refinery/services/refine/issue"
	"github.com/AleutianAI/Refinery/services/refine/ledger"
	"github.com/AleutianAI/Refinery/services/refine/trajectory"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// RESOLVE COMMAND
// =============================================================================

// runResolve is the CLI handler for the "refinery resolve" command.
//
// It generates a fix for a failing test, iterating until the patch
// validates or the reasoning budget runs out. With --test-cmd the fix
// is verified by rerunning the failing test in a staged copy of the
// project. With --batch a directory of request files is resolved
// concurrently against one shared session budget.
//
// # Exit Codes
//
//   - 0: Fix produced, validated and, when verification ran, tests pass
//   - 1: Fix produced but it did not validate or tests still fail
//   - 2: Error
func runResolve(cmd *cobra.Command, args []string) {
	start := time.Now()
	ctx := context.Background()

	cfg, err := config.Get(ctx)
	if err != nil {
		OutputError(resolveJSON, "Failed to load configuration", err)
		os.Exit(CLIExitError)
	}

	logger := newCommandLogger()
	defer logger.Close()

	model := resolveModel
	if model == "" {
		model = cfg.ModelForTier(ledger.TierHighest).ID
	}

	exec, err := executor.NewOpenAI(model, logger.Slog())
	if err != nil {
		OutputError(resolveJSON, "Failed to create executor", err)
		os.Exit(CLIExitError)
	}

	if resolveBatch != "" {
		runBatchResolve(ctx, cmd, cfg, logger, exec, model, start)
		return
	}

	if resolveFile == "" {
		OutputError(resolveJSON, "Missing required flag", errors.New("--file is required"))
		os.Exit(CLIExitError)
	}
	if resolveTraceback == "" {
		OutputError(resolveJSON, "Missing required flag", errors.New("--traceback is required"))
		os.Exit(CLIExitError)
	}

	content, err := os.ReadFile(resolveFile)
	if err != nil {
		OutputError(resolveJSON, "Failed to read source file", err)
		os.Exit(CLIExitError)
	}
	traceback, err := os.ReadFile(resolveTraceback)
	if err != nil {
		OutputError(resolveJSON, "Failed to read traceback file", err)
		os.Exit(CLIExitError)
	}

	var failingTest string
	if resolveFailingTest != "" {
		data, err := os.ReadFile(resolveFailingTest)
		if err != nil {
			OutputError(resolveJSON, "Failed to read failing test file", err)
			os.Exit(CLIExitError)
		}
		failingTest = string(data)
	}

	language := resolveLanguage
	if language == "" {
		language = inferLanguage(resolveFile)
	}

	led, err := newCommandLedger(cmd, cfg, logger, resolveBudget, interactiveApprover(resolveYes))
	if err != nil {
		OutputError(resolveJSON, "Failed to create cost ledger", err)
		os.Exit(CLIExitError)
	}

	resolver, err := newResolver(led, exec, model, cfg, logger, resolveProject)
	if err != nil {
		OutputError(resolveJSON, "Failed to create resolver", err)
		os.Exit(CLIExitError)
	}

	result := resolver.Execute(ctx, &issue.Request{
		Failure:     buildFailure(string(traceback), resolveErrorType, resolveErrorMsg, failingTest),
		FileContent: string(content),
		FilePath:    relativeFilePath(resolveFile, resolveProject),
		Language:    language,
		ProjectPath: resolveProject,
	})

	archiveTrajectory(ctx, cfg, logger.Slog(), result.Trajectory)

	if resolveJSON {
		if err := OutputResult("resolve", start, resolved(result), result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			os.Exit(CLIExitError)
		}
		os.Exit(resolveExitCode(result))
	}

	renderResolveResult(result, led)
	os.Exit(resolveExitCode(result))
}

// newResolver builds an issue resolver, wiring the test command
// sandbox when --test-cmd was given.
func newResolver(led ledger.SessionLedger, exec executor.Executor, model string, cfg *config.Config, logger *logging.Logger, project string) (*issue.Resolver, error) {
	opts := []issue.Option{
		issue.WithEngineOptions(
			engine.WithMaxReasoningSteps(cfg.Reasoning.MaxSteps),
			engine.WithLogger(logger.Slog())),
	}
	if resolveTestCmd != "" {
		opts = append(opts, issue.WithSandbox(newTestCommandSandbox(resolveTestCmd, project, logger.Slog())))
	}
	return issue.NewResolver(led, exec, model, opts...)
}

// resolved reports whether a resolution counts as fully successful.
// Test verification only gates the outcome when a test command ran.
func resolved(result *issue.Result) bool {
	if result.Error != "" || !result.Valid {
		return false
	}
	if resolveTestCmd != "" {
		return result.TestsPassed
	}
	return true
}

// resolveExitCode maps a resolution result to a CLI exit code.
func resolveExitCode(result *issue.Result) int {
	switch {
	case result.Error != "":
		return CLIExitError
	case !resolved(result):
		return CLIExitFindings
	default:
		return CLIExitSuccess
	}
}

// renderResolveResult prints the human-readable resolution output.
func renderResolveResult(result *issue.Result, led *ledger.CostLedger) {
	if result.Error != "" {
		ux.Error("Issue resolution failed: " + result.Error)
		return
	}

	if result.Valid {
		ux.Success(fmt.Sprintf("Fix validated after %d refinement iterations", result.Iterations))
	} else {
		ux.Warning(fmt.Sprintf("Fix still has findings after %d refinement iterations", result.Iterations))
	}

	switch {
	case resolveTestCmd == "":
		ux.Info("Test verification skipped: no --test-cmd given.")
	case result.TestsPassed:
		ux.Success("Failing test passes against the staged fix")
	default:
		ux.Warning("Failing test still fails against the staged fix")
		if result.TestOutput != "" {
			fmt.Println(result.TestOutput)
		}
	}

	if result.Patch != "" {
		ux.Title("Patch")
		fmt.Println(result.Patch)
	}

	fmt.Println()
	fmt.Println(led.Summary())
}

// =============================================================================
// BATCH MODE
// =============================================================================

// batchItem is one resolution request read from a --batch directory.
// Either traceback holds the text inline or traceback_file points at
// it. The file, traceback_file and project paths resolve relative to
// the request file's directory; failing_test holds test source inline.
type batchItem struct {
	File          string `json:"file"`
	Traceback     string `json:"traceback,omitempty"`
	TracebackFile string `json:"traceback_file,omitempty"`
	FailingTest   string `json:"failing_test,omitempty"`
	ErrorType     string `json:"error_type,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	Language      string `json:"language,omitempty"`
	Project       string `json:"project,omitempty"`
}

// runBatchResolve resolves every .json request in the batch directory.
//
// All workers draw from one serialized session ledger, so the budget
// caps the whole batch. Approval prompts cannot work from concurrent
// workers; spending over the auto-approve threshold is denied unless
// --yes was given.
func runBatchResolve(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *logging.Logger, exec executor.Executor, model string, start time.Time) {
	entries, err := os.ReadDir(resolveBatch)
	if err != nil {
		OutputError(resolveJSON, "Failed to read batch directory", err)
		os.Exit(CLIExitError)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		OutputError(resolveJSON, "Empty batch", errors.New("no .json request files in "+resolveBatch))
		os.Exit(CLIExitError)
	}

	led, err := newCommandLedger(cmd, cfg, logger, resolveBudget, approval.Auto(resolveYes))
	if err != nil {
		OutputError(resolveJSON, "Failed to create cost ledger", err)
		os.Exit(CLIExitError)
	}
	shared := ledger.NewSerialized(led)

	items := make([]BatchItemResult, len(names))
	trajs := make([]*trajectory.Trajectory, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveWorkers)
	for i, name := range names {
		g.Go(func() error {
			items[i], trajs[i] = resolveBatchItem(gctx, shared, exec, model, cfg, logger, name)
			return nil // Per-item failures land in the item result.
		})
	}
	_ = g.Wait()

	batchArchive(ctx, cfg, logger.Slog(), trajs)

	batch := BatchResult{Items: items, Count: len(items)}
	for _, item := range items {
		if item.Success {
			batch.Resolved++
		}
		batch.TotalTokens += item.Tokens
		batch.TotalCost += item.Cost
	}

	if resolveJSON {
		if err := OutputResult("resolve", start, batch.Resolved == batch.Count, batch); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			os.Exit(CLIExitError)
		}
	} else {
		renderBatchResult(batch, led)
	}

	if batch.Resolved == batch.Count {
		os.Exit(CLIExitSuccess)
	}
	os.Exit(CLIExitFindings)
}

// resolveBatchItem runs one batch request end to end. Failures are
// folded into the item result so one bad request never stops the rest.
func resolveBatchItem(ctx context.Context, led ledger.SessionLedger, exec executor.Executor, model string, cfg *config.Config, logger *logging.Logger, name string) (BatchItemResult, *trajectory.Trajectory) {
	item := BatchItemResult{Request: name}

	req, err := loadBatchItem(filepath.Join(resolveBatch, name))
	if err != nil {
		item.Error = err.Error()
		return item, nil
	}
	item.File = req.File

	content, err := os.ReadFile(req.File)
	if err != nil {
		item.Error = fmt.Sprintf("read source file: %v", err)
		return item, nil
	}

	language := req.Language
	if language == "" {
		language = inferLanguage(req.File)
	}
	project := req.Project
	if project == "" {
		project = resolveProject
	}

	resolver, err := newResolver(led, exec, model, cfg, logger, project)
	if err != nil {
		item.Error = fmt.Sprintf("create resolver: %v", err)
		return item, nil
	}

	result := resolver.Execute(ctx, &issue.Request{
		Failure:     buildFailure(req.Traceback, req.ErrorType, req.ErrorMessage, req.FailingTest),
		FileContent: string(content),
		FilePath:    relativeFilePath(req.File, project),
		Language:    language,
		ProjectPath: project,
	})

	item.Success = resolved(result)
	item.Valid = result.Valid
	item.Iterations = result.Iterations
	item.Error = result.Error
	if result.Trajectory != nil {
		item.Tokens = result.Trajectory.TotalTokensConsumed
		item.Cost = result.Trajectory.TotalCostIncurred
	}
	return item, result.Trajectory
}

// loadBatchItem reads and validates one batch request file. Relative
// paths inside the request resolve against the request file's directory.
func loadBatchItem(path string) (*batchItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var item batchItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	if item.File == "" {
		return nil, errors.New("request has no \"file\" field")
	}

	base := filepath.Dir(path)
	item.File = resolveAgainst(base, item.File)
	if item.Project != "" {
		item.Project = resolveAgainst(base, item.Project)
	}

	if item.Traceback == "" {
		if item.TracebackFile == "" {
			return nil, errors.New("request has neither \"traceback\" nor \"traceback_file\"")
		}
		tb, err := os.ReadFile(resolveAgainst(base, item.TracebackFile))
		if err != nil {
			return nil, fmt.Errorf("read traceback file: %w", err)
		}
		item.Traceback = string(tb)
	}
	return &item, nil
}

// resolveAgainst joins a relative path onto base, passing absolute
// paths through.
func resolveAgainst(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// renderBatchResult prints the human-readable batch summary.
func renderBatchResult(batch BatchResult, led *ledger.CostLedger) {
	ux.Title("Batch Resolution")
	for _, item := range batch.Items {
		switch {
		case item.Error != "":
			ux.Error(fmt.Sprintf("%s: %s", item.Request, item.Error))
		case item.Success:
			ux.Success(fmt.Sprintf("%s: %s resolved in %d iterations ($%.4f)", item.Request, item.File, item.Iterations, item.Cost))
		default:
			ux.Warning(fmt.Sprintf("%s: %s not resolved after %d iterations ($%.4f)", item.Request, item.File, item.Iterations, item.Cost))
		}
	}

	fmt.Println()
	ux.Info(fmt.Sprintf("%d/%d requests resolved", batch.Resolved, batch.Count))
	fmt.Println(led.Summary())
}
