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
	"path/filepath"
	"strings"

	"github.com/AleutianAI/Refinery/pkg/logging"
	"github.com/AleutianAI/Refinery/services/refine/approval"
	"github.com/AleutianAI/Refinery/services/refine/config"
	"github.com/AleutianAI/Refinery/services/refine/issue"
	"github.com/AleutianAI/Refinery/services/refine/ledger"
	"github.com/spf13/cobra"
)

// =============================================================================
// SHARED COMMAND WIRING
// =============================================================================

// newCommandLogger builds the logger for a CLI invocation.
//
// Warnings and errors go to stderr so they never mix with command
// output on stdout. The --verbose flag lowers the level to debug.
func newCommandLogger() *logging.Logger {
	level := logging.LevelWarn
	if verbose {
		level = logging.LevelDebug
	}
	return logging.New(logging.Config{
		Level:   level,
		Service: "refinery",
	})
}

// newCommandLedger builds the session cost ledger for a CLI invocation.
//
// Budget precedence: an explicit --budget flag wins over the configured
// session budget; when neither is set the ledger falls back to its own
// environment default.
func newCommandLedger(cmd *cobra.Command, cfg *config.Config, logger *logging.Logger, budgetFlag float64, approver ledger.Approver) (*ledger.CostLedger, error) {
	opts := []ledger.Option{
		ledger.WithLogger(logger.Slog()),
		ledger.WithAutoApproveThreshold(cfg.Budget.AutoApproveThreshold),
		ledger.WithApprover(approver),
	}

	if cmd.Flags().Changed("budget") {
		opts = append(opts, ledger.WithSessionBudget(budgetFlag))
	} else if cfg.Budget.Session > 0 {
		opts = append(opts, ledger.WithSessionBudget(cfg.Budget.Session))
	}

	return ledger.NewCostLedger(opts...)
}

// interactiveApprover picks the spend approver for a single-operation
// command: --yes approves everything, otherwise the terminal prompts.
func interactiveApprover(autoYes bool) ledger.Approver {
	if autoYes {
		return approval.Auto(true)
	}
	return approval.Terminal{}
}

// languageByExt maps file extensions to the language names the
// validation hooks normalize on.
var languageByExt = map[string]string{
	".py":   "python",
	".go":   "go",
	".js":   "javascript",
	".ts":   "typescript",
	".java": "java",
	".rs":   "rust",
	".rb":   "ruby",
	".c":    "c",
	".cpp":  "cpp",
}

// inferLanguage guesses the language from a file path's extension.
// Returns "" when the extension is unknown.
func inferLanguage(path string) string {
	return languageByExt[strings.ToLower(filepath.Ext(path))]
}

// relativeFilePath rewrites the fixed file's path relative to the
// project root. The resolver stages the fix at this path inside its
// scratch tree, so it must line up with the project overlay for test
// verification to see the fix. Paths outside the project pass through
// unchanged.
func relativeFilePath(file, project string) string {
	if project == "" {
		return file
	}
	absFile, err := filepath.Abs(file)
	if err != nil {
		return file
	}
	absProject, err := filepath.Abs(project)
	if err != nil {
		return file
	}
	rel, err := filepath.Rel(absProject, absFile)
	if err != nil || strings.HasPrefix(rel, "..") {
		return file
	}
	return rel
}

// buildFailure assembles a test failure record from flags and the
// traceback text.
//
// Explicit --error-type and --error-message flags win. When absent,
// both are derived from the traceback's last non-empty line, which
// most test runners format as "ErrorType: message".
func buildFailure(traceback, errType, errMsg, failingTest string) issue.TestFailure {
	if errType == "" || errMsg == "" {
		derivedType, derivedMsg := parseLastError(traceback)
		if errType == "" {
			errType = derivedType
		}
		if errMsg == "" {
			errMsg = derivedMsg
		}
	}
	return issue.TestFailure{
		ErrorType:    errType,
		ErrorMessage: errMsg,
		Traceback:    traceback,
		FailingTest:  failingTest,
	}
}

// parseLastError splits a traceback's final non-empty line into an
// error type and message.
func parseLastError(traceback string) (string, string) {
	lines := strings.Split(traceback, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if errType, msg, ok := strings.Cut(line, ":"); ok {
			return strings.TrimSpace(errType), strings.TrimSpace(msg)
		}
		return line, ""
	}
	return "", ""
}
