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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/AleutianAI/Refinery/pkg/ux"
	"github.com/AleutianAI/Refinery/services/refine/config"
	"github.com/AleutianAI/Refinery/services/refine/storage/badger"
	"github.com/spf13/cobra"
)

// =============================================================================
// COSTS COMMAND
// =============================================================================

// runCosts is the CLI handler for the "refinery costs" command.
//
// It reads the trajectory archive and reports what past operations
// consumed, either across the whole archive or, with --operation,
// phase by phase for one operation.
//
// # Exit Codes
//
//   - 0: Report produced
//   - 2: Error
func runCosts(cmd *cobra.Command, args []string) {
	start := time.Now()
	ctx := context.Background()

	cfg, err := config.Get(ctx)
	if err != nil {
		OutputError(costsJSON, "Failed to load configuration", err)
		os.Exit(CLIExitError)
	}

	store, err := openArchive(cfg, costsStore)
	if err != nil {
		OutputError(costsJSON, "Failed to open trajectory archive", err)
		os.Exit(CLIExitError)
	}
	defer store.Close()

	if costsOperation != "" {
		traj, err := store.Get(ctx, costsOperation)
		if err != nil {
			if errors.Is(err, badger.ErrTrajectoryNotFound) {
				OutputError(costsJSON, "Operation not found", err)
			} else {
				OutputError(costsJSON, "Failed to read trajectory archive", err)
			}
			os.Exit(CLIExitError)
		}

		result := operationCosts(traj)
		if costsJSON {
			if err := OutputResult("costs", start, true, result); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
				os.Exit(CLIExitError)
			}
			os.Exit(CLIExitSuccess)
		}
		renderOperationCosts(result)
		os.Exit(CLIExitSuccess)
	}

	summaries, err := store.List(ctx)
	if err != nil {
		OutputError(costsJSON, "Failed to read trajectory archive", err)
		os.Exit(CLIExitError)
	}

	result := CostsResult{Operations: summaries, Count: len(summaries)}
	for _, s := range summaries {
		result.TotalTokens += s.TokensConsumed
		result.TotalCost += s.CostIncurred
	}

	if costsJSON {
		if err := OutputResult("costs", start, true, result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			os.Exit(CLIExitError)
		}
		os.Exit(CLIExitSuccess)
	}
	renderCosts(result)
	os.Exit(CLIExitSuccess)
}

// renderCosts prints the archive-wide spending report.
func renderCosts(result CostsResult) {
	ux.Title("Archived Operations")
	if result.Count == 0 {
		ux.Info("The archive is empty.")
		return
	}

	for _, op := range result.Operations {
		line := fmt.Sprintf("%s  %-18s %7d tokens  $%.4f  %s",
			op.OperationID, op.OperationType, op.TokensConsumed, op.CostIncurred,
			op.ArchivedAt.Format(time.RFC3339))
		if op.OverallSuccess {
			ux.Success(line)
		} else {
			ux.Warning(line)
		}
	}

	fmt.Println()
	ux.Info(fmt.Sprintf("%d operations, %d tokens, $%.4f total", result.Count, result.TotalTokens, result.TotalCost))
}

// renderOperationCosts prints one operation's phase-by-phase spending.
func renderOperationCosts(result OperationCostsResult) {
	ux.Title(fmt.Sprintf("%s (%s)", result.OperationID, result.OperationType))
	for _, phase := range result.Phases {
		fmt.Printf("  %-22s %-28s %3d steps  %7d tokens  $%.4f\n",
			phase.PhaseID, phase.Model, phase.Steps, phase.Tokens, phase.Cost)
	}

	fmt.Println()
	status := "failed"
	if result.Success {
		status = "succeeded"
	}
	ux.Info(fmt.Sprintf("Operation %s: %d tokens, $%.4f total", status, result.TotalTokens, result.TotalCost))
}
