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
	"github.com/AleutianAI/Refinery/services/refine/engine"
	"github.com/AleutianAI/Refinery/services/refine/executor"
	"github.com/AleutianAI/Refinery/services/refine/ledger"
	"github.com/AleutianAI/Refinery/services/refine/plan"
	"github.com/spf13/cobra"
)

// =============================================================================
// PLAN COMMAND
// =============================================================================

// runPlan is the CLI handler for the "refinery plan" command.
//
// It refines a draft implementation plan against the user's request,
// iterating until the plan validates or the reasoning budget runs out.
// The finished trajectory is archived when storage is configured.
//
// # Exit Codes
//
//   - 0: Plan refined and validated
//   - 1: Refinement finished but the plan did not validate
//   - 2: Error
func runPlan(cmd *cobra.Command, args []string) {
	start := time.Now()
	ctx := context.Background()

	if planRequest == "" {
		OutputError(planJSON, "Missing required flag", errors.New("--request is required"))
		os.Exit(CLIExitError)
	}

	cfg, err := config.Get(ctx)
	if err != nil {
		OutputError(planJSON, "Failed to load configuration", err)
		os.Exit(CLIExitError)
	}

	logger := newCommandLogger()
	defer logger.Close()

	var initialPlan string
	if planFile != "" {
		data, err := os.ReadFile(planFile)
		if err != nil {
			OutputError(planJSON, "Failed to read plan file", err)
			os.Exit(CLIExitError)
		}
		initialPlan = string(data)
	}

	var retrieved string
	if planContextFile != "" {
		data, err := os.ReadFile(planContextFile)
		if err != nil {
			OutputError(planJSON, "Failed to read context file", err)
			os.Exit(CLIExitError)
		}
		retrieved = string(data)
	}

	model := planModel
	if model == "" {
		model = cfg.ModelForTier(ledger.TierHighest).ID
	}

	exec, err := executor.NewOpenAI(model, logger.Slog())
	if err != nil {
		OutputError(planJSON, "Failed to create executor", err)
		os.Exit(CLIExitError)
	}

	led, err := newCommandLedger(cmd, cfg, logger, planBudget, interactiveApprover(planYes))
	if err != nil {
		OutputError(planJSON, "Failed to create cost ledger", err)
		os.Exit(CLIExitError)
	}

	refiner, err := plan.NewRefiner(led, exec, model,
		engine.WithMaxReasoningSteps(cfg.Reasoning.MaxSteps),
		engine.WithLogger(logger.Slog()))
	if err != nil {
		OutputError(planJSON, "Failed to create refiner", err)
		os.Exit(CLIExitError)
	}

	result := refiner.Execute(ctx, &plan.Request{
		InitialPlan:      initialPlan,
		UserRequest:      planRequest,
		ProjectPath:      planProject,
		Language:         planLanguage,
		RetrievedContext: retrieved,
	})

	archiveTrajectory(ctx, cfg, logger.Slog(), result.Trajectory)

	if planJSON {
		if err := OutputResult("plan", start, result.Success, result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			os.Exit(CLIExitError)
		}
		os.Exit(planExitCode(result))
	}

	renderPlanResult(result, led)
	os.Exit(planExitCode(result))
}

// planExitCode maps a refinement result to a CLI exit code. A result
// with no plan at all is an error; a plan that never validated is a
// finding.
func planExitCode(result *plan.Result) int {
	switch {
	case result.Error != "":
		return CLIExitError
	case !result.Valid:
		return CLIExitFindings
	default:
		return CLIExitSuccess
	}
}

// renderPlanResult prints the human-readable plan output.
func renderPlanResult(result *plan.Result, led *ledger.CostLedger) {
	if result.Error != "" {
		ux.Error("Plan refinement failed: " + result.Error)
		return
	}

	if result.Valid {
		ux.Success(fmt.Sprintf("Plan validated after %d refinement iterations", result.Iterations))
	} else {
		ux.Warning(fmt.Sprintf("Plan still has findings after %d refinement iterations", result.Iterations))
	}

	ux.Title("Refined Plan")
	if result.Plan != nil {
		for i, step := range result.Plan.Steps {
			fmt.Printf("%d. [%s] %s\n", i+1, step.Action, step.File)
			if step.What != "" {
				fmt.Printf("   What: %s\n", step.What)
			}
			if step.How != "" {
				fmt.Printf("   How:  %s\n", step.How)
			}
		}
	}
	if result.Plan == nil || len(result.Plan.Steps) == 0 {
		ux.Info("The refined plan has no steps.")
	}

	fmt.Println()
	fmt.Println(led.Summary())
}
