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
	"github.com/AleutianAI/Refinery/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	plainOutput bool
	verbose     bool

	// plan flags
	planRequest     string
	planFile        string
	planProject     string
	planLanguage    string
	planContextFile string
	planModel       string
	planBudget      float64
	planYes         bool
	planJSON        bool

	// resolve flags
	resolveFile        string
	resolveTraceback   string
	resolveFailingTest string
	resolveErrorType   string
	resolveErrorMsg    string
	resolveLanguage    string
	resolveProject     string
	resolveTestCmd     string
	resolveBatch       string
	resolveWorkers     int
	resolveModel       string
	resolveBudget      float64
	resolveYes         bool
	resolveJSON        bool

	// costs flags
	costsStore     string
	costsOperation string
	costsJSON      bool

	// serve flags
	serveListen        string
	serveTraceExporter string
	serveRPS           float64
	serveDebug         bool

	rootCmd = &cobra.Command{
		Use:   "refinery",
		Short: "Budget-governed reflective refinement for code-modification agents",
		Long: `Refinery runs analyse-generate-refine loops against LLM backends under
				a hard cost ledger: every reasoning step is priced before it runs,
				checked against the session budget, and recorded on an auditable
				trajectory.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Styled output auto-detects the terminal; --plain forces it off.
			if plainOutput {
				ux.SetPlain(true)
			}
		},
	}

	// --- Plan Refinement ---
	planCmd = &cobra.Command{
		Use:   "plan",
		Short: "Refine a code-modification plan against a user request",
		Run:   runPlan, // Defined in cmd_plan.go
	}

	// --- Issue Resolution ---
	resolveCmd = &cobra.Command{
		Use:   "resolve",
		Short: "Diagnose a failing test and refine a minimal patch",
		Run:   runResolve, // Defined in cmd_resolve.go
	}

	// --- Cost Reporting ---
	costsCmd = &cobra.Command{
		Use:   "costs",
		Short: "Report tokens and dollars consumed by archived operations",
		Run:   runCosts, // Defined in cmd_costs.go
	}

	// --- HTTP Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve plan refinement and issue resolution over HTTP",
		Run:   runServe, // Defined in cmd_serve.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false,
		"Disable styled terminal output (machine-friendly)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringVar(&planRequest, "request", "", "The change the plan should accomplish (required)")
	planCmd.Flags().StringVar(&planFile, "plan-file", "", "Path to the initial plan as a JSON array")
	planCmd.Flags().StringVar(&planProject, "project", "", "Project root path embedded in prompts")
	planCmd.Flags().StringVar(&planLanguage, "language", "", "Project language embedded in prompts")
	planCmd.Flags().StringVar(&planContextFile, "context-file", "", "Path to retrieved context embedded verbatim in prompts")
	planCmd.Flags().StringVar(&planModel, "model", "", "Model ID (default: configured highest tier)")
	planCmd.Flags().Float64Var(&planBudget, "budget", 0, "Session budget in dollars (overrides config)")
	planCmd.Flags().BoolVarP(&planYes, "yes", "y", false, "Approve above-threshold spending without prompting")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Output result as JSON")

	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringVar(&resolveFile, "file", "", "Path to the suspect source file (required)")
	resolveCmd.Flags().StringVar(&resolveTraceback, "traceback", "", "Path to a file holding the failure traceback (required)")
	resolveCmd.Flags().StringVar(&resolveFailingTest, "failing-test", "", "Path to a file holding the failing test source")
	resolveCmd.Flags().StringVar(&resolveErrorType, "error-type", "", "Failure type (default: parsed from the traceback)")
	resolveCmd.Flags().StringVar(&resolveErrorMsg, "error-message", "", "Failure message (default: parsed from the traceback)")
	resolveCmd.Flags().StringVar(&resolveLanguage, "language", "", "Source language (default: inferred from the file extension)")
	resolveCmd.Flags().StringVar(&resolveProject, "project", "", "Project root copied into the verification tree")
	resolveCmd.Flags().StringVar(&resolveTestCmd, "test-cmd", "", "Shell command that reruns the failing test in the staged tree")
	resolveCmd.Flags().StringVar(&resolveBatch, "batch", "", "Directory of JSON resolution requests to run concurrently")
	resolveCmd.Flags().IntVar(&resolveWorkers, "workers", 4, "Concurrent resolutions in batch mode")
	resolveCmd.Flags().StringVar(&resolveModel, "model", "", "Model ID (default: configured highest tier)")
	resolveCmd.Flags().Float64Var(&resolveBudget, "budget", 0, "Session budget in dollars (overrides config)")
	resolveCmd.Flags().BoolVarP(&resolveYes, "yes", "y", false, "Approve above-threshold spending without prompting (batch runs deny without this)")
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "Output result as JSON")

	rootCmd.AddCommand(costsCmd)
	costsCmd.Flags().StringVar(&costsStore, "store", "", "Trajectory archive path (default: configured storage path)")
	costsCmd.Flags().StringVar(&costsOperation, "operation", "", "Report one operation's per-phase costs instead of the summary")
	costsCmd.Flags().BoolVar(&costsJSON, "json", false, "Output result as JSON")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default: configured server.listen)")
	serveCmd.Flags().StringVar(&serveTraceExporter, "trace-exporter", "", "Trace exporter: otlp, stdout or none (default: OTEL_TRACES_EXPORTER)")
	serveCmd.Flags().Float64Var(&serveRPS, "rps", 0, "Max upstream model calls per second, 0 disables limiting")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable Gin debug mode and request logging")
}
