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
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/AleutianAI/Refinery/services/refine/storage/badger"
	"github.com/AleutianAI/Refinery/services/refine/trajectory"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess  = 0 // Operation completed successfully
	CLIExitFindings = 1 // Operation completed but the result did not fully validate
	CLIExitError    = 2 // Operation failed
)

// CommandResult wraps command output with metadata.
type CommandResult struct {
	APIVersion string      `json:"api_version"`
	Command    string      `json:"command"`
	Timestamp  time.Time   `json:"timestamp"`
	DurationMs int64       `json:"duration_ms"`
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// OutputJSON writes structured data as JSON to stdout.
//
// # Inputs
//
//   - data: The data to encode. Must be JSON-serializable.
//   - compact: If true, output without indentation.
//
// # Outputs
//
//   - error: Non-nil if encoding fails.
func OutputJSON(data interface{}, compact bool) error {
	encoder := json.NewEncoder(os.Stdout)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// OutputError writes an error in the appropriate format.
//
// # Inputs
//
//   - jsonMode: If true, output as JSON to stdout.
//   - msg: Human-readable error message.
//   - err: The underlying error.
func OutputError(jsonMode bool, msg string, err error) {
	if jsonMode {
		result := CommandResult{
			APIVersion: "1.0",
			Timestamp:  time.Now(),
			Success:    false,
			Error:      fmt.Sprintf("%s: %v", msg, err),
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		encoder.Encode(result)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	}
}

// OutputResult wraps data in a CommandResult and writes it as JSON.
//
// # Inputs
//
//   - cmd: Command name for metadata.
//   - start: Start time for duration calculation.
//   - success: Whether the operation succeeded.
//   - data: The data to output.
//
// # Outputs
//
//   - error: Non-nil if encoding fails.
func OutputResult(cmd string, start time.Time, success bool, data interface{}) error {
	return OutputJSON(CommandResult{
		APIVersion: "1.0",
		Command:    cmd,
		Timestamp:  time.Now(),
		DurationMs: time.Since(start).Milliseconds(),
		Success:    success,
		Data:       data,
	}, false)
}

// CostsResult holds the costs command's archive summary output.
type CostsResult struct {
	Operations  []badger.Summary `json:"operations"`
	Count       int              `json:"count"`
	TotalTokens int              `json:"total_tokens"`
	TotalCost   float64          `json:"total_cost"`
}

// OperationCostsResult holds one operation's per-phase cost output.
type OperationCostsResult struct {
	OperationID   string      `json:"operation_id"`
	OperationType string      `json:"operation_type"`
	Phases        []PhaseCost `json:"phases"`
	TotalTokens   int         `json:"total_tokens"`
	TotalCost     float64     `json:"total_cost"`
	Success       bool        `json:"success"`
}

// PhaseCost is one phase's share of an operation's spending.
type PhaseCost struct {
	PhaseID string  `json:"phase_id"`
	Model   string  `json:"model"`
	Steps   int     `json:"steps"`
	Tokens  int     `json:"tokens"`
	Cost    float64 `json:"cost"`
}

// operationCosts flattens an archived trajectory into per-phase rows.
func operationCosts(traj *trajectory.Trajectory) OperationCostsResult {
	result := OperationCostsResult{
		OperationID:   traj.OperationID,
		OperationType: traj.OperationType,
		TotalTokens:   traj.TotalTokensConsumed,
		TotalCost:     traj.TotalCostIncurred,
		Success:       traj.OverallSuccess,
	}
	for _, phase := range traj.Phases {
		result.Phases = append(result.Phases, PhaseCost{
			PhaseID: phase.PhaseID,
			Model:   phase.ModelUsed,
			Steps:   len(phase.ReasoningSteps),
			Tokens:  phase.TokensConsumed,
			Cost:    phase.CostIncurred,
		})
	}
	return result
}

// BatchItemResult is one resolution's row in batch output.
type BatchItemResult struct {
	Request    string  `json:"request"`
	File       string  `json:"file"`
	Success    bool    `json:"success"`
	Valid      bool    `json:"validation"`
	Iterations int     `json:"iterations"`
	Tokens     int     `json:"tokens"`
	Cost       float64 `json:"cost"`
	Error      string  `json:"error,omitempty"`
}

// BatchResult holds the batch resolve command's output.
type BatchResult struct {
	Items       []BatchItemResult `json:"items"`
	Count       int               `json:"count"`
	Resolved    int               `json:"resolved"`
	TotalTokens int               `json:"total_tokens"`
	TotalCost   float64           `json:"total_cost"`
}
