// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hooks

import "fmt"

// NewBudgetHook builds a hook failing when observed spend exceeds a
// cap.
//
// costFn reads the spend to judge, typically a closure over the
// operation's cost tracker. The hook ignores the artifact; it exists
// so budget breaches surface through the same verdict map as content
// problems. A nil costFn reads as zero spend.
func NewBudgetHook(maxCost float64, costFn func() float64) *Hook {
	return NewHook(
		"budget_validation",
		TypeBudget,
		fmt.Sprintf("Enforce cost <= $%.4f", maxCost),
		PriorityBudget,
		func(any) (bool, string) {
			cost := 0.0
			if costFn != nil {
				cost = costFn()
			}
			verdict := "within"
			if cost > maxCost {
				verdict = "exceeds"
			}
			return cost <= maxCost, fmt.Sprintf("Cost $%.4f %s budget $%.4f", cost, verdict, maxCost)
		},
	)
}
