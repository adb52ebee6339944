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
	"fmt"
	"strings"

	"github.com/AleutianAI/Refinery/services/refine/hooks"
)

// NewConsistencyHook returns the hook that checks a plan's steps are
// logically ordered: no double creation, no touching files that were
// never brought into existence.
func NewConsistencyHook() *hooks.Hook {
	return hooks.NewHook(
		"plan_logical_consistency",
		hooks.TypeConsistency,
		"Ensure plan steps are logically ordered and non-contradictory",
		hooks.PriorityConsistency,
		validateLogicalConsistency,
	)
}

// validateLogicalConsistency walks the steps in order, tracking which
// files each action has made available. Unknown actions are the schema
// hook's problem and pass through here.
func validateLogicalConsistency(artifact any) (bool, string) {
	steps, ok := stepObjects(artifact)
	if !ok {
		return false, fmt.Sprintf("Consistency error: expected a sequence of plan steps, got %T", artifact)
	}

	created := make(map[string]bool)
	modified := make(map[string]bool)
	var problems []string

	for idx, step := range steps {
		file, _ := step["file"].(string)
		action, _ := step["action"].(string)

		switch Action(action) {
		case ActionCreate:
			if created[file] {
				problems = append(problems, fmt.Sprintf("Step %d: '%s' created multiple times.", idx, file))
			}
			created[file] = true
		case ActionModify:
			if !created[file] && !modified[file] {
				problems = append(problems, fmt.Sprintf("Step %d: '%s' modified before creation.", idx, file))
			}
			modified[file] = true
		case ActionDelete:
			if !created[file] && !modified[file] {
				problems = append(problems, fmt.Sprintf("Step %d: '%s' deleted but was never created.", idx, file))
			}
		}
	}

	if len(problems) > 0 {
		return false, strings.Join(problems, "\n")
	}
	return true, "Plan is logically consistent."
}

// stepObjects coerces the artifact shapes this package passes to its
// hooks into a sequence of step objects.
func stepObjects(artifact any) ([]map[string]any, bool) {
	switch v := artifact.(type) {
	case *Plan:
		return stepObjects(v.Raw)
	case []map[string]any:
		return v, true
	case []any:
		steps := make([]map[string]any, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			steps = append(steps, m)
		}
		return steps, true
	default:
		return nil, false
	}
}
