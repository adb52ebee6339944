// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hooks runs validation predicates over refinement artifacts.
//
// A Hook wraps one predicate with an identity and a priority. A
// Registry holds the hooks an operator registered and runs them over an
// artifact in priority order, collecting every verdict. Validation
// never stops early and never panics outward: a panicking predicate
// becomes a failed verdict and the remaining hooks still run.
//
// Thread Safety:
//
//	Registry is safe for concurrent reads after registration. Register
//	hooks during operator construction, before validation starts.
package hooks

import (
	"fmt"
	"sort"
)

// =============================================================================
// Hook Types
// =============================================================================

// HookType groups hooks by the artifact facet they check, so a caller
// can run a subset (syntax hooks against fixed content, patch hooks
// against the diff).
type HookType string

const (
	TypeSyntax      HookType = "syntax"
	TypeSchema      HookType = "schema"
	TypeBudget      HookType = "budget"
	TypeConsistency HookType = "consistency"
	TypePatchFormat HookType = "patch_format"
	TypePatchSize   HookType = "patch_size"
)

// String returns the hook type name.
func (t HookType) String() string {
	return string(t)
}

// Default priorities. Higher runs first.
const (
	PrioritySyntax      = 10
	PriorityBudget      = 9
	PriorityPatchFormat = 9
	PrioritySchema      = 8
	PriorityPatchSize   = 8
	PriorityConsistency = 7
)

// =============================================================================
// Hook
// =============================================================================

// HookResult is one hook's verdict over an artifact.
type HookResult struct {
	// Outcome is true when the artifact passed the hook.
	Outcome bool `json:"outcome"`

	// Feedback explains the verdict in prose an LLM can act on.
	Feedback string `json:"feedback"`
}

// ValidateFunc is the predicate a hook wraps. It reports whether the
// artifact passes and a human-readable explanation either way.
type ValidateFunc func(artifact any) (bool, string)

// Hook is a named, prioritized validation predicate.
type Hook struct {
	// ID uniquely identifies the hook within a registry.
	ID string

	// Type groups the hook for subset runs.
	Type HookType

	// Description says what the hook checks.
	Description string

	// Priority orders execution. Higher runs first.
	Priority int

	fn ValidateFunc
}

// NewHook wraps a predicate in a hook.
func NewHook(id string, hookType HookType, description string, priority int, fn ValidateFunc) *Hook {
	return &Hook{
		ID:          id,
		Type:        hookType,
		Description: description,
		Priority:    priority,
		fn:          fn,
	}
}

// Validate runs the predicate over an artifact.
//
// A panic inside the predicate is converted into a failed verdict
// carrying the panic text, so one broken hook cannot abort a
// validation pass.
func (h *Hook) Validate(artifact any) (outcome bool, feedback string) {
	defer func() {
		if r := recover(); r != nil {
			outcome = false
			feedback = fmt.Sprintf("validation hook %s panicked: %v", h.ID, r)
		}
	}()

	if h.fn == nil {
		return false, fmt.Sprintf("validation hook %s has no predicate", h.ID)
	}
	return h.fn(artifact)
}

// =============================================================================
// Registry
// =============================================================================

// Registry holds an operator's validation hooks.
type Registry struct {
	ordered []*Hook
	byID    map[string]*Hook
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Hook)}
}

// Register adds a hook. Re-registering an ID replaces the hook in
// place, keeping its original position for equal-priority ordering.
func (r *Registry) Register(hook *Hook) {
	if hook == nil || hook.ID == "" {
		return
	}
	if _, exists := r.byID[hook.ID]; exists {
		for i, h := range r.ordered {
			if h.ID == hook.ID {
				r.ordered[i] = hook
				break
			}
		}
	} else {
		r.ordered = append(r.ordered, hook)
	}
	r.byID[hook.ID] = hook
}

// Get returns a hook by ID.
func (r *Registry) Get(id string) (*Hook, bool) {
	h, ok := r.byID[id]
	return h, ok
}

// Len returns the number of registered hooks.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// All returns the registered hooks in registration order.
func (r *Registry) All() []*Hook {
	out := make([]*Hook, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Clone returns a registry with the same hooks. Registrations on the
// clone do not touch the original, so per-run hook sets can extend a
// shared base.
func (r *Registry) Clone() *Registry {
	clone := NewRegistry()
	for _, h := range r.ordered {
		clone.Register(h)
	}
	return clone
}

// RunValidationHooks validates an artifact against registered hooks.
//
// Description:
//
//	Runs every matching hook in descending priority order, higher
//	first, and collects one verdict per hook. Hooks that fail or panic
//	do not stop the pass; the caller sees the complete verdict map.
//
// Inputs:
//
//	artifact - The artifact under validation.
//	hookTypes - Optional filter. Empty runs every hook.
//
// Outputs:
//
//	map[string]HookResult - Verdict per hook ID. One entry per hook
//	that ran.
func (r *Registry) RunValidationHooks(artifact any, hookTypes ...HookType) map[string]HookResult {
	selected := make([]*Hook, 0, len(r.ordered))
	for _, h := range r.ordered {
		if len(hookTypes) == 0 || containsType(hookTypes, h.Type) {
			selected = append(selected, h)
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Priority > selected[j].Priority
	})

	results := make(map[string]HookResult, len(selected))
	for _, h := range selected {
		outcome, feedback := h.Validate(artifact)
		results[h.ID] = HookResult{Outcome: outcome, Feedback: feedback}
	}
	return results
}

// RunValidationHooksExcluding validates an artifact against every hook
// whose type is NOT in the exclusion list. Used when one artifact facet
// (the patched content) is checked by some hooks and another facet (the
// diff) by the rest.
func (r *Registry) RunValidationHooksExcluding(artifact any, exclude ...HookType) map[string]HookResult {
	selected := make([]*Hook, 0, len(r.ordered))
	for _, h := range r.ordered {
		if !containsType(exclude, h.Type) {
			selected = append(selected, h)
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Priority > selected[j].Priority
	})

	results := make(map[string]HookResult, len(selected))
	for _, h := range selected {
		outcome, feedback := h.Validate(artifact)
		results[h.ID] = HookResult{Outcome: outcome, Feedback: feedback}
	}
	return results
}

// Merge folds b into a copy of a. Verdicts in b win on ID collision.
func Merge(a, b map[string]HookResult) map[string]HookResult {
	merged := make(map[string]HookResult, len(a)+len(b))
	for id, result := range a {
		merged[id] = result
	}
	for id, result := range b {
		merged[id] = result
	}
	return merged
}

// AllPassed reports whether every verdict in a result map succeeded.
func AllPassed(results map[string]HookResult) bool {
	for _, r := range results {
		if !r.Outcome {
			return false
		}
	}
	return true
}

// FormatFeedback renders verdicts as a bullet list for reasoning
// prompts, failures first.
func FormatFeedback(results map[string]HookResult) string {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ri, rj := results[ids[i]], results[ids[j]]
		if ri.Outcome != rj.Outcome {
			return !ri.Outcome
		}
		return ids[i] < ids[j]
	})

	out := ""
	for _, id := range ids {
		result := results[id]
		status := "PASS"
		if !result.Outcome {
			status = "FAIL"
		}
		out += fmt.Sprintf("- %s: %s %s\n", id, status, result.Feedback)
	}
	return out
}

// FormatFailures renders only the failing verdicts, one bullet per
// hook. Fix prompts use this so the model sees what to correct without
// wading through passing checks.
func FormatFailures(results map[string]HookResult) string {
	ids := make([]string, 0, len(results))
	for id, r := range results {
		if !r.Outcome {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := ""
	for _, id := range ids {
		out += fmt.Sprintf("- %s: %s\n", id, results[id].Feedback)
	}
	return out
}

func containsType(types []HookType, t HookType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
