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
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/Refinery/services/refine/engine"
)

// Action is the kind of change a plan step makes to a file.
type Action string

const (
	ActionCreate Action = "create"
	ActionModify Action = "modify"
	ActionDelete Action = "delete"
)

// String returns the action name.
func (a Action) String() string {
	return string(a)
}

// IsValid reports whether the action is one of the known kinds.
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionModify, ActionDelete:
		return true
	default:
		return false
	}
}

// Step is one unit of work in a modification plan.
type Step struct {
	File   string `json:"file"`
	Action Action `json:"action"`
	What   string `json:"what"`
	How    string `json:"how"`
}

// Plan is an ordered list of modification steps.
//
// Raw holds the decoded wire form exactly as the model supplied it;
// validation hooks judge that form so a step with a missing field is
// distinguishable from one with an empty field. Steps is the typed
// view for consumers, populated best effort.
type Plan struct {
	Steps []Step
	Raw   []any
}

// NewPlan builds a plan from typed steps.
func NewPlan(steps []Step) *Plan {
	raw := make([]any, 0, len(steps))
	for _, s := range steps {
		raw = append(raw, map[string]any{
			"file":   s.File,
			"action": string(s.Action),
			"what":   s.What,
			"how":    s.How,
		})
	}
	return &Plan{Steps: steps, Raw: raw}
}

// ParsePlan decodes a JSON array of plan steps.
//
// Outputs:
//
//	*Plan - The decoded plan; may be legitimately empty ("[]").
//	error - Wraps engine.ErrMalformedArtifact when the payload is not
//	a JSON array.
func ParsePlan(payload string) (*Plan, error) {
	var raw []any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrMalformedArtifact, err)
	}

	p := &Plan{Raw: raw}

	// Typed view, tolerant of malformed elements: the hooks report
	// those, not the parser.
	if encoded, err := json.Marshal(raw); err == nil {
		var steps []Step
		if err := json.Unmarshal(encoded, &steps); err == nil {
			p.Steps = steps
		}
	}
	return p, nil
}

// Empty implements engine.Artifact.
func (p *Plan) Empty() bool {
	return p == nil || len(p.Raw) == 0
}

// Wire implements engine.Artifact: the indented JSON array embedded in
// prompts.
func (p *Plan) Wire() string {
	if p.Empty() {
		return "[]"
	}
	b, err := json.MarshalIndent(p.Raw, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}

// MarshalJSON emits the wire array form.
func (p *Plan) MarshalJSON() ([]byte, error) {
	if p == nil || p.Raw == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.Raw)
}

// UnmarshalJSON accepts the wire array form.
func (p *Plan) UnmarshalJSON(data []byte) error {
	parsed, err := ParsePlan(string(data))
	if err != nil {
		return err
	}
	*p = *parsed
	return nil
}

// ExtractPlan locates and decodes a plan in a model response: the
// first fenced block, then the whole response when it is a bare JSON
// array.
//
// Outputs:
//
//	*Plan - The decoded plan, or a usable empty plan on failure.
//	error - Wraps engine.ErrMalformedArtifact when no candidate
//	decodes; the empty plan is still returned so refinement can
//	iterate on it.
func ExtractPlan(response string) (*Plan, error) {
	for _, candidate := range engine.ExtractPayloads(response, "[", "]") {
		if p, err := ParsePlan(candidate.Payload); err == nil {
			return p, nil
		}
	}
	return &Plan{}, fmt.Errorf("%w: no plan payload in response", engine.ErrMalformedArtifact)
}

// Analysis is the outcome of the plan analysis step: the parsed JSON
// payload when the model fenced one, otherwise the raw response text.
type Analysis struct {
	Data       any
	Text       string
	Structured bool
}

// ExtractAnalysis parses the first fenced block of an analysis
// response as JSON, degrading to the unstructured form.
func ExtractAnalysis(response string) Analysis {
	if ext, ok := engine.ExtractFenced(response); ok {
		var data any
		if err := json.Unmarshal([]byte(ext.Payload), &data); err == nil {
			return Analysis{Data: data, Structured: true}
		}
	}
	return Analysis{Text: response}
}

// MarshalJSON emits the parsed payload for structured analyses and an
// analysis/structured envelope otherwise.
func (a Analysis) MarshalJSON() ([]byte, error) {
	if a.Structured {
		return json.Marshal(a.Data)
	}
	return json.Marshal(map[string]any{
		"analysis":   a.Text,
		"structured": false,
	})
}
