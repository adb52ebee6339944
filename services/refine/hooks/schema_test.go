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

import (
	"strings"
	"testing"
)

func planSchema() ObjectSchema {
	return ObjectSchema{
		Required: []string{"file", "action", "what", "how"},
		Properties: map[string]FieldSpec{
			"file":   {Type: "string"},
			"action": {Type: "string", Enum: []string{"create", "modify", "delete"}},
			"what":   {Type: "string"},
			"how":    {Type: "string"},
		},
	}
}

func validStep(file, action string) map[string]any {
	return map[string]any{
		"file":   file,
		"action": action,
		"what":   "add endpoint",
		"how":    "append handler function",
	}
}

func TestNewSchemaHook_Identity(t *testing.T) {
	h := NewSchemaHook(planSchema())

	if h.ID != "schema_validation" {
		t.Errorf("ID = %q, want schema_validation", h.ID)
	}
	if h.Type != TypeSchema {
		t.Errorf("Type = %q, want %q", h.Type, TypeSchema)
	}
	if h.Priority != PrioritySchema {
		t.Errorf("Priority = %d, want %d", h.Priority, PrioritySchema)
	}
}

func TestSchemaHook_ValidPlan(t *testing.T) {
	h := NewSchemaHook(planSchema())

	outcome, feedback := h.Validate([]map[string]any{
		validStep("api.py", "create"),
		validStep("api.py", "modify"),
	})

	if !outcome {
		t.Errorf("Validate() = false, feedback %q, want pass", feedback)
	}
	if feedback != "Schema-valid." {
		t.Errorf("feedback = %q, want Schema-valid.", feedback)
	}
}

func TestSchemaHook_AnySliceCoercion(t *testing.T) {
	h := NewSchemaHook(planSchema())

	// json.Unmarshal produces []any of map[string]any.
	outcome, feedback := h.Validate([]any{validStep("main.go", "delete")})
	if !outcome {
		t.Errorf("Validate() = false, feedback %q, want pass for []any plan", feedback)
	}
}

func TestSchemaHook_MissingField(t *testing.T) {
	h := NewSchemaHook(planSchema())

	step := validStep("api.py", "create")
	delete(step, "how")

	outcome, feedback := h.Validate([]map[string]any{step})
	if outcome {
		t.Error("Validate() = true, want false for missing field")
	}
	if !strings.Contains(feedback, `missing required field "how"`) {
		t.Errorf("feedback = %q, want missing-field detail", feedback)
	}
}

func TestSchemaHook_BadEnum(t *testing.T) {
	h := NewSchemaHook(planSchema())

	outcome, feedback := h.Validate([]map[string]any{validStep("api.py", "destroy")})
	if outcome {
		t.Error("Validate() = true, want false for bad enum value")
	}
	if !strings.Contains(feedback, `"destroy"`) {
		t.Errorf("feedback = %q, want offending enum value", feedback)
	}
}

func TestSchemaHook_WrongType(t *testing.T) {
	h := NewSchemaHook(planSchema())

	step := validStep("api.py", "create")
	step["what"] = 42

	outcome, feedback := h.Validate([]map[string]any{step})
	if outcome {
		t.Error("Validate() = true, want false for wrong type")
	}
	if !strings.Contains(feedback, `field "what" must be a string`) {
		t.Errorf("feedback = %q, want type detail", feedback)
	}
}

func TestSchemaHook_CollectsAllProblems(t *testing.T) {
	h := NewSchemaHook(planSchema())

	first := validStep("a.py", "create")
	delete(first, "file")
	second := validStep("b.py", "explode")

	_, feedback := h.Validate([]map[string]any{first, second})

	if !strings.Contains(feedback, "step 0") || !strings.Contains(feedback, "step 1") {
		t.Errorf("feedback = %q, want problems from both steps", feedback)
	}
}

func TestSchemaHook_NonSequenceArtifact(t *testing.T) {
	h := NewSchemaHook(planSchema())

	tests := []struct {
		name     string
		artifact any
	}{
		{"string", "not a plan"},
		{"object", map[string]any{"file": "x"}},
		{"mixed slice", []any{validStep("a.py", "create"), "rogue"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, feedback := h.Validate(tt.artifact)
			if outcome {
				t.Error("Validate() = true, want false for non-sequence artifact")
			}
			if !strings.HasPrefix(feedback, "Schema error:") {
				t.Errorf("feedback = %q, want Schema error prefix", feedback)
			}
		})
	}
}

func TestSchemaHook_EmptyPlanPasses(t *testing.T) {
	h := NewSchemaHook(planSchema())

	// Emptiness is a plan-validity rule, not a schema rule.
	outcome, _ := h.Validate([]map[string]any{})
	if !outcome {
		t.Error("Validate() = false for empty sequence, want true")
	}
}
