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
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/Refinery/services/refine/engine"
)

func TestParsePlan(t *testing.T) {
	t.Run("valid array", func(t *testing.T) {
		p, err := ParsePlan(`[{"file": "a.go", "action": "create", "what": "Add handler", "how": "Write the file"}]`)
		if err != nil {
			t.Fatalf("ParsePlan() error = %v", err)
		}
		if len(p.Raw) != 1 {
			t.Fatalf("len(Raw) = %d, want 1", len(p.Raw))
		}
		if len(p.Steps) != 1 {
			t.Fatalf("len(Steps) = %d, want 1", len(p.Steps))
		}
		if p.Steps[0].File != "a.go" || p.Steps[0].Action != ActionCreate {
			t.Errorf("Steps[0] = %+v, want file a.go action create", p.Steps[0])
		}
		if p.Empty() {
			t.Error("Empty() = true for one-step plan")
		}
	})

	t.Run("empty array is a legitimate empty plan", func(t *testing.T) {
		p, err := ParsePlan("[]")
		if err != nil {
			t.Fatalf("ParsePlan() error = %v", err)
		}
		if !p.Empty() {
			t.Error("Empty() = false, want true")
		}
	})

	t.Run("object payload is malformed", func(t *testing.T) {
		_, err := ParsePlan(`{"file": "a.go"}`)
		if !errors.Is(err, engine.ErrMalformedArtifact) {
			t.Errorf("ParsePlan() error = %v, want ErrMalformedArtifact", err)
		}
	})

	t.Run("non json is malformed", func(t *testing.T) {
		_, err := ParsePlan("not a plan at all")
		if !errors.Is(err, engine.ErrMalformedArtifact) {
			t.Errorf("ParsePlan() error = %v, want ErrMalformedArtifact", err)
		}
	})

	t.Run("malformed elements keep the raw view", func(t *testing.T) {
		p, err := ParsePlan(`["just a string", {"file": "a.go"}]`)
		if err != nil {
			t.Fatalf("ParsePlan() error = %v", err)
		}
		if len(p.Raw) != 2 {
			t.Errorf("len(Raw) = %d, want 2", len(p.Raw))
		}
	})
}

func TestPlan_Wire(t *testing.T) {
	t.Run("empty plan", func(t *testing.T) {
		if got := (&Plan{}).Wire(); got != "[]" {
			t.Errorf("Wire() = %q, want []", got)
		}
		var nilPlan *Plan
		if got := nilPlan.Wire(); got != "[]" {
			t.Errorf("nil Wire() = %q, want []", got)
		}
	})

	t.Run("steps round trip through the wire form", func(t *testing.T) {
		p := NewPlan([]Step{
			{File: "a.go", Action: ActionCreate, What: "Add handler", How: "Write the file"},
		})
		parsed, err := ParsePlan(p.Wire())
		if err != nil {
			t.Fatalf("ParsePlan(Wire()) error = %v", err)
		}
		if len(parsed.Steps) != 1 || parsed.Steps[0].File != "a.go" {
			t.Errorf("round trip steps = %+v", parsed.Steps)
		}
	})
}

func TestPlan_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(&Plan{})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(b) != "[]" {
		t.Errorf("Marshal(empty) = %s, want []", b)
	}

	var p Plan
	if err := json.Unmarshal([]byte(`[{"file": "b.go", "action": "modify", "what": "w", "how": "h"}]`), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(p.Steps) != 1 || p.Steps[0].Action != ActionModify {
		t.Errorf("Unmarshal steps = %+v", p.Steps)
	}
}

func TestAction(t *testing.T) {
	for _, a := range []Action{ActionCreate, ActionModify, ActionDelete} {
		if !a.IsValid() {
			t.Errorf("IsValid(%s) = false", a)
		}
	}
	if Action("rename").IsValid() {
		t.Error("IsValid(rename) = true")
	}
}

func TestExtractPlan(t *testing.T) {
	fenced := "Here is the plan:\n```json\n[{\"file\": \"a.go\", \"action\": \"create\", \"what\": \"w\", \"how\": \"h\"}]\n```\nDone."

	t.Run("fenced block", func(t *testing.T) {
		p, err := ExtractPlan(fenced)
		if err != nil {
			t.Fatalf("ExtractPlan() error = %v", err)
		}
		if len(p.Steps) != 1 {
			t.Errorf("len(Steps) = %d, want 1", len(p.Steps))
		}
	})

	t.Run("bare array response", func(t *testing.T) {
		p, err := ExtractPlan(`  [{"file": "a.go", "action": "delete", "what": "w", "how": "h"}]  `)
		if err != nil {
			t.Fatalf("ExtractPlan() error = %v", err)
		}
		if len(p.Steps) != 1 || p.Steps[0].Action != ActionDelete {
			t.Errorf("Steps = %+v", p.Steps)
		}
	})

	t.Run("no payload returns a usable empty plan", func(t *testing.T) {
		p, err := ExtractPlan("I cannot produce a plan for that request.")
		if !errors.Is(err, engine.ErrMalformedArtifact) {
			t.Errorf("error = %v, want ErrMalformedArtifact", err)
		}
		if p == nil || !p.Empty() {
			t.Errorf("plan = %+v, want usable empty plan", p)
		}
	})

	t.Run("fenced object falls through to nothing", func(t *testing.T) {
		_, err := ExtractPlan("```json\n{\"file\": \"a.go\"}\n```")
		if !errors.Is(err, engine.ErrMalformedArtifact) {
			t.Errorf("error = %v, want ErrMalformedArtifact", err)
		}
	})
}

func TestExtractAnalysis(t *testing.T) {
	t.Run("structured", func(t *testing.T) {
		a := ExtractAnalysis("Analysis follows.\n```json\n{\"missing_steps\": [\"tests\"]}\n```")
		if !a.Structured {
			t.Fatal("Structured = false, want true")
		}
		m, ok := a.Data.(map[string]any)
		if !ok {
			t.Fatalf("Data = %T, want map", a.Data)
		}
		if _, ok := m["missing_steps"]; !ok {
			t.Error("Data missing missing_steps key")
		}
	})

	t.Run("unstructured", func(t *testing.T) {
		a := ExtractAnalysis("The plan looks coherent overall.")
		if a.Structured {
			t.Error("Structured = true, want false")
		}
		if a.Text != "The plan looks coherent overall." {
			t.Errorf("Text = %q", a.Text)
		}
	})

	t.Run("marshal envelope", func(t *testing.T) {
		b, err := json.Marshal(ExtractAnalysis("free text"))
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if !strings.Contains(string(b), `"structured":false`) {
			t.Errorf("Marshal() = %s, want structured false envelope", b)
		}
		if !strings.Contains(string(b), `"analysis":"free text"`) {
			t.Errorf("Marshal() = %s, want analysis text", b)
		}
	})

	t.Run("marshal structured emits the payload", func(t *testing.T) {
		a := ExtractAnalysis("```json\n{\"ok\": true}\n```")
		b, err := json.Marshal(a)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if string(b) != `{"ok":true}` {
			t.Errorf("Marshal() = %s, want {\"ok\":true}", b)
		}
	})
}
