// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package issue

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestExtractAnalysis(t *testing.T) {
	t.Run("markdown headings open sections", func(t *testing.T) {
		response := "Preamble that belongs to no section.\n" +
			"## Root Cause Identification\n" +
			"The loop index is off by one.\n\n" +
			"### Fix Approach\n" +
			"Use range.\n" +
			"Keep the change minimal.\n"

		a := ExtractAnalysis(response)
		if !a.Structured {
			t.Fatal("Structured = false, want true")
		}
		if len(a.Sections) != 2 {
			t.Fatalf("sections = %d, want 2", len(a.Sections))
		}
		if a.Sections[0].Key != "root_cause_identification" {
			t.Errorf("Sections[0].Key = %q", a.Sections[0].Key)
		}

		lines, ok := a.Section("fix_approach")
		if !ok {
			t.Fatal("fix_approach section missing")
		}
		if len(lines) != 2 || lines[0] != "Use range." {
			t.Errorf("fix_approach lines = %v", lines)
		}
	})

	t.Run("bare root cause line opens a section", func(t *testing.T) {
		a := ExtractAnalysis("Root cause: the cache is stale\nEvict on write.")
		if !a.Structured {
			t.Fatal("Structured = false, want true")
		}
		// The heading text after the colon is not kept; only following
		// lines populate the section.
		lines, ok := a.Section("root_cause")
		if !ok {
			t.Fatal("root_cause section missing")
		}
		if len(lines) != 1 || lines[0] != "Evict on write." {
			t.Errorf("root_cause lines = %v", lines)
		}
	})

	t.Run("fix approach prefix is case insensitive", func(t *testing.T) {
		a := ExtractAnalysis("FIX APPROACH\nSwap the operands.")
		if _, ok := a.Section("fix_approach"); !ok {
			t.Errorf("sections = %+v, want fix_approach", a.Sections)
		}
	})

	t.Run("no headings means unstructured", func(t *testing.T) {
		a := ExtractAnalysis("It just looks wrong to me.")
		if a.Structured {
			t.Error("Structured = true, want false")
		}
		if a.Text != "It just looks wrong to me." {
			t.Errorf("Text = %q", a.Text)
		}
	})

	t.Run("repeated heading restarts its section in place", func(t *testing.T) {
		a := ExtractAnalysis("## Fix Approach\nfirst\n## Other\nmiddle\n## Fix Approach\nsecond")
		if len(a.Sections) != 2 {
			t.Fatalf("sections = %d, want 2", len(a.Sections))
		}
		if a.Sections[0].Key != "fix_approach" || a.Sections[1].Key != "other" {
			t.Errorf("section order = %q, %q", a.Sections[0].Key, a.Sections[1].Key)
		}
		lines, _ := a.Section("fix_approach")
		if len(lines) != 1 || lines[0] != "second" {
			t.Errorf("fix_approach lines = %v, want just the restarted content", lines)
		}
	})
}

func TestAnalysis_MarshalJSON(t *testing.T) {
	t.Run("structured", func(t *testing.T) {
		a := ExtractAnalysis("## Fix Approach\nSwap operands.")
		b, err := json.Marshal(a)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if !strings.Contains(string(b), `"structured":true`) {
			t.Errorf("Marshal() = %s", b)
		}
		if !strings.Contains(string(b), `"fix_approach":["Swap operands."]`) {
			t.Errorf("Marshal() = %s", b)
		}
	})

	t.Run("unstructured", func(t *testing.T) {
		b, err := json.Marshal(ExtractAnalysis("free text"))
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if !strings.Contains(string(b), `"analysis":"free text"`) || !strings.Contains(string(b), `"structured":false`) {
			t.Errorf("Marshal() = %s", b)
		}
	})
}
