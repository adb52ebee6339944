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
	"strings"
	"testing"
)

func TestExtractPatch(t *testing.T) {
	t.Run("fenced diff block", func(t *testing.T) {
		response := "Here is the fix:\n```diff\n@@ -1,2 +1,2 @@\n-old\n+new\n```\nDone."
		want := "@@ -1,2 +1,2 @@\n-old\n+new"
		if got := ExtractPatch(response); got != want {
			t.Errorf("ExtractPatch() = %q, want %q", got, want)
		}
	})

	t.Run("markerless fence is discarded for a later one", func(t *testing.T) {
		response := "```diff\njust prose\n```\nthen the real one\n```diff\n+added\n```"
		if got := ExtractPatch(response); got != "+added" {
			t.Errorf("ExtractPatch() = %q, want +added", got)
		}
	})

	t.Run("bare diff lines collect from the first marker on", func(t *testing.T) {
		response := "The fix is simple:\n+new line\nand that trailing prose rides along"
		want := "+new line\nand that trailing prose rides along"
		if got := ExtractPatch(response); got != want {
			t.Errorf("ExtractPatch() = %q, want %q", got, want)
		}
	})

	t.Run("unclosed fence still yields its lines", func(t *testing.T) {
		response := "```diff\n-a\n+b"
		if got := ExtractPatch(response); got != "-a\n+b" {
			t.Errorf("ExtractPatch() = %q, want -a\\n+b", got)
		}
	})

	t.Run("nothing diff-like", func(t *testing.T) {
		if got := ExtractPatch("I cannot produce a patch for that."); got != "" {
			t.Errorf("ExtractPatch() = %q, want empty", got)
		}
	})
}

func TestReconstructDiff(t *testing.T) {
	t.Run("labelled before and after blocks", func(t *testing.T) {
		response := "Before:\n```python\nx = 1\n```\nAfter:\n```python\nx = 2\n```"
		got := ReconstructDiff(response, "x = 1")
		for _, want := range []string{"--- original", "+++ fixed", "-x = 1", "+x = 2"} {
			if !strings.Contains(got, want) {
				t.Errorf("ReconstructDiff() missing %q:\n%s", want, got)
			}
		}
	})

	t.Run("empty before block falls back to the original", func(t *testing.T) {
		response := "original:\n```\n```\nfixed:\n```\ny = 2\n```"
		got := ReconstructDiff(response, "y = 1")
		if !strings.Contains(got, "-y = 1") || !strings.Contains(got, "+y = 2") {
			t.Errorf("ReconstructDiff() = %q", got)
		}
	})

	t.Run("largest block diffs against the original", func(t *testing.T) {
		response := "Short:\n```\nz\n```\nFull file:\n```python\na = 1\nb = 3\n```"
		got := ReconstructDiff(response, "a = 1\nb = 2")
		if !strings.Contains(got, "-b = 2") || !strings.Contains(got, "+b = 3") {
			t.Errorf("ReconstructDiff() = %q", got)
		}
	})

	t.Run("block identical to the original yields nothing", func(t *testing.T) {
		if got := ReconstructDiff("```\na = 1\n```", "a = 1"); got != "" {
			t.Errorf("ReconstructDiff() = %q, want empty", got)
		}
	})

	t.Run("no code blocks yields nothing", func(t *testing.T) {
		if got := ReconstructDiff("prose only", "a = 1"); got != "" {
			t.Errorf("ReconstructDiff() = %q, want empty", got)
		}
	})
}

func TestApplyPatch(t *testing.T) {
	t.Run("replacement with context", func(t *testing.T) {
		original := "a\nb\nc\nd"
		patch := "--- original\n+++ fixed\n@@ -1,4 +1,4 @@\n a\n-b\n+B\n c\n d"
		if got := ApplyPatch(original, patch); got != "a\nB\nc\nd" {
			t.Errorf("ApplyPatch() = %q", got)
		}
	})

	t.Run("headers are optional", func(t *testing.T) {
		got := ApplyPatch("a\nb\nc", "@@ -2,1 +2,1 @@\n-b\n+B")
		if got != "a\nB\nc" {
			t.Errorf("ApplyPatch() = %q, want a\\nB\\nc", got)
		}
	})

	t.Run("pure insertion", func(t *testing.T) {
		got := ApplyPatch("a\nb", "@@ -1,0 +2,1 @@\n+inserted")
		if got != "a\ninserted\nb" {
			t.Errorf("ApplyPatch() = %q", got)
		}
	})

	t.Run("later hunks honor earlier insertions", func(t *testing.T) {
		original := "a\nb\nc\nd\ne\nf\ng\nh"
		patch := "@@ -1,2 +1,3 @@\n a\n+X\n b\n@@ -7,2 +8,2 @@\n g\n-h\n+H"
		want := "a\nX\nb\nc\nd\ne\nf\ng\nH"
		if got := ApplyPatch(original, patch); got != want {
			t.Errorf("ApplyPatch() = %q, want %q", got, want)
		}
	})

	t.Run("context mismatch leaves the original untouched", func(t *testing.T) {
		original := "a\nb"
		patch := "@@ -1,1 +1,1 @@\n-z\n+Z"
		if got := ApplyPatch(original, patch); got != original {
			t.Errorf("ApplyPatch() = %q, want original unchanged", got)
		}
	})

	t.Run("patch without hunks leaves the original untouched", func(t *testing.T) {
		original := "a\nb"
		if got := ApplyPatch(original, "+just an addition line"); got != original {
			t.Errorf("ApplyPatch() = %q, want original unchanged", got)
		}
	})

	t.Run("trailing newline survives", func(t *testing.T) {
		original := "def add(a, b):\n    return a - b\n"
		patch := "--- original\n+++ fixed\n@@ -1,2 +1,2 @@\n def add(a, b):\n-    return a - b\n+    return a + b"
		want := "def add(a, b):\n    return a + b\n"
		if got := ApplyPatch(original, patch); got != want {
			t.Errorf("ApplyPatch() = %q, want %q", got, want)
		}
	})
}

func TestPatchFormatHook(t *testing.T) {
	hook := NewPatchFormatHook()

	tests := []struct {
		name     string
		patch    string
		passed   bool
		feedback string
	}{
		{"empty patch", "", false, "Patch is empty."},
		{"no change lines", "@@ -1 +1 @@\n context only", false, "Patch doesn't contain any additions (+) or removals (-)."},
		{"headers only", "--- original\n+++ fixed\n@@ -1 +1 @@\n context", false, "Patch doesn't contain any additions (+) or removals (-)."},
		{"has changes", "-a\n+b", true, "Patch format is valid."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, feedback := hook.Validate(tt.patch)
			if outcome != tt.passed || feedback != tt.feedback {
				t.Errorf("Validate() = %v, %q, want %v, %q", outcome, feedback, tt.passed, tt.feedback)
			}
		})
	}

	t.Run("patch artifact coerces", func(t *testing.T) {
		outcome, _ := hook.Validate(&Patch{Diff: "+x"})
		if !outcome {
			t.Error("Validate(*Patch) = false, want true")
		}
	})

	t.Run("non-text artifact fails", func(t *testing.T) {
		outcome, feedback := hook.Validate(42)
		if outcome || !strings.Contains(feedback, "expected patch text") {
			t.Errorf("Validate(42) = %v, %q", outcome, feedback)
		}
	})
}

func TestPatchSizeHook(t *testing.T) {
	hook := NewPatchSizeHook()

	t.Run("reasonable size", func(t *testing.T) {
		outcome, feedback := hook.Validate("-a\n-b\n+c\n+d\n+e")
		if !outcome {
			t.Errorf("Validate() = false, %q", feedback)
		}
		if feedback != "Patch size is reasonable: 3 additions, 2 removals." {
			t.Errorf("feedback = %q", feedback)
		}
	})

	t.Run("file headers not counted", func(t *testing.T) {
		outcome, feedback := hook.Validate("--- original\n+++ fixed\n@@ -1 +1 @@\n-a\n+b")
		if !outcome {
			t.Errorf("Validate() = false, %q", feedback)
		}
		if feedback != "Patch size is reasonable: 1 additions, 1 removals." {
			t.Errorf("feedback = %q", feedback)
		}
	})

	t.Run("too large", func(t *testing.T) {
		var b strings.Builder
		for i := 0; i < 21; i++ {
			b.WriteString("+line\n")
		}
		outcome, feedback := hook.Validate(b.String())
		if outcome {
			t.Error("Validate() = true for 21 additions")
		}
		if feedback != "Patch is too large: 21 additions, 0 removals (max 20 total)" {
			t.Errorf("feedback = %q", feedback)
		}
	})

	t.Run("empty patch", func(t *testing.T) {
		outcome, feedback := hook.Validate("")
		if outcome || feedback != "Patch is empty." {
			t.Errorf("Validate() = %v, %q", outcome, feedback)
		}
	})
}

func TestPatch_Artifact(t *testing.T) {
	var nilPatch *Patch
	if !nilPatch.Empty() {
		t.Error("nil patch Empty() = false")
	}
	if (&Patch{Diff: "  \n"}).Empty() != true {
		t.Error("whitespace-only patch Empty() = false")
	}
	p := &Patch{Diff: "+x", FixedContent: "x"}
	if p.Empty() {
		t.Error("Empty() = true for real patch")
	}
	if p.Wire() != "+x" {
		t.Errorf("Wire() = %q", p.Wire())
	}
}
