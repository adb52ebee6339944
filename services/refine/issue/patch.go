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
	"fmt"
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/Refinery/services/refine/hooks"
)

// MaxPatchChanges caps the combined additions and removals a patch may
// carry before the size hook rejects it.
const MaxPatchChanges = 20

// Patch is a candidate fix: the unified diff plus the file content
// after applying it.
type Patch struct {
	Diff         string
	FixedContent string
}

// Empty implements engine.Artifact.
func (p *Patch) Empty() bool {
	return p == nil || strings.TrimSpace(p.Diff) == ""
}

// Wire implements engine.Artifact: the diff text embedded in prompts.
func (p *Patch) Wire() string {
	if p == nil {
		return ""
	}
	return p.Diff
}

// =============================================================================
// Extraction
// =============================================================================

// ExtractPatch returns the first diff-style block found in a response.
//
// Description:
//
//	Prefers a fenced ```diff block that contains at least one +, - or
//	@@ line; a fenced block without markers is discarded and scanning
//	continues. With no usable fence the whole response is scanned for
//	diff-looking lines, collecting everything from the first marker
//	on. Returns "" when nothing diff-like exists.
func ExtractPatch(response string) string {
	var patchLines []string
	inDiff := false
	hasMarkers := false

	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```diff") {
			inDiff = true
			continue
		}
		if inDiff && strings.HasPrefix(trimmed, "```") {
			inDiff = false
			if hasMarkers {
				return strings.Join(patchLines, "\n")
			}
			patchLines, hasMarkers = nil, false
			continue
		}
		if inDiff {
			patchLines = append(patchLines, line)
			if isDiffMarker(line) {
				hasMarkers = true
			}
		}
	}

	if len(patchLines) == 0 {
		for _, line := range strings.Split(response, "\n") {
			if isDiffMarker(line) {
				patchLines = append(patchLines, line)
				hasMarkers = true
			} else if len(patchLines) > 0 && hasMarkers {
				patchLines = append(patchLines, line)
			}
		}
	}

	if !hasMarkers {
		return ""
	}
	return strings.Join(patchLines, "\n")
}

func isDiffMarker(line string) bool {
	t := strings.TrimLeft(line, " \t")
	return strings.HasPrefix(t, "+") || strings.HasPrefix(t, "-") || strings.HasPrefix(t, "@@")
}

var (
	beforeBlockRe = regexp.MustCompile("(?i)(?:before|original):?\\s*```(?:\\w+)?\\s*([\\s\\S]*?)```")
	afterBlockRe  = regexp.MustCompile("(?i)(?:after|fixed):?\\s*```(?:\\w+)?\\s*([\\s\\S]*?)```")
	codeBlockRe   = regexp.MustCompile("```(?:\\w+)?\\s*([\\s\\S]*?)```")
)

// ReconstructDiff builds a unified diff when the response carries code
// blocks instead of a patch.
//
// Description:
//
//	First looks for labelled before/original and after/fixed fenced
//	blocks and diffs those, substituting the original content when the
//	before block is empty. Failing that, the largest fenced block is
//	diffed against the original, provided it differs. Headers are
//	--- original / +++ fixed either way. Returns "" when no usable
//	blocks exist.
func ReconstructDiff(response, originalContent string) string {
	before := beforeBlockRe.FindStringSubmatch(response)
	after := afterBlockRe.FindStringSubmatch(response)

	if before != nil && after != nil {
		beforeCode := strings.TrimSpace(before[1])
		if beforeCode == "" {
			beforeCode = originalContent
		}
		afterCode := strings.TrimSpace(after[1])
		return unifiedDiff(beforeCode, afterCode)
	}

	var largest string
	for _, m := range codeBlockRe.FindAllStringSubmatch(response, -1) {
		if len(m[1]) > len(largest) {
			largest = m[1]
		}
	}
	largest = strings.TrimRight(largest, " \t\r\n")
	if largest != "" && largest != originalContent {
		return unifiedDiff(originalContent, largest)
	}
	return ""
}

// unifiedDiff renders a difflib unified diff between two texts.
func unifiedDiff(before, after string) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        diffSourceLines(before),
		B:        diffSourceLines(after),
		FromFile: "original",
		ToFile:   "fixed",
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return text
}

// diffSourceLines splits text for difflib, newline-terminated without
// a phantom empty line for trailing newlines.
func diffSourceLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}

// =============================================================================
// Application
// =============================================================================

// ApplyPatch applies a unified diff to the original content.
//
// Description:
//
//	Parses the hunks (file headers optional) and replays them with a
//	moving cursor, verifying context and removed lines against the
//	original. Any parse failure or mismatch returns the original
//	content unchanged, so a bad patch degrades to a no-op instead of
//	corrupting the file.
func ApplyPatch(originalContent, patch string) string {
	section := hunkSection(patch)
	if section == "" {
		return originalContent
	}
	hunks, err := diff.ParseHunks([]byte(section))
	if err != nil || len(hunks) == 0 {
		return originalContent
	}

	src := strings.Split(originalContent, "\n")
	var out []string
	cursor := 0

	for _, h := range hunks {
		start := int(h.OrigStartLine) - 1
		if h.OrigLines == 0 {
			// Pure insertions address the line they follow.
			start = int(h.OrigStartLine)
		}
		if start < cursor || start > len(src) {
			return originalContent
		}
		out = append(out, src[cursor:start]...)
		cursor = start

		body := strings.TrimSuffix(string(h.Body), "\n")
		for _, bl := range strings.Split(body, "\n") {
			switch {
			case strings.HasPrefix(bl, "+"):
				out = append(out, bl[1:])
			case strings.HasPrefix(bl, "-"):
				if cursor >= len(src) || src[cursor] != bl[1:] {
					return originalContent
				}
				cursor++
			case strings.HasPrefix(bl, " "):
				if cursor >= len(src) || src[cursor] != bl[1:] {
					return originalContent
				}
				out = append(out, src[cursor])
				cursor++
			case bl == "":
				if cursor >= len(src) || src[cursor] != "" {
					return originalContent
				}
				out = append(out, "")
				cursor++
			case strings.HasPrefix(bl, "\\"):
				// "\ No newline at end of file"
			default:
				return originalContent
			}
		}
	}

	out = append(out, src[cursor:]...)
	return strings.Join(out, "\n")
}

// hunkSection strips everything before the first hunk header.
func hunkSection(patch string) string {
	lines := strings.Split(patch, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, "@@ -") {
			return strings.Join(lines[i:], "\n")
		}
	}
	return ""
}

// =============================================================================
// Patch hooks
// =============================================================================

// NewPatchFormatHook returns the hook that checks a patch actually
// changes something.
func NewPatchFormatHook() *hooks.Hook {
	return hooks.NewHook(
		"patch_format_validation",
		hooks.TypePatchFormat,
		"Validates that patches are properly formatted",
		hooks.PriorityPatchFormat,
		validatePatchFormat,
	)
}

// NewPatchSizeHook returns the hook that rejects patches above
// MaxPatchChanges combined additions and removals.
func NewPatchSizeHook() *hooks.Hook {
	return hooks.NewHook(
		"patch_size_validation",
		hooks.TypePatchSize,
		"Validates that patches are of reasonable size",
		hooks.PriorityPatchSize,
		validatePatchSize,
	)
}

func validatePatchFormat(artifact any) (bool, string) {
	patch, ok := patchText(artifact)
	if !ok {
		return false, fmt.Sprintf("Patch format error: expected patch text, got %T", artifact)
	}
	if patch == "" {
		return false, "Patch is empty."
	}
	for _, line := range strings.Split(patch, "\n") {
		t := strings.TrimLeft(line, " \t")
		if (strings.HasPrefix(t, "+") && !strings.HasPrefix(t, "+++")) ||
			(strings.HasPrefix(t, "-") && !strings.HasPrefix(t, "---")) {
			return true, "Patch format is valid."
		}
	}
	return false, "Patch doesn't contain any additions (+) or removals (-)."
}

func validatePatchSize(artifact any) (bool, string) {
	patch, ok := patchText(artifact)
	if !ok {
		return false, fmt.Sprintf("Patch size error: expected patch text, got %T", artifact)
	}
	if patch == "" {
		return false, "Patch is empty."
	}

	adds, dels := 0, 0
	for _, line := range strings.Split(patch, "\n") {
		t := strings.TrimLeft(line, " \t")
		switch {
		case strings.HasPrefix(t, "+") && !strings.HasPrefix(t, "+++"):
			adds++
		case strings.HasPrefix(t, "-") && !strings.HasPrefix(t, "---"):
			dels++
		}
	}
	if adds+dels > MaxPatchChanges {
		return false, fmt.Sprintf("Patch is too large: %d additions, %d removals (max %d total)", adds, dels, MaxPatchChanges)
	}
	return true, fmt.Sprintf("Patch size is reasonable: %d additions, %d removals.", adds, dels)
}

// patchText coerces hook artifacts into diff text.
func patchText(artifact any) (string, bool) {
	switch v := artifact.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case *Patch:
		if v == nil {
			return "", true
		}
		return v.Diff, true
	default:
		return "", false
	}
}
