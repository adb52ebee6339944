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
	"strconv"
	"strings"
)

// snippetRadius is how many lines of context surround a referenced
// line in either direction.
const snippetRadius = 3

var lineNumberRe = regexp.MustCompile(`line\s+(\d+)`)

// ExtractLineNumbers pulls "line N" references out of a traceback, in
// order of appearance.
func ExtractLineNumbers(traceback string) []int {
	var lines []int
	for _, match := range lineNumberRe.FindAllStringSubmatch(traceback, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		lines = append(lines, n)
	}
	return lines
}

// Snippet is the numbered source context around one referenced line.
type Snippet struct {
	Line int
	Text string
}

// CodeSnippets renders the context around each referenced line.
//
// Description:
//
//	Each snippet covers up to snippetRadius lines either side of the
//	referenced line, every line prefixed with its 1-based number and
//	the referenced line marked with >>>. Lines past the end of the
//	file produce an empty snippet; duplicates keep their first
//	position.
func CodeSnippets(content string, lines []int) []Snippet {
	src := strings.Split(content, "\n")
	seen := make(map[int]bool)
	var snippets []Snippet

	for _, ln := range lines {
		if seen[ln] {
			continue
		}
		seen[ln] = true

		idx := ln - 1
		start := idx - snippetRadius
		if start < 0 {
			start = 0
		}
		end := idx + snippetRadius + 1
		if end > len(src) {
			end = len(src)
		}

		var rendered []string
		for i := start; i < end; i++ {
			marker := "    "
			if i == idx {
				marker = " >>>"
			}
			rendered = append(rendered, fmt.Sprintf("%d%s %s", i+1, marker, src[i]))
		}
		snippets = append(snippets, Snippet{Line: ln, Text: strings.Join(rendered, "\n")})
	}
	return snippets
}

// FormatSnippets renders snippets as fenced blocks for the analysis
// prompt.
func FormatSnippets(snippets []Snippet) string {
	if len(snippets) == 0 {
		return "No relevant code snippets available."
	}
	blocks := make([]string, 0, len(snippets))
	for _, s := range snippets {
		blocks = append(blocks, fmt.Sprintf("### Around Line %d:\n```\n%s\n```", s.Line, s.Text))
	}
	return strings.Join(blocks, "\n\n")
}
