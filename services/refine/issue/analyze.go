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
)

// Section is one heading's worth of analysis lines, in response order.
type Section struct {
	Key   string
	Lines []string
}

// Analysis is the outcome of the failure analysis step: headed
// sections when the model structured its answer, otherwise the raw
// response text.
type Analysis struct {
	Sections   []Section
	Text       string
	Structured bool
}

// Section returns the lines recorded under a key.
func (a Analysis) Section(key string) ([]string, bool) {
	for _, s := range a.Sections {
		if s.Key == key {
			return s.Lines, true
		}
	}
	return nil, false
}

// MarshalJSON emits a sections/structured envelope for structured
// analyses and an analysis/structured envelope otherwise.
func (a Analysis) MarshalJSON() ([]byte, error) {
	if a.Structured {
		sections := make(map[string][]string, len(a.Sections))
		for _, s := range a.Sections {
			sections[s.Key] = s.Lines
		}
		return json.Marshal(map[string]any{
			"sections":   sections,
			"structured": true,
		})
	}
	return json.Marshal(map[string]any{
		"analysis":   a.Text,
		"structured": false,
	})
}

// ExtractAnalysis splits a failure analysis response into sections.
//
// Description:
//
//	Markdown headings (## or ###) open a section, as do lines starting
//	with "root cause" or "fix approach" in any case mix. The section
//	key is the heading up to the first colon, lowercased with spaces
//	as underscores. Lines before the first heading are dropped; a
//	response with no headings at all comes back unstructured.
func ExtractAnalysis(response string) Analysis {
	var sections []Section
	current := -1

	for _, line := range strings.Split(response, "\n") {
		striped := strings.TrimSpace(line)
		if striped == "" {
			continue
		}

		if isSectionHeading(striped) {
			key := sectionKey(striped)
			// A repeated heading restarts its section in place.
			current = -1
			for i, s := range sections {
				if s.Key == key {
					sections[i].Lines = nil
					current = i
					break
				}
			}
			if current < 0 {
				sections = append(sections, Section{Key: key})
				current = len(sections) - 1
			}
			continue
		}
		if current >= 0 {
			sections[current].Lines = append(sections[current].Lines, striped)
		}
	}

	if len(sections) > 0 {
		return Analysis{Sections: sections, Structured: true}
	}
	return Analysis{Text: response}
}

func isSectionHeading(striped string) bool {
	if strings.HasPrefix(striped, "##") {
		return true
	}
	lower := strings.ToLower(striped)
	return strings.HasPrefix(lower, "root cause") || strings.HasPrefix(lower, "fix approach")
}

// sectionKey normalizes a heading into a lookup key.
func sectionKey(heading string) string {
	key := strings.TrimLeft(heading, "# ")
	if idx := strings.Index(key, ":"); idx >= 0 {
		key = key[:idx]
	}
	key = strings.ToLower(key)
	return strings.ReplaceAll(key, " ", "_")
}
