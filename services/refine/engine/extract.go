// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"regexp"
	"strings"
)

// fencedBlockRe matches the first fenced code block in a response. The
// optional json tag is consumed; any other language tag lands in the
// payload and fails the caller's parse, which then moves on to the
// next candidate.
var fencedBlockRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// Extraction reports how a payload candidate was located in a model
// response. Callers parse Payload themselves; a candidate that was
// located but does not parse is not an extraction failure here.
type Extraction struct {
	// Payload is the raw candidate text.
	Payload string

	// Fallback is true when the candidate came from the bare-container
	// scan rather than a fenced block.
	Fallback bool
}

// ExtractFenced returns the body of the first fenced code block in a
// response.
//
// Outputs:
//
//	Extraction - The block body, whitespace-trimmed.
//	bool - False when the response contains no fenced block.
func ExtractFenced(response string) (Extraction, bool) {
	m := fencedBlockRe.FindStringSubmatch(response)
	if m == nil {
		return Extraction{}, false
	}
	return Extraction{Payload: m[1]}, true
}

// ExtractPayloads returns payload candidates from a response in
// preference order: the first fenced block body, then the whole
// trimmed response when it is wrapped in the given container
// delimiters.
//
// Description:
//
//	Models asked for a JSON array sometimes fence it, sometimes emit
//	it bare, and sometimes fence prose around it. Returning every
//	plausible candidate lets the caller try parses in order and treat
//	an empty slice as a definitively malformed response rather than
//	silently falling back to an empty artifact.
//
// Inputs:
//
//	response - The raw model response.
//	openDelim - Opening delimiter of the bare container ("[" or "{").
//	closeDelim - Matching closing delimiter.
//
// Outputs:
//
//	[]Extraction - Candidates in preference order; empty when the
//	response carries no recognizable payload.
func ExtractPayloads(response, openDelim, closeDelim string) []Extraction {
	var candidates []Extraction

	if fenced, ok := ExtractFenced(response); ok {
		candidates = append(candidates, fenced)
	}

	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, openDelim) && strings.HasSuffix(trimmed, closeDelim) {
		candidates = append(candidates, Extraction{Payload: trimmed, Fallback: true})
	}

	return candidates
}
