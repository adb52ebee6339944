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

import "testing"

func TestExtractFenced(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
		wantOK   bool
	}{
		{
			name:     "json tagged fence",
			response: "Here is the plan:\n```json\n[{\"file\": \"a.go\"}]\n```\nDone.",
			want:     "[{\"file\": \"a.go\"}]",
			wantOK:   true,
		},
		{
			name:     "untagged fence",
			response: "```\n{\"analysis\": \"ok\"}\n```",
			want:     "{\"analysis\": \"ok\"}",
			wantOK:   true,
		},
		{
			name:     "first of several fences wins",
			response: "```json\n[1]\n```\nand also\n```json\n[2]\n```",
			want:     "[1]",
			wantOK:   true,
		},
		{
			name:     "no fence",
			response: "plain prose without any code block",
			wantOK:   false,
		},
		{
			name: "other language tag lands in the payload",
			// Callers parse the payload; a python tag fails their parse
			// and they move to the next candidate.
			response: "```python\nx = 1\n```",
			want:     "python\nx = 1",
			wantOK:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractFenced(tc.response)
			if ok != tc.wantOK {
				t.Fatalf("ExtractFenced() ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && got.Payload != tc.want {
				t.Errorf("ExtractFenced() payload = %q, want %q", got.Payload, tc.want)
			}
			if ok && got.Fallback {
				t.Errorf("ExtractFenced() marked fallback on a fenced match")
			}
		})
	}
}

func TestExtractPayloads(t *testing.T) {
	t.Run("fenced block only", func(t *testing.T) {
		got := ExtractPayloads("intro\n```json\n[1, 2]\n```\noutro", "[", "]")
		if len(got) != 1 {
			t.Fatalf("ExtractPayloads() = %d candidates, want 1", len(got))
		}
		if got[0].Payload != "[1, 2]" || got[0].Fallback {
			t.Errorf("candidate = %+v, want fenced [1, 2]", got[0])
		}
	})

	t.Run("bare container only", func(t *testing.T) {
		got := ExtractPayloads("  [\n {\"file\": \"a.go\"}\n]  ", "[", "]")
		if len(got) != 1 {
			t.Fatalf("ExtractPayloads() = %d candidates, want 1", len(got))
		}
		if !got[0].Fallback {
			t.Errorf("candidate = %+v, want the fallback form", got[0])
		}
		if got[0].Payload != "[\n {\"file\": \"a.go\"}\n]" {
			t.Errorf("payload = %q, want the trimmed response", got[0].Payload)
		}
	})

	t.Run("both forms in preference order", func(t *testing.T) {
		got := ExtractPayloads("[see below]\n```json\n[1]\n```\n[end]", "[", "]")
		if len(got) != 2 {
			t.Fatalf("ExtractPayloads() = %d candidates, want 2", len(got))
		}
		if got[0].Fallback || got[0].Payload != "[1]" {
			t.Errorf("first candidate = %+v, want the fenced block", got[0])
		}
		if !got[1].Fallback {
			t.Errorf("second candidate = %+v, want the fallback form", got[1])
		}
	})

	t.Run("nothing recognizable", func(t *testing.T) {
		if got := ExtractPayloads("no structure here", "[", "]"); len(got) != 0 {
			t.Errorf("ExtractPayloads() = %v, want none", got)
		}
	})
}
