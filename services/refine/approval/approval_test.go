// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package approval

import (
	"errors"
	"os"
	"testing"

	"github.com/AleutianAI/Refinery/pkg/ux"
)

func TestAuto(t *testing.T) {
	tests := []struct {
		name string
		auto Auto
		want bool
	}{
		{"approve all", Auto(true), true},
		{"deny all", Auto(false), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.auto.RequestUserDecision("Budget Approval Request:\nOperation: test")
			if err != nil {
				t.Fatalf("RequestUserDecision() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("RequestUserDecision() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTerminal_NonInteractive(t *testing.T) {
	// Point stdin at a pipe so the prompt refuses instead of opening,
	// regardless of where the tests run.
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error = %v", err)
	}
	orig := os.Stdin
	os.Stdin = r
	t.Cleanup(func() {
		os.Stdin = orig
		r.Close()
		w.Close()
	})

	got, err := Terminal{}.RequestUserDecision("Budget Approval Request:\nOperation: test")
	if got {
		t.Error("RequestUserDecision() = true, want false without a terminal")
	}
	if !errors.Is(err, ux.ErrNotInteractive) {
		t.Errorf("RequestUserDecision() error = %v, want ux.ErrNotInteractive", err)
	}
}
