// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"testing"

	"github.com/mattn/go-isatty"
)

func TestSetPlain(t *testing.T) {
	defer func() {
		plainMu.Lock()
		plainMode = nil
		plainMu.Unlock()
	}()

	SetPlain(true)
	if !Plain() {
		t.Error("Plain() = false after SetPlain(true)")
	}

	SetPlain(false)
	if Plain() {
		t.Error("Plain() = true after SetPlain(false)")
	}
}

func TestIcon_Render(t *testing.T) {
	icons := []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow, IconBullet}
	for _, icon := range icons {
		if icon.Render() == "" {
			t.Errorf("Icon(%q).Render() returned empty string", string(icon))
		}
	}
}

func TestConfirm_NotInteractive(t *testing.T) {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		t.Skip("requires non-interactive stdin")
	}

	_, err := Confirm("Approve?", "test prompt")
	if err == nil {
		t.Fatal("Confirm() should fail without a terminal")
	}
}
