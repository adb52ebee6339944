// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"errors"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// ErrNotInteractive indicates stdin is not a terminal and no prompt
// can be shown.
var ErrNotInteractive = errors.New("stdin is not a terminal")

// Confirm shows an interactive yes/no prompt and returns the answer.
//
// Returns ErrNotInteractive without prompting when stdin is not a
// terminal, so non-interactive callers can fall back to a policy
// decision instead of hanging.
func Confirm(title, description string) (bool, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return false, ErrNotInteractive
	}

	var approved bool
	prompt := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Approve").
		Negative("Deny").
		Value(&approved)
	if err := prompt.Run(); err != nil {
		return false, err
	}
	return approved, nil
}
