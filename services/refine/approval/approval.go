// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package approval provides budget approvers for the cost ledger: a
// fixed-answer policy for unattended runs and an interactive terminal
// prompt for attended ones.
package approval

import (
	"github.com/AleutianAI/Refinery/pkg/ux"
	"github.com/AleutianAI/Refinery/services/refine/ledger"
)

// Auto answers every approval request the same way without asking.
// Auto(true) approves everything above the threshold, Auto(false)
// denies it. Batch runs and CI wire one of these.
type Auto bool

// RequestUserDecision implements ledger.Approver.
func (a Auto) RequestUserDecision(string) (bool, error) {
	return bool(a), nil
}

// Terminal asks the user on the controlling terminal. When stdin is
// not a terminal the request is denied with ux.ErrNotInteractive, so
// unattended sessions fail closed instead of hanging on a prompt the
// user cannot see.
type Terminal struct{}

// RequestUserDecision implements ledger.Approver.
func (Terminal) RequestUserDecision(message string) (bool, error) {
	return ux.Confirm("Budget approval required", message)
}

var (
	_ ledger.Approver = Auto(false)
	_ ledger.Approver = Terminal{}
)
