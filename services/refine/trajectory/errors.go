// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trajectory

import "errors"

var (
	// ErrPhaseAlreadyOpen is returned when starting a phase while
	// another is still open.
	ErrPhaseAlreadyOpen = errors.New("a phase is already open")

	// ErrNoOpenPhase is returned when recording into or ending a phase
	// while none is open.
	ErrNoOpenPhase = errors.New("no open phase")

	// ErrOperationComplete is returned when starting a phase after the
	// operation was completed.
	ErrOperationComplete = errors.New("operation already complete")

	// ErrNilContext indicates a nil context was provided.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilLedger indicates construction without a session ledger.
	ErrNilLedger = errors.New("session ledger must not be nil")
)
