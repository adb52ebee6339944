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

import "errors"

var (
	// ErrNilContext indicates a nil context was passed to a method
	// requiring one.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilLedger indicates the operator was constructed without a
	// session ledger.
	ErrNilLedger = errors.New("session ledger must not be nil")

	// ErrNilExecutor indicates the operator was constructed without an
	// executor.
	ErrNilExecutor = errors.New("executor must not be nil")

	// ErrInvalidTransition indicates an operator state transition that
	// the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrStepDenied indicates a reasoning step was refused budget
	// approval and never reached the executor.
	ErrStepDenied = errors.New("reasoning step denied")

	// ErrNoResponse indicates the executor completed without returning
	// a response for a reasoning step.
	ErrNoResponse = errors.New("executor returned no response")

	// ErrMalformedArtifact indicates a model response carried no
	// parsable artifact payload.
	ErrMalformedArtifact = errors.New("malformed artifact")
)
