// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import "errors"

var (
	// ErrNilContext indicates a nil context was provided.
	ErrNilContext = errors.New("context must not be nil")

	// ErrStoreClosed is returned when operations are called on a closed store.
	ErrStoreClosed = errors.New("trajectory store is closed")

	// ErrNilTrajectory is returned when attempting to archive a nil trajectory.
	ErrNilTrajectory = errors.New("trajectory must not be nil")

	// ErrMissingOperationID is returned when a trajectory carries no operation id.
	ErrMissingOperationID = errors.New("operation id must not be empty")

	// ErrTrajectoryNotFound is returned when no archived trajectory exists
	// for the requested operation id.
	ErrTrajectoryNotFound = errors.New("trajectory not found")
)
