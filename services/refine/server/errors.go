// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import "errors"

var (
	// ErrNilLedger indicates the server was built without a session ledger.
	ErrNilLedger = errors.New("session ledger must not be nil")

	// ErrNilExecutor indicates the server was built without an executor.
	ErrNilExecutor = errors.New("executor must not be nil")

	// ErrNilStore indicates the server was built without a trajectory store.
	ErrNilStore = errors.New("trajectory store must not be nil")

	// ErrNilConfig indicates the server was built without a config.
	ErrNilConfig = errors.New("config must not be nil")
)
