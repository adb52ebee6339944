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

// Artifact is a structured candidate produced and revised by a
// refinement run. Concrete operators define their own artifact types
// (a plan's step list, a patch with its applied content) and the
// engine only needs these two views of them.
type Artifact interface {
	// Empty reports whether the artifact carries no content. An empty
	// candidate never validates, regardless of hook verdicts.
	Empty() bool

	// Wire returns the canonical text form of the artifact, the form
	// embedded in fix prompts and persisted with trajectories.
	Wire() string
}
