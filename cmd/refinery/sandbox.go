// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/AleutianAI/Refinery/services/refine/issue"
)

// =============================================================================
// TEST COMMAND SANDBOX
// =============================================================================

// testCommandTimeout bounds one verification run.
const testCommandTimeout = 5 * time.Minute

// skippedDirs are project directories never copied into the staged tree.
var skippedDirs = map[string]bool{
	".git":         true,
	".venv":        true,
	"node_modules": true,
	"__pycache__":  true,
}

// testCommandSandbox verifies a staged fix by rerunning a user-supplied
// shell command inside the staged tree.
//
// The resolver stages only the fixed file, so the sandbox first overlays
// the rest of the project into the staged root. Staged files are never
// overwritten: the fix always wins over the original.
//
// Thread Safety: Safe for concurrent use. Each verification gets its own
// process and its own staged tree.
type testCommandSandbox struct {
	command     string
	projectRoot string
	logger      *slog.Logger
}

// newTestCommandSandbox builds a sandbox that reruns command via sh -c.
func newTestCommandSandbox(command, projectRoot string, logger *slog.Logger) *testCommandSandbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &testCommandSandbox{
		command:     command,
		projectRoot: projectRoot,
		logger:      logger,
	}
}

// VerifyFix reruns the test command against the staged tree.
//
// Outputs:
//
//	bool - Whether the command exited zero.
//	string - Combined stdout and stderr.
//	error - Non-nil when the harness itself broke, not when the test fails.
func (s *testCommandSandbox) VerifyFix(ctx context.Context, stagedRoot, filePath string, failure issue.TestFailure) (bool, string, error) {
	if s.projectRoot != "" {
		if err := overlayProject(s.projectRoot, stagedRoot); err != nil {
			return false, "", fmt.Errorf("staging project tree: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, testCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", s.command)
	cmd.Dir = stagedRoot

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	s.logger.Debug("Running verification command",
		"command", s.command,
		"staged_root", stagedRoot,
		"file", filePath,
		"failing_test", failure.FailingTest)

	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return false, out.String(), fmt.Errorf("test command timed out after %s", testCommandTimeout)
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			// Non-zero exit means the test still fails, not a broken harness.
			return false, out.String(), nil
		}
		return false, out.String(), fmt.Errorf("test command execution failed: %w", err)
	}
	return true, out.String(), nil
}

// overlayProject copies the project tree into the staged root, skipping
// anything the staged tree already holds.
func overlayProject(projectRoot, stagedRoot string) error {
	return filepath.WalkDir(projectRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(projectRoot, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(stagedRoot, rel), 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		dest := filepath.Join(stagedRoot, rel)
		if _, statErr := os.Lstat(dest); statErr == nil {
			// Already staged, the fixed file wins.
			return nil
		}
		return copyFile(path, dest)
	})
}

// copyFile copies src to dest preserving the file mode.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
