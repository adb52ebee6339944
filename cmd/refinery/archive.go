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
	"context"
	"errors"
	"log/slog"

	"github.com/AleutianAI/Refinery/services/refine/config"
	"github.com/AleutianAI/Refinery/services/refine/storage/badger"
	"github.com/AleutianAI/Refinery/services/refine/trajectory"
)

// archiveTrajectory persists an operation's trajectory to the configured
// archive. Archive failures are logged and swallowed: the operation itself
// already finished, and losing the record must not fail the command.
func archiveTrajectory(ctx context.Context, cfg *config.Config, logger *slog.Logger, traj *trajectory.Trajectory) {
	if traj == nil || cfg.Storage.Path == "" {
		return
	}

	store, err := badger.OpenWithPath(cfg.Storage.Path)
	if err != nil {
		logger.Warn("Failed to open trajectory archive",
			"path", cfg.Storage.Path,
			"error", err)
		return
	}
	defer store.Close()

	if err := store.Put(ctx, traj); err != nil {
		logger.Warn("Failed to archive trajectory",
			"operation_id", traj.OperationID,
			"error", err)
		return
	}

	logger.Debug("Trajectory archived",
		"operation_id", traj.OperationID,
		"path", cfg.Storage.Path)
}

// batchArchive persists a batch of trajectories through one store
// handle. The badger archive takes a directory lock, so concurrent
// opens from worker goroutines would conflict.
func batchArchive(ctx context.Context, cfg *config.Config, logger *slog.Logger, trajs []*trajectory.Trajectory) {
	if cfg.Storage.Path == "" {
		return
	}

	store, err := badger.OpenWithPath(cfg.Storage.Path)
	if err != nil {
		logger.Warn("Failed to open trajectory archive",
			"path", cfg.Storage.Path,
			"error", err)
		return
	}
	defer store.Close()

	for _, traj := range trajs {
		if traj == nil {
			continue
		}
		if err := store.Put(ctx, traj); err != nil {
			logger.Warn("Failed to archive trajectory",
				"operation_id", traj.OperationID,
				"error", err)
		}
	}
}

// openArchive opens the trajectory archive for the costs command. The
// --store flag overrides the configured path. A persistent path is
// required: an in-memory archive from a previous process is gone.
func openArchive(cfg *config.Config, override string) (*badger.TrajectoryStore, error) {
	path := override
	if path == "" {
		path = cfg.Storage.Path
	}
	if path == "" {
		return nil, errors.New("no archive path: set storage.path in the config file or pass --store")
	}
	return badger.OpenWithPath(path)
}
