// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger archives completed operation trajectories in an embedded
// BadgerDB instance.
//
// Trajectories live in memory while an operation runs; once finalized they
// are written here so `refinery serve` and the CLI can answer questions
// about past operations after the process that ran them is gone:
//
//	Hot (tracker, RAM) → Warm (this archive, BadgerDB)
//
// The archive is append-only. Each trajectory is stored in full under its
// operation id, alongside a small summary record so listings never have to
// decode full reasoning transcripts.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("refine.storage")

// Config holds configuration for the trajectory archive.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required for persistent archives. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns a production configuration for the given path.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns a configuration optimized for testing.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// TrajectoryStore is the archive of completed trajectories.
//
// Thread Safety: Safe for concurrent use. All methods may be called from
// multiple goroutines; BadgerDB provides transaction isolation.
type TrajectoryStore struct {
	db     *badger.DB
	logger *slog.Logger
	closed atomic.Bool
}

// Open creates and opens a trajectory archive with the given configuration.
//
// Description:
//
//	Opens a BadgerDB database at the configured path, or in memory if
//	InMemory is true. Creates the directory if it doesn't exist. The
//	archive keeps a single version per key; trajectories are immutable
//	once written, so value log garbage collection is unnecessary.
//
// Inputs:
//
//	cfg - Archive configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*TrajectoryStore - The opened archive. Caller must call Close() when done.
//	error - Non-nil if path is invalid or the database cannot be opened.
func Open(cfg Config) (*TrajectoryStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent archive")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create archive directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open trajectory archive: %w", err)
	}

	return &TrajectoryStore{db: db, logger: cfg.Logger}, nil
}

// OpenWithPath opens a persistent archive with production defaults.
func OpenWithPath(path string) (*TrajectoryStore, error) {
	return Open(DefaultConfig(path))
}

// OpenInMemory opens an in-memory archive. Data is lost when closed.
func OpenInMemory() (*TrajectoryStore, error) {
	return Open(InMemoryConfig())
}

// Close closes the archive. Safe to call multiple times.
func (s *TrajectoryStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
