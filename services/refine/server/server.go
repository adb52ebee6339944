// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes refinement operations over HTTP.
//
// One session ledger spans the whole server lifetime: every plan and
// resolve request draws from the same budget through a Serialized
// ledger, so concurrent requests cannot overspend it together.
// Finished trajectories land in the archive and are retrievable by
// operation ID.
package server

import (
	"github.com/AleutianAI/Refinery/pkg/logging"
	"github.com/AleutianAI/Refinery/services/refine/config"
	"github.com/AleutianAI/Refinery/services/refine/executor"
	"github.com/AleutianAI/Refinery/services/refine/ledger"
	"github.com/AleutianAI/Refinery/services/refine/storage/badger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Server holds the collaborators shared by all HTTP handlers.
//
// Thread Safety: Server is safe for concurrent use. The ledger is
// serialized, the store is internally synchronized, and each request
// builds its own engine instance.
type Server struct {
	led    *ledger.Serialized
	exec   executor.Executor
	store  *badger.TrajectoryStore
	cfg    *config.Config
	logger *logging.Logger
}

// New creates a server over the given collaborators.
//
// Inputs:
//
//	led - Shared session ledger. Must not be nil.
//	exec - Model backend shared by all requests. Must not be nil.
//	store - Trajectory archive. Must not be nil.
//	cfg - Engine configuration. Must not be nil.
//	logger - Structured logger; nil falls back to the default.
//
// Outputs:
//
//	*Server - The configured server.
//	error - Non-nil if a required collaborator is missing.
func New(led *ledger.Serialized, exec executor.Executor, store *badger.TrajectoryStore, cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if led == nil {
		return nil, ErrNilLedger
	}
	if exec == nil {
		return nil, ErrNilExecutor
	}
	if store == nil {
		return nil, ErrNilStore
	}
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Server{
		led:    led,
		exec:   exec,
		store:  store,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Ledger returns the server's shared session ledger.
func (s *Server) Ledger() *ledger.Serialized {
	return s.led
}

// modelFor picks the model for a request: the per-request override
// when given, otherwise the configured highest-tier model.
func (s *Server) modelFor(override string) string {
	if override != "" {
		return override
	}
	return s.cfg.ModelForTier(ledger.TierHighest).ID
}

// getOrCreateRequestID returns the request ID from the X-Request-ID
// header, generating one if absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
