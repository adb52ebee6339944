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
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/Refinery/pkg/logging"
	"github.com/AleutianAI/Refinery/services/refine/approval"
	"github.com/AleutianAI/Refinery/services/refine/config"
	"github.com/AleutianAI/Refinery/services/refine/executor"
	"github.com/AleutianAI/Refinery/services/refine/ledger"
	"github.com/AleutianAI/Refinery/services/refine/server"
	"github.com/AleutianAI/Refinery/services/refine/storage/badger"
	"github.com/AleutianAI/Refinery/services/refine/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// =============================================================================
// SERVE COMMAND
// =============================================================================

// runServe is the CLI handler for the "refinery serve" command.
//
// It starts the refinement HTTP server. One session ledger spans the
// server's lifetime, so the configured budget caps everything the
// process spends across all requests. There is no terminal to prompt,
// so spending over the auto-approve threshold is always approved; the
// session budget remains the hard cap.
func runServe(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	cfg, err := config.Get(ctx)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level := logging.LevelInfo
	if verbose || serveDebug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		Service: "refine-serve",
		JSON:    true,
	})
	defer logger.Close()

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceName = "refine-serve"
	if serveTraceExporter != "" {
		tcfg.TraceExporter = serveTraceExporter
	}
	shutdownTelemetry, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer shutdownTelemetry(context.Background())

	model := cfg.ModelForTier(ledger.TierHighest).ID
	var exec executor.Executor
	exec, err = executor.NewOpenAI(model, logger.Slog())
	if err != nil {
		log.Fatalf("Failed to create executor: %v", err)
	}
	if serveRPS > 0 {
		exec = executor.NewRateLimited(exec, serveRPS, 1)
	}

	ledOpts := []ledger.Option{
		ledger.WithLogger(logger.Slog()),
		ledger.WithAutoApproveThreshold(cfg.Budget.AutoApproveThreshold),
		ledger.WithApprover(approval.Auto(true)),
	}
	if cfg.Budget.Session > 0 {
		ledOpts = append(ledOpts, ledger.WithSessionBudget(cfg.Budget.Session))
	}
	inner, err := ledger.NewCostLedger(ledOpts...)
	if err != nil {
		log.Fatalf("Failed to create cost ledger: %v", err)
	}
	led := ledger.NewSerialized(inner)

	if path := ledger.ExternalPricingPath(); path != "" {
		watcher, err := ledger.WatchPricing(ctx, path, ledger.WithReloadNotify(led.SetPricing))
		if err != nil {
			logger.Slog().Warn("Pricing hot reload unavailable",
				"path", path,
				"error", err)
		} else {
			defer watcher.Stop()
		}
	}

	var store *badger.TrajectoryStore
	if cfg.Storage.Path != "" {
		store, err = badger.OpenWithPath(cfg.Storage.Path)
	} else {
		store, err = badger.OpenInMemory()
		logger.Slog().Warn("No storage path configured; archived trajectories are lost on shutdown")
	}
	if err != nil {
		log.Fatalf("Failed to open trajectory archive: %v", err)
	}
	defer store.Close()

	srv, err := server.New(led, exec, store, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if serveDebug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware("refine-serve"))

	v1 := router.Group("/v1")
	server.RegisterRoutes(v1, srv)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	listen := serveListen
	if listen == "" {
		listen = cfg.Server.Listen
	}

	httpSrv := &http.Server{
		Addr:    listen,
		Handler: router,
	}

	go func() {
		logger.Slog().Info("Refinement server listening",
			"addr", listen,
			"model", model)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Slog().Info("Shutting down refinement server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Slog().Error("Shutdown did not finish cleanly", "error", err)
	}
}
