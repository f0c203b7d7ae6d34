// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// The registry service holds the family forest and executes every
// mutation against it. Run it directly or via `lineagectl serve`.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/lineage/pkg/logging"
	"github.com/AleutianAI/lineage/pkg/retry"
	"github.com/AleutianAI/lineage/services/registry/config"
	"github.com/AleutianAI/lineage/services/registry/engine"
	"github.com/AleutianAI/lineage/services/registry/observability"
	"github.com/AleutianAI/lineage/services/registry/routes"
	"github.com/AleutianAI/lineage/services/registry/storage/sqlite"
)

func main() {
	cfg, err := config.Load(os.Getenv("LINEAGE_CONFIG"))
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, logErr := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "registry",
	})
	if logErr != nil {
		logger.Warn("file logging disabled", "error", logErr)
	}
	defer logger.Close()

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		logger.Error("opening store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	observability.InitMetrics()

	eng := engine.New(store,
		engine.NewAllocator(cfg.IDPrefix, cfg.IDWidth),
		retry.Config{Attempts: cfg.RetryAttempts, InitialDelay: cfg.RetryInitialDelay},
		logger)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	routes.SetupRoutes(router, eng, store, logger)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("registry listening", "addr", cfg.ListenAddr, "db", cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("registry exited", "error", err)
		os.Exit(1)
	}
	logger.Info("registry stopped")
}
