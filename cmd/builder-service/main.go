// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// The builder service hosts the builder API, the public serving surface, and
// the build worker pool in one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/loomhq/loom/internal/artifact"
	"github.com/loomhq/loom/internal/auth"
	builderapi "github.com/loomhq/loom/internal/builder-api"
	"github.com/loomhq/loom/internal/builder-api/handlers"
	"github.com/loomhq/loom/internal/builder-api/services"
	"github.com/loomhq/loom/internal/builder/build"
	"github.com/loomhq/loom/internal/builder/resolve"
	"github.com/loomhq/loom/internal/builder/worker"
	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/jobstore"
	"github.com/loomhq/loom/internal/logging"
	"github.com/loomhq/loom/internal/server"
	"github.com/loomhq/loom/internal/server/middleware/ratelimit"
	"github.com/loomhq/loom/internal/storage"
)

const buildQueue = "builds"

var configPath = flag.String("config", "", "path to optional YAML config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, AddSource: !cfg.IsProduction()})
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("builder service exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	kvOpts, err := redis.ParseURL(cfg.KVURL)
	if err != nil {
		return fmt.Errorf("invalid KV_URL: %w", err)
	}
	kv := redis.NewClient(kvOpts)
	defer kv.Close()

	artifacts, err := artifact.New(ctx, cfg.ObjectStore)
	if err != nil {
		return fmt.Errorf("failed to build artifact store: %w", err)
	}

	resolver := resolve.New(store, artifacts, kv, logger)
	go resolver.ListenInvalidations(ctx)

	queue := jobstore.New(kv, buildQueue)
	builds := build.New(store, artifacts, queue, resolver, build.Config{
		MaxRetries: cfg.Workers.MaxRetries,
		BaseDelay:  cfg.Workers.RetryBaseDelay,
	}, logger)

	pool := worker.New(builds, queue, worker.Config{
		Concurrency: cfg.Workers.BuildConcurrency,
	}, logger)
	pool.Start(ctx)

	tokens := auth.NewTokenManager(cfg.JWTSecret, 0)
	svcs := services.New(store, builds, logger)
	h := handlers.New(svcs, resolver, store, kv, logger)
	limiter := ratelimit.New(cfg.RateLimitPerMin)
	router := builderapi.NewRouter(h, tokens, limiter, logger)

	srv := server.New(server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Port),
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, router, logger)

	err = srv.Run(ctx)

	pool.Wait()
	return err
}
