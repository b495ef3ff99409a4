// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// The workflow service hosts the workflow API, the push bus, and the step
// worker pool in one process.
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

	"github.com/loomhq/loom/internal/auth"
	"github.com/loomhq/loom/internal/completion"
	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/jobstore"
	"github.com/loomhq/loom/internal/logging"
	"github.com/loomhq/loom/internal/pushbus"
	"github.com/loomhq/loom/internal/server"
	"github.com/loomhq/loom/internal/server/middleware/ratelimit"
	"github.com/loomhq/loom/internal/storage"
	workflowapi "github.com/loomhq/loom/internal/workflow-api"
	"github.com/loomhq/loom/internal/workflow-api/handlers"
	"github.com/loomhq/loom/internal/workflow-api/services"
	"github.com/loomhq/loom/internal/workflow/engine"
	"github.com/loomhq/loom/internal/workflow/executor"
	"github.com/loomhq/loom/internal/workflow/expr"
	"github.com/loomhq/loom/internal/workflow/worker"
)

const stepQueue = "steps"

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
		logger.Error("workflow service exited with error", "error", err)
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

	evaluator, err := expr.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to build expression evaluator: %w", err)
	}
	completions, err := completion.New(cfg.CompletionAPIKey, "")
	if err != nil {
		return fmt.Errorf("failed to build completion client: %w", err)
	}
	registry := executor.NewRegistry(executor.Options{
		Completion: completions,
		Evaluator:  evaluator,
	})

	queue := jobstore.New(kv, stepQueue)
	tokens := auth.NewTokenManager(cfg.JWTSecret, 0)
	authSvc := auth.NewService(store, tokens, logger)

	// The hub is created before the engine; its run authorizer comes from the
	// service layer below.
	eng := engine.New(store, queue, registry, nil, engine.Config{
		MaxRetries:  cfg.Workers.MaxRetries,
		BaseDelay:   cfg.Workers.RetryBaseDelay,
		StepTimeout: cfg.Workers.StepTimeout,
	}, logger)
	svcs := services.New(store, eng, authSvc, logger)
	hub := pushbus.NewHub(svcs.Runs, logger)
	eng.SetBroadcaster(hub)

	pool := worker.New(eng, queue, worker.Config{
		Concurrency:   cfg.Workers.StepConcurrency,
		RatePerSecond: cfg.Workers.StepRatePerSecond,
	}, logger)
	pool.Start(ctx)

	h := handlers.New(svcs, tokens, hub, store, kv, logger)
	limiter := ratelimit.New(cfg.RateLimitPerMin)
	router := workflowapi.NewRouter(h, tokens, limiter, logger)

	srv := server.New(server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Port),
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, router, logger)

	err = srv.Run(ctx)

	hub.Shutdown()
	pool.Wait()
	return err
}
