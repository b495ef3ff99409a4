// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker runs the build pool for the builder service.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/loomhq/loom/internal/builder/build"
	"github.com/loomhq/loom/internal/jobstore"
)

// Config sizes the pool. Builds are heavier than steps, so the default
// concurrency is deliberately small.
type Config struct {
	Concurrency int
}

// Pool dequeues build jobs and hands them to the build engine.
type Pool struct {
	engine *build.Engine
	queue  *jobstore.Queue
	cfg    Config
	logger *slog.Logger
	wg     sync.WaitGroup
}

func New(eng *build.Engine, queue *jobstore.Queue, cfg Config, logger *slog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Pool{
		engine: eng,
		queue:  queue,
		cfg:    cfg,
		logger: logger.With("component", "build-worker"),
	}
}

// Start launches the pool; Wait blocks until it drains after ctx cancels.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("starting build workers", "concurrency", p.cfg.Concurrency)
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	logger := p.logger.With("worker", id)
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("worker stopping")
				return
			}
			logger.Error("dequeue failed", "error", err)
			continue
		}

		var payload build.BuildJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			logger.Error("dropping malformed build job", "jobId", job.ID, "error", err)
			continue
		}

		// A claimed build finishes even while the pool drains.
		if err := p.engine.ExecuteBuild(context.WithoutCancel(ctx), payload.BuildJobID); err != nil {
			logger.Error("build execution failed", "buildJobId", payload.BuildJobID, "error", err)
		}
	}
}
