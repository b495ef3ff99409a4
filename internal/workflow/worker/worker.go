// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker runs the step execution pool for the workflow service.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/loomhq/loom/internal/jobstore"
	"github.com/loomhq/loom/internal/workflow/engine"
)

// Config sizes the pool.
type Config struct {
	// Concurrency is the number of goroutines draining the step queue.
	Concurrency int
	// RatePerSecond caps step executions across the whole pool. Zero means
	// unlimited.
	RatePerSecond int
}

// Pool dequeues step jobs and hands them to the engine. It drains gracefully:
// cancelling the run context stops dequeueing, and Wait returns once in-flight
// steps finish.
type Pool struct {
	engine  *engine.Engine
	queue   *jobstore.Queue
	limiter *rate.Limiter
	cfg     Config
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func New(eng *engine.Engine, queue *jobstore.Queue, cfg Config, logger *slog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond)
	}
	return &Pool{
		engine:  eng,
		queue:   queue,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.With("component", "step-worker"),
	}
}

// Start launches the pool. It returns immediately; use Wait to block until
// the pool has drained after ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("starting step workers",
		"concurrency", p.cfg.Concurrency, "ratePerSecond", p.cfg.RatePerSecond)
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
}

// Wait blocks until every worker goroutine has exited.
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

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
		}

		var stepJob engine.StepJob
		if err := json.Unmarshal(job.Payload, &stepJob); err != nil {
			logger.Error("dropping malformed step job", "jobId", job.ID, "error", err)
			continue
		}

		// Execution outlives shutdown of the dequeue loop: a claimed step
		// finishes even while the pool drains.
		if err := p.engine.ExecuteStep(context.WithoutCancel(ctx), &stepJob); err != nil {
			logger.Error("step execution failed",
				"runId", stepJob.RunID, "stepKey", stepJob.StepKey, "error", err)
		}
	}
}
