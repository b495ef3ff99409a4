// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"time"

	"github.com/loomhq/loom/internal/workflow"
)

// delayExecutor runs DELAY nodes. It never sleeps: the engine re-enqueues the
// step after the requested duration and completes it on redelivery.
type delayExecutor struct{}

func (e *delayExecutor) Execute(_ context.Context, node workflow.Node, _ *workflow.Context) (*Result, error) {
	cfg, err := node.DecodeConfig()
	if err != nil {
		return nil, err
	}
	c := cfg.(*workflow.DelayConfig)

	delayMs := c.DelayMs
	if delayMs < 0 {
		delayMs = 0
	}
	if delayMs > workflow.MaxDelayMs {
		delayMs = workflow.MaxDelayMs
	}

	return &Result{
		Output: map[string]any{"delayed": true, "delayMs": delayMs},
		Defer:  time.Duration(delayMs) * time.Millisecond,
	}, nil
}
