// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/loomhq/loom/internal/workflow"
	"github.com/loomhq/loom/internal/workflow/expr"
)

// webhookExecutor runs WEBHOOK nodes: it POSTs the step context to the
// templated URL and reports whether the receiver acknowledged with a 2xx.
type webhookExecutor struct {
	client *http.Client
	eval   *expr.Evaluator
}

func (e *webhookExecutor) Execute(ctx context.Context, node workflow.Node, sctx *workflow.Context) (*Result, error) {
	cfg, err := node.DecodeConfig()
	if err != nil {
		return nil, err
	}
	c := cfg.(*workflow.WebhookConfig)
	if c.WebhookURL == "" {
		return nil, errors.New("missing webhook url")
	}

	vars := sctx.Vars()
	url := e.eval.Interpolate(c.WebhookURL, vars)

	payload, err := json.Marshal(map[string]any{
		"input": vars["input"],
		"steps": vars["steps"],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("invalid webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	return &Result{Output: map[string]any{
		"statusCode":   resp.StatusCode,
		"acknowledged": resp.StatusCode >= 200 && resp.StatusCode < 300,
	}}, nil
}
