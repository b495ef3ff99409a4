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
	"strings"

	"github.com/loomhq/loom/internal/workflow"
	"github.com/loomhq/loom/internal/workflow/expr"
)

// maxResponseBytes caps how much of an upstream response body a step stores.
const maxResponseBytes = 1 << 20

// httpRequestExecutor runs HTTP_REQUEST nodes. A non-2xx status is data for
// downstream CONDITION nodes, not an error; only transport failures error.
type httpRequestExecutor struct {
	client *http.Client
	eval   *expr.Evaluator
}

func (e *httpRequestExecutor) Execute(ctx context.Context, node workflow.Node, sctx *workflow.Context) (*Result, error) {
	cfg, err := node.DecodeConfig()
	if err != nil {
		return nil, err
	}
	c := cfg.(*workflow.HTTPRequestConfig)
	if c.URL == "" {
		return nil, errors.New("missing url")
	}

	vars := sctx.Vars()
	url := e.eval.Interpolate(c.URL, vars)

	method := strings.ToUpper(c.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(c.Body) > 0 {
		rendered := e.eval.RenderTemplate(map[string]any(c.Body), vars)
		data, err := json.Marshal(rendered)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range c.Headers {
		req.Header.Set(name, e.eval.Interpolate(value, vars))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Parsed JSON when possible, raw text fallback otherwise.
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		parsed = string(raw)
	}

	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}

	return &Result{Output: map[string]any{
		"statusCode": resp.StatusCode,
		"headers":    headers,
		"body":       parsed,
	}}, nil
}
