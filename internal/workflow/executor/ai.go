// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/loomhq/loom/internal/completion"
	"github.com/loomhq/loom/internal/workflow"
	"github.com/loomhq/loom/internal/workflow/expr"
)

// aiCompletionExecutor runs AI_COMPLETION nodes through the injected
// completion capability.
type aiCompletionExecutor struct {
	completion completion.Client
	eval       *expr.Evaluator
}

func (e *aiCompletionExecutor) Execute(ctx context.Context, node workflow.Node, sctx *workflow.Context) (*Result, error) {
	cfg, err := node.DecodeConfig()
	if err != nil {
		return nil, err
	}
	c := cfg.(*workflow.AICompletionConfig)
	if c.UserPromptTemplate == "" {
		return nil, errors.New("missing user prompt template")
	}
	if e.completion == nil {
		return nil, errors.New("completion capability is not configured")
	}

	vars := sctx.Vars()
	result, err := e.completion.Complete(ctx, &completion.Request{
		SystemPrompt: e.eval.Interpolate(c.SystemPrompt, vars),
		Prompt:       e.eval.Interpolate(c.UserPromptTemplate, vars),
		Model:        c.Model,
		Temperature:  c.Temperature,
		MaxTokens:    c.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	return &Result{Output: map[string]any{
		"content":    result.Content,
		"model":      result.Model,
		"tokensUsed": result.TokensUsed,
	}}, nil
}
