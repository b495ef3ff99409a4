// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"errors"

	"github.com/loomhq/loom/internal/workflow"
	"github.com/loomhq/loom/internal/workflow/expr"
)

// transformExecutor runs TRANSFORM nodes: every string leaf of the template
// is interpolated against the step context.
type transformExecutor struct {
	eval *expr.Evaluator
}

func (e *transformExecutor) Execute(_ context.Context, node workflow.Node, sctx *workflow.Context) (*Result, error) {
	cfg, err := node.DecodeConfig()
	if err != nil {
		return nil, err
	}
	c := cfg.(*workflow.TransformConfig)
	if len(c.Template) == 0 {
		return nil, errors.New("missing template")
	}

	rendered := e.eval.RenderTemplate(map[string]any(c.Template), sctx.Vars())
	output, ok := rendered.(map[string]any)
	if !ok {
		// RenderTemplate preserves the map shape; this is unreachable but
		// keeps the type assertion honest.
		return nil, errors.New("template did not render to an object")
	}
	return &Result{Output: output}, nil
}
