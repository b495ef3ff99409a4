// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"errors"

	"github.com/loomhq/loom/internal/logging"
	"github.com/loomhq/loom/internal/workflow"
	"github.com/loomhq/loom/internal/workflow/expr"
)

// conditionExecutor runs CONDITION nodes. A failed evaluation yields false
// (logged), not an error.
type conditionExecutor struct {
	eval *expr.Evaluator
}

func (e *conditionExecutor) Execute(ctx context.Context, node workflow.Node, sctx *workflow.Context) (*Result, error) {
	cfg, err := node.DecodeConfig()
	if err != nil {
		return nil, err
	}
	c := cfg.(*workflow.ConditionConfig)
	if c.Expression == "" {
		return nil, errors.New("missing expression")
	}

	result, err := e.eval.EvaluateBool(c.Expression, sctx.Vars())
	if err != nil {
		logging.FromContext(ctx).Warn("condition evaluation failed, treating as false",
			"node", node.ID, "error", err)
		result = false
	}

	branch := c.FalseBranch
	if result {
		branch = c.TrueBranch
	}

	output := map[string]any{"conditionResult": result}
	if branch != "" {
		output["selectedBranch"] = branch
	}
	return &Result{
		Output:         output,
		SelectedBranch: branch,
		BranchSelected: true,
	}, nil
}
