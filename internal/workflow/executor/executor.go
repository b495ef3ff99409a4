// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor implements the type-specific node executors invoked by the
// workflow engine. Executors are pure with respect to engine state: they
// receive a read-only step context and return an output document, never
// touching the store or the queue.
package executor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/loomhq/loom/internal/completion"
	"github.com/loomhq/loom/internal/workflow"
	"github.com/loomhq/loom/internal/workflow/expr"
)

// Result is the outcome of a node execution.
type Result struct {
	// Output is the node's output document, visible to successor steps.
	Output map[string]any
	// SelectedBranch carries a CONDITION node's chosen successor. Empty for
	// other node types.
	SelectedBranch string
	// BranchSelected marks that this result came from a CONDITION node, so an
	// empty SelectedBranch means "no successor" rather than "use next".
	BranchSelected bool
	// Defer, when positive, asks the engine to re-enqueue the step after the
	// given duration instead of completing it. Used by DELAY nodes so workers
	// never sleep.
	Defer time.Duration
}

// Executor runs one node type.
type Executor interface {
	Execute(ctx context.Context, node workflow.Node, sctx *workflow.Context) (*Result, error)
}

// Registry dispatches nodes to their executors.
type Registry struct {
	executors map[workflow.NodeType]Executor
}

// Options carries the injected capabilities the executors depend on.
type Options struct {
	Completion completion.Client
	HTTPClient *http.Client
	Evaluator  *expr.Evaluator
}

// NewRegistry wires the standard executor set.
func NewRegistry(opts Options) *Registry {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Registry{
		executors: map[workflow.NodeType]Executor{
			workflow.NodeTypeAICompletion: &aiCompletionExecutor{completion: opts.Completion, eval: opts.Evaluator},
			workflow.NodeTypeHTTPRequest:  &httpRequestExecutor{client: httpClient, eval: opts.Evaluator},
			workflow.NodeTypeCondition:    &conditionExecutor{eval: opts.Evaluator},
			workflow.NodeTypeTransform:    &transformExecutor{eval: opts.Evaluator},
			workflow.NodeTypeDelay:        &delayExecutor{},
			workflow.NodeTypeWebhook:      &webhookExecutor{client: httpClient, eval: opts.Evaluator},
		},
	}
}

// Execute dispatches the node to its type's executor.
func (r *Registry) Execute(ctx context.Context, node workflow.Node, sctx *workflow.Context) (*Result, error) {
	exec, ok := r.executors[node.Type]
	if !ok {
		return nil, fmt.Errorf("no executor for node type %q", node.Type)
	}
	return exec.Execute(ctx, node, sctx)
}
