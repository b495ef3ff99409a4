// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

// StepResult is the visible outcome of a completed predecessor step.
type StepResult struct {
	Output any    `json:"output"`
	Status string `json:"status"`
}

// Context is the read-only view a node executor receives. Steps only holds
// entries for completed predecessors; Env carries non-secret configuration.
type Context struct {
	Input map[string]any
	Steps map[string]StepResult
	Env   map[string]string
}

// Vars flattens the context into the variable bindings the expression
// evaluator exposes: input, steps and env.
func (c *Context) Vars() map[string]any {
	steps := make(map[string]any, len(c.Steps))
	for key, result := range c.Steps {
		steps[key] = map[string]any{
			"output": result.Output,
			"status": result.Status,
		}
	}

	input := c.Input
	if input == nil {
		input = map[string]any{}
	}
	env := c.Env
	if env == nil {
		env = map[string]string{}
	}

	return map[string]any{
		"input": input,
		"steps": steps,
		"env":   env,
	}
}
