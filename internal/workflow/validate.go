// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports definition invariant failures keyed by field path.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	paths := make([]string, 0, len(e.Fields))
	for path := range e.Fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	parts := make([]string, 0, len(paths))
	for _, path := range paths {
		parts = append(parts, fmt.Sprintf("%s: %s", path, e.Fields[path]))
	}
	return "invalid workflow definition: " + strings.Join(parts, "; ")
}

// Validate checks every structural invariant of the definition: entrypoint
// and edge endpoints exist, node keys match node IDs, next and branch
// references resolve, per-type configs are well formed, and the graph is
// acyclic.
func (d *Definition) Validate() error {
	fields := make(map[string]string)

	if len(d.Nodes) == 0 {
		fields["nodes"] = "at least one node is required"
	}
	if d.Entrypoint == "" {
		fields["entrypoint"] = "entrypoint is required"
	} else if _, ok := d.Nodes[d.Entrypoint]; !ok {
		fields["entrypoint"] = fmt.Sprintf("entrypoint %q is not a node", d.Entrypoint)
	}

	for i, edge := range d.Edges {
		if _, ok := d.Nodes[edge.From]; !ok {
			fields[fmt.Sprintf("edges[%d].from", i)] = fmt.Sprintf("%q is not a node", edge.From)
		}
		if _, ok := d.Nodes[edge.To]; !ok {
			fields[fmt.Sprintf("edges[%d].to", i)] = fmt.Sprintf("%q is not a node", edge.To)
		}
	}

	for key, node := range d.Nodes {
		if node.ID != key {
			fields[fmt.Sprintf("nodes.%s.id", key)] = fmt.Sprintf("id %q does not match its key", node.ID)
		}
		for j, next := range node.Next {
			if _, ok := d.Nodes[next]; !ok {
				fields[fmt.Sprintf("nodes.%s.next[%d]", key, j)] = fmt.Sprintf("%q is not a node", next)
			}
		}
		d.validateNodeConfig(key, node, fields)
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}

	if cycle := d.findCycle(); cycle != "" {
		return &ValidationError{Fields: map[string]string{"edges": "graph contains a cycle through node " + cycle}}
	}
	return nil
}

// validateNodeConfig checks the per-type config constraints.
func (d *Definition) validateNodeConfig(key string, node Node, fields map[string]string) {
	prefix := fmt.Sprintf("nodes.%s.config", key)

	cfg, err := node.DecodeConfig()
	if err != nil {
		fields[prefix] = err.Error()
		return
	}

	switch c := cfg.(type) {
	case *AICompletionConfig:
		if c.UserPromptTemplate == "" {
			fields[prefix+".userPromptTemplate"] = "prompt template is required"
		}
	case *HTTPRequestConfig:
		if c.URL == "" {
			fields[prefix+".url"] = "url is required"
		}
	case *ConditionConfig:
		if c.Expression == "" {
			fields[prefix+".expression"] = "expression is required"
		}
		if c.TrueBranch != "" {
			if _, ok := d.Nodes[c.TrueBranch]; !ok {
				fields[prefix+".trueBranch"] = fmt.Sprintf("%q is not a node", c.TrueBranch)
			}
		}
		if c.FalseBranch != "" {
			if _, ok := d.Nodes[c.FalseBranch]; !ok {
				fields[prefix+".falseBranch"] = fmt.Sprintf("%q is not a node", c.FalseBranch)
			}
		}
	case *TransformConfig:
		if len(c.Template) == 0 {
			fields[prefix+".template"] = "template is required"
		}
	case *DelayConfig:
		if c.DelayMs < 0 {
			fields[prefix+".delayMs"] = "delay must not be negative"
		}
	case *WebhookConfig:
		if c.WebhookURL == "" {
			fields[prefix+".webhookUrl"] = "webhook url is required"
		}
	}
}

// Successors returns the traversal successors of a node: declared next keys
// plus condition branches (which may select nodes outside next).
func (d *Definition) Successors(key string) []string {
	node, ok := d.Nodes[key]
	if !ok {
		return nil
	}
	succ := append([]string{}, node.Next...)
	if node.Type == NodeTypeCondition {
		if cfg, err := node.DecodeConfig(); err == nil {
			c := cfg.(*ConditionConfig)
			if c.TrueBranch != "" {
				succ = append(succ, c.TrueBranch)
			}
			if c.FalseBranch != "" {
				succ = append(succ, c.FalseBranch)
			}
		}
	}
	return succ
}

// findCycle runs a three-color DFS over the traversal graph (edges, next
// lists, condition branches) and returns a node on a cycle, or "".
func (d *Definition) findCycle() string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(d.Nodes))

	adjacent := make(map[string][]string, len(d.Nodes))
	for key := range d.Nodes {
		adjacent[key] = d.Successors(key)
	}
	for _, edge := range d.Edges {
		adjacent[edge.From] = append(adjacent[edge.From], edge.To)
	}

	var visit func(key string) string
	visit = func(key string) string {
		color[key] = gray
		for _, next := range adjacent[key] {
			switch color[next] {
			case gray:
				return next
			case white:
				if found := visit(next); found != "" {
					return found
				}
			}
		}
		color[key] = black
		return ""
	}

	keys := make([]string, 0, len(d.Nodes))
	for key := range d.Nodes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if color[key] == white {
			if found := visit(key); found != "" {
				return found
			}
		}
	}
	return ""
}
