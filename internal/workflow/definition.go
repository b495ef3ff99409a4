// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflow defines the workflow DAG model shared by the engine, the
// API plane and the step workers.
package workflow

import (
	"encoding/json"
	"fmt"
)

// NodeType tags the execution behavior of a node.
type NodeType string

// Supported node types.
const (
	NodeTypeAICompletion NodeType = "AI_COMPLETION"
	NodeTypeHTTPRequest  NodeType = "HTTP_REQUEST"
	NodeTypeCondition    NodeType = "CONDITION"
	NodeTypeTransform    NodeType = "TRANSFORM"
	NodeTypeDelay        NodeType = "DELAY"
	NodeTypeWebhook      NodeType = "WEBHOOK"
)

// MaxDelayMs caps DELAY nodes; larger values are clamped.
const MaxDelayMs = 30_000

// Metadata describes a definition.
type Metadata struct {
	Name        string `json:"name"`
	Version     int    `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

// Edge is a declarative dependency between two nodes.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Node is a vertex of the workflow DAG. Config is kept raw and decoded into
// the type-specific struct at validation and execution time.
type Node struct {
	ID     string          `json:"id"`
	Type   NodeType        `json:"type"`
	Config json.RawMessage `json:"config"`
	Next   []string        `json:"next,omitempty"`
}

// Definition is a validated workflow DAG. Immutable within a workflow version.
type Definition struct {
	Metadata   Metadata        `json:"metadata"`
	Nodes      map[string]Node `json:"nodes"`
	Edges      []Edge          `json:"edges,omitempty"`
	Entrypoint string          `json:"entrypoint"`
}

// AICompletionConfig configures an AI_COMPLETION node.
type AICompletionConfig struct {
	SystemPrompt       string  `json:"systemPrompt,omitempty"`
	UserPromptTemplate string  `json:"userPromptTemplate"`
	Model              string  `json:"model,omitempty"`
	Temperature        float64 `json:"temperature,omitempty"`
	MaxTokens          int     `json:"maxTokens,omitempty"`
}

// HTTPRequestConfig configures an HTTP_REQUEST node. URL and body string
// leaves are templated.
type HTTPRequestConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    map[string]any    `json:"body,omitempty"`
}

// ConditionConfig configures a CONDITION node.
type ConditionConfig struct {
	Expression  string `json:"expression"`
	TrueBranch  string `json:"trueBranch,omitempty"`
	FalseBranch string `json:"falseBranch,omitempty"`
}

// TransformConfig configures a TRANSFORM node; string leaves of Template are
// interpolated against the step context.
type TransformConfig struct {
	Template map[string]any `json:"template"`
}

// DelayConfig configures a DELAY node.
type DelayConfig struct {
	DelayMs int `json:"delayMs"`
}

// WebhookConfig configures a WEBHOOK node.
type WebhookConfig struct {
	WebhookURL string `json:"webhookUrl"`
}

// DecodeConfig unmarshals the node's raw config into the struct matching its
// type and returns it as one of the *Config types above.
func (n Node) DecodeConfig() (any, error) {
	raw := n.Config
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var (
		cfg any
		err error
	)
	switch n.Type {
	case NodeTypeAICompletion:
		c := &AICompletionConfig{}
		err = json.Unmarshal(raw, c)
		cfg = c
	case NodeTypeHTTPRequest:
		c := &HTTPRequestConfig{}
		err = json.Unmarshal(raw, c)
		cfg = c
	case NodeTypeCondition:
		c := &ConditionConfig{}
		err = json.Unmarshal(raw, c)
		cfg = c
	case NodeTypeTransform:
		c := &TransformConfig{}
		err = json.Unmarshal(raw, c)
		cfg = c
	case NodeTypeDelay:
		c := &DelayConfig{}
		err = json.Unmarshal(raw, c)
		cfg = c
	case NodeTypeWebhook:
		c := &WebhookConfig{}
		err = json.Unmarshal(raw, c)
		cfg = c
	default:
		return nil, fmt.Errorf("unknown node type %q", n.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid config for node %q: %w", n.ID, err)
	}
	return cfg, nil
}

// ParseDefinition decodes and validates a definition document.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, &ValidationError{Fields: map[string]string{"definition": "not a valid definition document"}}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}
