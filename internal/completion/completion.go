// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package completion provides the injected LLM text-completion capability
// used by AI_COMPLETION nodes. When no API key is configured, the mock client
// returns deterministic responses so workflows stay testable offline.
package completion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultModel is used when a node config does not name a model.
const DefaultModel = "claude-sonnet-4-5"

// Request is one completion call.
type Request struct {
	SystemPrompt string
	Prompt       string
	Model        string
	Temperature  float64
	MaxTokens    int
}

// Result is the completion outcome surfaced to the workflow step.
type Result struct {
	Content    string
	Model      string
	TokensUsed int
}

// Client is the completion capability injected into the step executors.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Result, error)
}

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter. Satisfied by *sdk.MessageService so tests can pass a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Anthropic implements Client on top of the Anthropic Messages API.
type Anthropic struct {
	msg          MessagesClient
	defaultModel string
}

// NewAnthropic builds a completion client from an API key.
func NewAnthropic(apiKey, defaultModel string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	if defaultModel == "" {
		defaultModel = DefaultModel
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return &Anthropic{msg: &ac.Messages, defaultModel: defaultModel}, nil
}

// NewAnthropicWithMessages wires a custom Messages client; used by tests.
func NewAnthropicWithMessages(msg MessagesClient, defaultModel string) *Anthropic {
	if defaultModel == "" {
		defaultModel = DefaultModel
	}
	return &Anthropic{msg: msg, defaultModel: defaultModel}
}

// Complete issues a non-streaming Messages.New request.
func (a *Anthropic) Complete(ctx context.Context, req *Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	msg, err := a.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &Result{
		Content:    content,
		Model:      string(msg.Model),
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, nil
}

// Mock is the deterministic offline completion client. Identical requests
// produce identical results.
type Mock struct{}

// NewMock constructs the mock client.
func NewMock() *Mock { return &Mock{} }

// Complete derives a stable response from the prompt content.
func (m *Mock) Complete(_ context.Context, req *Request) (*Result, error) {
	sum := sha256.Sum256([]byte(req.SystemPrompt + "\x00" + req.Prompt))
	digest := hex.EncodeToString(sum[:8])

	model := req.Model
	if model == "" {
		model = "mock"
	}
	return &Result{
		Content:    fmt.Sprintf("mock completion %s for prompt of %d characters", digest, len(req.Prompt)),
		Model:      model,
		TokensUsed: len(req.Prompt)/4 + 16,
	}, nil
}

// New returns the Anthropic client when an API key is configured and the
// deterministic mock otherwise.
func New(apiKey, defaultModel string) (Client, error) {
	if apiKey == "" {
		return NewMock(), nil
	}
	return NewAnthropic(apiKey, defaultModel)
}
