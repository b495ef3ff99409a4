// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"encoding/json"
	"time"

	"github.com/loomhq/loom/internal/storage"
)

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token  string       `json:"token"`
	User   UserResponse `json:"user"`
	Tenant string       `json:"tenantId"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// WorkflowResponse is the public view of a workflow.
type WorkflowResponse struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Version    int             `json:"version"`
	Definition json.RawMessage `json:"definition"`
	IsActive   bool            `json:"isActive"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// RunResponse is the public view of a run; Steps is populated on single-run
// reads only.
type RunResponse struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflowId"`
	Status         string          `json:"status"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          *string         `json:"error,omitempty"`
	CurrentStepKey *string         `json:"currentStepKey,omitempty"`
	StartedAt      time.Time       `json:"startedAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	Steps          []StepResponse  `json:"steps,omitempty"`
}

// StepResponse is the public view of a step.
type StepResponse struct {
	StepKey     string          `json:"stepKey"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       *string         `json:"error,omitempty"`
	RetryCount  int             `json:"retryCount"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// EventResponse is the public view of an audit event.
type EventResponse struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	StepID    *string         `json:"stepId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// HealthResponse reports dependency reachability.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]Health `json:"components"`
}

// Health is one dependency's probe result.
type Health struct {
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// ToWorkflowResponse converts a stored workflow.
func ToWorkflowResponse(wf *storage.Workflow) WorkflowResponse {
	return WorkflowResponse{
		ID:         wf.ID,
		Name:       wf.Name,
		Version:    wf.Version,
		Definition: json.RawMessage(wf.Definition),
		IsActive:   wf.IsActive,
		CreatedAt:  wf.CreatedAt,
		UpdatedAt:  wf.UpdatedAt,
	}
}

// ToRunResponse converts a stored run, optionally with its steps.
func ToRunResponse(run *storage.Run, steps []storage.Step) RunResponse {
	resp := RunResponse{
		ID:             run.ID,
		WorkflowID:     run.WorkflowID,
		Status:         run.Status,
		Input:          json.RawMessage(run.Input),
		Output:         json.RawMessage(run.Output),
		Error:          run.Error,
		CurrentStepKey: run.CurrentStepKey,
		StartedAt:      run.StartedAt,
		CompletedAt:    run.CompletedAt,
	}
	for _, s := range steps {
		resp.Steps = append(resp.Steps, StepResponse{
			StepKey:     s.StepKey,
			Type:        s.Type,
			Status:      s.Status,
			Output:      json.RawMessage(s.Output),
			Error:       s.Error,
			RetryCount:  s.RetryCount,
			StartedAt:   s.StartedAt,
			CompletedAt: s.CompletedAt,
		})
	}
	return resp
}

// ToEventResponse converts a stored event.
func ToEventResponse(e *storage.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		Type:      e.Type,
		StepID:    e.StepID,
		Payload:   json.RawMessage(e.Payload),
		Timestamp: e.Timestamp,
	}
}
