// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/workflow"
)

// WorkflowService implements workflow CRUD. Definitions are validated against
// the graph invariants before every write.
type WorkflowService struct {
	store  *storage.Store
	logger *slog.Logger
}

func NewWorkflowService(store *storage.Store, logger *slog.Logger) *WorkflowService {
	return &WorkflowService{store: store, logger: logger.With("service", "workflows")}
}

// Create validates and persists a new workflow at version 1.
func (s *WorkflowService) Create(ctx context.Context, tenantID, name string, definition json.RawMessage) (*storage.Workflow, error) {
	if _, err := workflow.ParseDefinition(definition); err != nil {
		return nil, err
	}

	wf := &storage.Workflow{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Name:       name,
		Version:    1,
		Definition: storage.JSON(definition),
		IsActive:   true,
	}
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	s.logger.Info("workflow created", "tenantId", tenantID, "workflowId", wf.ID)
	return wf, nil
}

// Get fetches one workflow under the tenant.
func (s *WorkflowService) Get(ctx context.Context, tenantID, workflowID string) (*storage.Workflow, error) {
	return s.store.GetWorkflow(ctx, tenantID, workflowID)
}

// List returns a page of the tenant's active workflows.
func (s *WorkflowService) List(ctx context.Context, tenantID string, page, limit int) ([]storage.Workflow, int64, error) {
	return s.store.ListWorkflows(ctx, tenantID, page, limit)
}

// Update applies name and definition changes. A definition change bumps the
// version counter.
func (s *WorkflowService) Update(ctx context.Context, tenantID, workflowID string, name *string, definition json.RawMessage) (*storage.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	if name != nil {
		wf.Name = *name
	}
	if len(definition) > 0 {
		if _, err := workflow.ParseDefinition(definition); err != nil {
			return nil, err
		}
		wf.Definition = storage.JSON(definition)
		wf.Version++
	}

	if err := s.store.UpdateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// Delete soft-deletes a workflow; existing runs keep their reference.
func (s *WorkflowService) Delete(ctx context.Context, tenantID, workflowID string) error {
	return s.store.SoftDeleteWorkflow(ctx, tenantID, workflowID)
}
