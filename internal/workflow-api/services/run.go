// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/workflow/engine"
)

// RunService fronts the workflow engine for run operations.
type RunService struct {
	store  *storage.Store
	engine *engine.Engine
	logger *slog.Logger
}

func NewRunService(store *storage.Store, eng *engine.Engine, logger *slog.Logger) *RunService {
	return &RunService{store: store, engine: eng, logger: logger.With("service", "runs")}
}

// Execute starts a run of the workflow.
func (s *RunService) Execute(ctx context.Context, tenantID, workflowID string, input map[string]any) (*storage.Run, error) {
	run, err := s.engine.StartRun(ctx, tenantID, workflowID, input)
	if err != nil {
		return nil, err
	}
	s.logger.Info("run started", "tenantId", tenantID, "workflowId", workflowID, "runId", run.ID)
	return run, nil
}

// Get returns a run with all its steps.
func (s *RunService) Get(ctx context.Context, tenantID, runID string) (*storage.Run, []storage.Step, error) {
	run, err := s.store.GetRun(ctx, tenantID, runID)
	if err != nil {
		return nil, nil, err
	}
	steps, err := s.store.ListSteps(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return run, steps, nil
}

// List returns a page of runs for one workflow. The workflow is fetched first
// so a foreign or missing ID surfaces as NOT_FOUND rather than an empty list.
func (s *RunService) List(ctx context.Context, tenantID, workflowID string, page, limit int) ([]storage.Run, int64, error) {
	if _, err := s.store.GetWorkflow(ctx, tenantID, workflowID); err != nil {
		return nil, 0, err
	}
	return s.store.ListRuns(ctx, tenantID, workflowID, page, limit)
}

// Events returns a page of the run's audit events after since.
func (s *RunService) Events(ctx context.Context, tenantID, runID string, since time.Time, page, limit int) ([]storage.Event, int64, error) {
	if _, err := s.store.GetRun(ctx, tenantID, runID); err != nil {
		return nil, 0, err
	}
	return s.store.ListEvents(ctx, runID, since, page, limit)
}

// Cancel cancels a pending or running run.
func (s *RunService) Cancel(ctx context.Context, tenantID, runID string) (*storage.Run, error) {
	return s.engine.CancelRun(ctx, tenantID, runID)
}

// RunBelongsToTenant reports run ownership; used by the push bus to gate
// subscriptions.
func (s *RunService) RunBelongsToTenant(ctx context.Context, tenantID, runID string) (bool, error) {
	_, err := s.store.GetRun(ctx, tenantID, runID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
