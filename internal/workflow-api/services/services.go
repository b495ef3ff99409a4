// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package services holds the business logic behind the workflow API handlers.
package services

import (
	"log/slog"

	"github.com/loomhq/loom/internal/auth"
	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/workflow/engine"
)

// Services bundles the service layer handed to the handlers.
type Services struct {
	Auth      *auth.Service
	Workflows *WorkflowService
	Runs      *RunService
}

func New(store *storage.Store, eng *engine.Engine, authSvc *auth.Service, logger *slog.Logger) *Services {
	return &Services{
		Auth:      authSvc,
		Workflows: NewWorkflowService(store, logger),
		Runs:      NewRunService(store, eng, logger),
	}
}
