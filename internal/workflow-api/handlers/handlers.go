// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package handlers implements the HTTP handlers of the workflow API.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/loomhq/loom/internal/auth"
	"github.com/loomhq/loom/internal/httpapi"
	"github.com/loomhq/loom/internal/pushbus"
	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/workflow"
	"github.com/loomhq/loom/internal/workflow-api/services"
	"github.com/loomhq/loom/internal/workflow/engine"
)

// Handler carries the dependencies of all workflow API routes.
type Handler struct {
	services *services.Services
	tokens   *auth.TokenManager
	hub      *pushbus.Hub
	store    *storage.Store
	kv       *redis.Client
	logger   *slog.Logger
}

// New creates a new Handler.
func New(svcs *services.Services, tokens *auth.TokenManager, hub *pushbus.Hub, store *storage.Store, kv *redis.Client, logger *slog.Logger) *Handler {
	return &Handler{
		services: svcs,
		tokens:   tokens,
		hub:      hub,
		store:    store,
		kv:       kv,
		logger:   logger,
	}
}

// principal extracts the authenticated identity; the auth middleware
// guarantees it is present on guarded routes.
func principal(r *http.Request) *auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

// writeServiceError maps service-layer errors onto the error envelope.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var verr *workflow.ValidationError
	switch {
	case errors.As(err, &verr):
		logger.Warn("invalid workflow definition", "error", err)
		httpapi.WriteErrorDetails(w, http.StatusBadRequest, httpapi.CodeValidationError, "Workflow definition is invalid", verr.Fields)
	case errors.Is(err, storage.ErrNotFound):
		logger.Warn("resource not found", "error", err)
		httpapi.WriteError(w, http.StatusNotFound, httpapi.CodeNotFound, "Resource not found")
	case errors.Is(err, storage.ErrConflict):
		logger.Warn("conflicting resource", "error", err)
		httpapi.WriteError(w, http.StatusConflict, httpapi.CodeConflict, "Resource already exists")
	case errors.Is(err, engine.ErrRunNotCancellable):
		logger.Warn("run not cancellable", "error", err)
		httpapi.WriteError(w, http.StatusConflict, httpapi.CodeConflict, "Run is already terminal")
	default:
		logger.Error("request failed", "error", err)
		httpapi.WriteError(w, http.StatusInternalServerError, httpapi.CodeInternalError, "Internal server error")
	}
}
