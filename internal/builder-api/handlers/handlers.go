// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package handlers implements the HTTP handlers of the builder API.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/loomhq/loom/internal/auth"
	"github.com/loomhq/loom/internal/builder/build"
	"github.com/loomhq/loom/internal/builder/render"
	"github.com/loomhq/loom/internal/builder/resolve"
	"github.com/loomhq/loom/internal/builder-api/services"
	"github.com/loomhq/loom/internal/httpapi"
	"github.com/loomhq/loom/internal/storage"
)

// Handler carries the dependencies of all builder API routes.
type Handler struct {
	services *services.Services
	resolver *resolve.Resolver
	store    *storage.Store
	kv       *redis.Client
	logger   *slog.Logger
}

// New creates a new Handler.
func New(svcs *services.Services, resolver *resolve.Resolver, store *storage.Store, kv *redis.Client, logger *slog.Logger) *Handler {
	return &Handler{
		services: svcs,
		resolver: resolver,
		store:    store,
		kv:       kv,
		logger:   logger,
	}
}

func principal(r *http.Request) *auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

// writeServiceError maps service-layer errors onto the error envelope.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, build.ErrNoPublishedPages),
		errors.Is(err, build.ErrVersionNotUsable),
		errors.Is(err, build.ErrVersionWrongSite),
		errors.Is(err, render.ErrInvalidContent),
		errors.Is(err, render.ErrInvalidSettings):
		logger.Warn("request validation failed", "error", err)
		httpapi.WriteError(w, http.StatusBadRequest, httpapi.CodeValidationError, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		logger.Warn("resource not found", "error", err)
		httpapi.WriteError(w, http.StatusNotFound, httpapi.CodeNotFound, "Resource not found")
	case errors.Is(err, storage.ErrConflict):
		logger.Warn("conflicting resource", "error", err)
		httpapi.WriteError(w, http.StatusConflict, httpapi.CodeConflict, "Resource already exists")
	default:
		logger.Error("request failed", "error", err)
		httpapi.WriteError(w, http.StatusInternalServerError, httpapi.CodeInternalError, "Internal server error")
	}
}
