// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/loomhq/loom/internal/builder-api/models"
	"github.com/loomhq/loom/internal/httpapi"
	"github.com/loomhq/loom/internal/logging"
)

func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	pages, err := h.services.Pages.List(ctx, p.TenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}

	items := make([]models.PageResponse, 0, len(pages))
	for i := range pages {
		items = append(items, models.ToPageResponse(&pages[i]))
	}
	httpapi.WriteSuccess(w, http.StatusOK, items)
}

func (h *Handler) CreatePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	var req models.CreatePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("failed to decode create page request", "error", err)
		httpapi.WriteError(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request body")
		return
	}
	if fields := req.Validate(); fields != nil {
		httpapi.WriteErrorDetails(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request", fields)
		return
	}

	page, err := h.services.Pages.Create(ctx, p.TenantID, r.PathValue("id"),
		req.Path, req.Title, req.Content, req.SEOTitle, req.SEODescription, req.IsPublished, req.SortOrder)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusCreated, models.ToPageResponse(page))
}

func (h *Handler) UpdatePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	var req models.UpdatePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("failed to decode update page request", "error", err)
		httpapi.WriteError(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request body")
		return
	}
	if fields := models.Validate(&req); fields != nil {
		httpapi.WriteErrorDetails(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request", fields)
		return
	}

	page, err := h.services.Pages.Update(ctx, p.TenantID, r.PathValue("id"), r.PathValue("pageId"),
		req.Title, req.Content, req.SEOTitle, req.SEODescription, req.IsPublished, req.SortOrder)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, models.ToPageResponse(page))
}

func (h *Handler) DeletePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	if err := h.services.Pages.Delete(ctx, p.TenantID, r.PathValue("id"), r.PathValue("pageId")); err != nil {
		writeServiceError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
