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

func (h *Handler) ListSites(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	page, limit := httpapi.PageParams(r)
	sites, total, err := h.services.Sites.List(ctx, p.TenantID, page, limit)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}

	items := make([]models.SiteResponse, 0, len(sites))
	for i := range sites {
		items = append(items, models.ToSiteResponse(&sites[i]))
	}
	httpapi.WriteList(w, items, page, limit, total)
}

func (h *Handler) CreateSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	var req models.CreateSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("failed to decode create site request", "error", err)
		httpapi.WriteError(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request body")
		return
	}
	if fields := models.Validate(&req); fields != nil {
		httpapi.WriteErrorDetails(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request", fields)
		return
	}

	site, err := h.services.Sites.Create(ctx, p.TenantID, req.Name, req.Slug, req.Subdomain, req.Settings)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusCreated, models.ToSiteResponse(site))
}

func (h *Handler) GetSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	site, err := h.services.Sites.Get(ctx, p.TenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, models.ToSiteResponse(site))
}

func (h *Handler) UpdateSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	var req models.UpdateSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("failed to decode update site request", "error", err)
		httpapi.WriteError(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request body")
		return
	}
	if fields := models.Validate(&req); fields != nil {
		httpapi.WriteErrorDetails(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request", fields)
		return
	}

	site, err := h.services.Sites.Update(ctx, p.TenantID, r.PathValue("id"), req.Name, req.Settings)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, models.ToSiteResponse(site))
}

func (h *Handler) DeleteSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	if err := h.services.Sites.Delete(ctx, p.TenantID, r.PathValue("id")); err != nil {
		writeServiceError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
