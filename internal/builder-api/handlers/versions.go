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

func (h *Handler) PublishSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	version, job, err := h.services.Builds.Publish(ctx, p.TenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusAccepted, models.PublishResponse{
		Version:  models.ToVersionResponse(version),
		BuildJob: models.ToBuildJobResponse(job),
	})
}

func (h *Handler) RollbackSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	var req models.RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("failed to decode rollback request", "error", err)
		httpapi.WriteError(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request body")
		return
	}
	if fields := models.Validate(&req); fields != nil {
		httpapi.WriteErrorDetails(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request", fields)
		return
	}

	version, err := h.services.Builds.Rollback(ctx, p.TenantID, r.PathValue("id"), req.VersionID)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, models.ToVersionResponse(version))
}

func (h *Handler) ListSiteVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	page, limit := httpapi.PageParams(r)
	versions, total, err := h.services.Sites.ListVersions(ctx, p.TenantID, r.PathValue("id"), page, limit)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}

	items := make([]models.VersionResponse, 0, len(versions))
	for i := range versions {
		items = append(items, models.ToVersionResponse(&versions[i]))
	}
	httpapi.WriteList(w, items, page, limit, total)
}
