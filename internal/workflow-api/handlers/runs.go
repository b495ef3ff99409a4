// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"time"

	"github.com/loomhq/loom/internal/httpapi"
	"github.com/loomhq/loom/internal/logging"
	"github.com/loomhq/loom/internal/workflow-api/models"
)

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	run, steps, err := h.services.Runs.Get(ctx, p.TenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, models.ToRunResponse(run, steps))
}

func (h *Handler) ListRunEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	// A non-parsable since is ignored rather than rejected.
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			since = parsed
		}
	}

	page, limit := httpapi.PageParams(r)
	events, total, err := h.services.Runs.Events(ctx, p.TenantID, r.PathValue("id"), since, page, limit)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}

	items := make([]models.EventResponse, 0, len(events))
	for i := range events {
		items = append(items, models.ToEventResponse(&events[i]))
	}
	httpapi.WriteList(w, items, page, limit, total)
}

func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	run, err := h.services.Runs.Cancel(ctx, p.TenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, models.ToRunResponse(run, nil))
}
