// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/loomhq/loom/internal/httpapi"
	"github.com/loomhq/loom/internal/logging"
	"github.com/loomhq/loom/internal/workflow-api/models"
)

func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	page, limit := httpapi.PageParams(r)
	workflows, total, err := h.services.Workflows.List(ctx, p.TenantID, page, limit)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}

	items := make([]models.WorkflowResponse, 0, len(workflows))
	for i := range workflows {
		items = append(items, models.ToWorkflowResponse(&workflows[i]))
	}
	httpapi.WriteList(w, items, page, limit, total)
}

func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	var req models.CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("failed to decode create workflow request", "error", err)
		httpapi.WriteError(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request body")
		return
	}
	if fields := models.Validate(&req); fields != nil {
		httpapi.WriteErrorDetails(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request", fields)
		return
	}

	wf, err := h.services.Workflows.Create(ctx, p.TenantID, req.Name, req.Definition)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusCreated, models.ToWorkflowResponse(wf))
}

func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	wf, err := h.services.Workflows.Get(ctx, p.TenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, models.ToWorkflowResponse(wf))
}

func (h *Handler) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	var req models.UpdateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("failed to decode update workflow request", "error", err)
		httpapi.WriteError(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request body")
		return
	}
	if fields := models.Validate(&req); fields != nil {
		httpapi.WriteErrorDetails(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request", fields)
		return
	}

	wf, err := h.services.Workflows.Update(ctx, p.TenantID, r.PathValue("id"), req.Name, req.Definition)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, models.ToWorkflowResponse(wf))
}

func (h *Handler) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	if err := h.services.Workflows.Delete(ctx, p.TenantID, r.PathValue("id")); err != nil {
		writeServiceError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	var req models.ExecuteRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Warn("failed to decode execute request", "error", err)
			httpapi.WriteError(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request body")
			return
		}
	}

	run, err := h.services.Runs.Execute(ctx, p.TenantID, r.PathValue("id"), req.Input)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusAccepted, models.ToRunResponse(run, nil))
}

func (h *Handler) ListWorkflowRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	p := principal(r)

	page, limit := httpapi.PageParams(r)
	runs, total, err := h.services.Runs.List(ctx, p.TenantID, r.PathValue("id"), page, limit)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}

	items := make([]models.RunResponse, 0, len(runs))
	for i := range runs {
		items = append(items, models.ToRunResponse(&runs[i], nil))
	}
	httpapi.WriteList(w, items, page, limit, total)
}
