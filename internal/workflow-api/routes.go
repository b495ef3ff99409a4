// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflowapi assembles the workflow service's HTTP surface.
package workflowapi

import (
	"log/slog"
	"net/http"

	"github.com/loomhq/loom/internal/server/middleware/authn"
	"github.com/loomhq/loom/internal/server/middleware/cors"
	"github.com/loomhq/loom/internal/server/middleware/logger"
	"github.com/loomhq/loom/internal/server/middleware/ratelimit"
	"github.com/loomhq/loom/internal/server/middleware/recovery"
	"github.com/loomhq/loom/internal/workflow-api/handlers"
	"github.com/loomhq/loom/pkg/middleware"
)

// NewRouter builds the service mux. Auth routes skip the JWT guard; the rate
// limiter sits inside the guard so tenants are bucketed by identity.
func NewRouter(h *handlers.Handler, verifier authn.Verifier, limiter *ratelimit.Limiter, baseLogger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	base := middleware.NewRouteBuilder(mux).
		With(logger.Middleware(baseLogger), recovery.Middleware(), cors.Middleware())

	public := base.With(limiter.Middleware())
	public.HandleFunc("POST /api/auth/register", h.Register)
	public.HandleFunc("POST /api/auth/login", h.Login)
	public.HandleFunc("GET /api/health", h.Health)

	guarded := base.With(authn.Middleware(verifier), limiter.Middleware())
	guarded.HandleFunc("GET /api/workflows", h.ListWorkflows)
	guarded.HandleFunc("POST /api/workflows", h.CreateWorkflow)
	guarded.HandleFunc("GET /api/workflows/{id}", h.GetWorkflow)
	guarded.HandleFunc("PUT /api/workflows/{id}", h.UpdateWorkflow)
	guarded.HandleFunc("DELETE /api/workflows/{id}", h.DeleteWorkflow)
	guarded.HandleFunc("POST /api/workflows/{id}/execute", h.ExecuteWorkflow)
	guarded.HandleFunc("GET /api/workflows/{id}/runs", h.ListWorkflowRuns)
	guarded.HandleFunc("GET /api/runs/{id}", h.GetRun)
	guarded.HandleFunc("GET /api/runs/{id}/events", h.ListRunEvents)
	guarded.HandleFunc("POST /api/runs/{id}/cancel", h.CancelRun)

	// The websocket endpoint authenticates via its token query parameter.
	base.HandleFunc("GET /ws", h.ServeWS)

	return mux
}
