// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package builderapi assembles the builder service's HTTP surface.
package builderapi

import (
	"log/slog"
	"net/http"

	"github.com/loomhq/loom/internal/builder-api/handlers"
	"github.com/loomhq/loom/internal/server/middleware/authn"
	"github.com/loomhq/loom/internal/server/middleware/cors"
	"github.com/loomhq/loom/internal/server/middleware/logger"
	"github.com/loomhq/loom/internal/server/middleware/ratelimit"
	"github.com/loomhq/loom/internal/server/middleware/recovery"
	"github.com/loomhq/loom/pkg/middleware"
)

// NewRouter builds the service mux. The /serve tree is public and skips the
// JWT guard and rate limiter; everything under /api except health is guarded.
func NewRouter(h *handlers.Handler, verifier authn.Verifier, limiter *ratelimit.Limiter, baseLogger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	base := middleware.NewRouteBuilder(mux).
		With(logger.Middleware(baseLogger), recovery.Middleware(), cors.Middleware())

	public := base.With(limiter.Middleware())
	public.HandleFunc("GET /api/health", h.Health)

	guarded := base.With(authn.Middleware(verifier), limiter.Middleware())
	guarded.HandleFunc("GET /api/sites", h.ListSites)
	guarded.HandleFunc("POST /api/sites", h.CreateSite)
	guarded.HandleFunc("GET /api/sites/{id}", h.GetSite)
	guarded.HandleFunc("PUT /api/sites/{id}", h.UpdateSite)
	guarded.HandleFunc("DELETE /api/sites/{id}", h.DeleteSite)
	guarded.HandleFunc("POST /api/sites/{id}/publish", h.PublishSite)
	guarded.HandleFunc("POST /api/sites/{id}/rollback", h.RollbackSite)
	guarded.HandleFunc("GET /api/sites/{id}/versions", h.ListSiteVersions)
	guarded.HandleFunc("GET /api/sites/{id}/pages", h.ListPages)
	guarded.HandleFunc("POST /api/sites/{id}/pages", h.CreatePage)
	guarded.HandleFunc("PUT /api/sites/{id}/pages/{pageId}", h.UpdatePage)
	guarded.HandleFunc("DELETE /api/sites/{id}/pages/{pageId}", h.DeletePage)

	base.HandleFunc("GET /serve/{subdomain}", h.Serve)
	base.HandleFunc("GET /serve/{subdomain}/{path...}", h.Serve)

	return mux
}
