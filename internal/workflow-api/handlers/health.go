// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"time"

	"github.com/loomhq/loom/internal/httpapi"
	"github.com/loomhq/loom/internal/workflow-api/models"
)

// Health probes the database and the KV store. 200 when both answer, 503
// otherwise.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	components := make(map[string]models.Health, 2)
	healthy := true

	latency, err := h.store.Ping(ctx)
	db := models.Health{Healthy: err == nil, LatencyMs: latency.Milliseconds()}
	if err != nil {
		db.Error = err.Error()
		healthy = false
	}
	components["database"] = db

	start := time.Now()
	kvErr := h.kv.Ping(ctx).Err()
	kv := models.Health{Healthy: kvErr == nil, LatencyMs: time.Since(start).Milliseconds()}
	if kvErr != nil {
		kv.Error = kvErr.Error()
		healthy = false
	}
	components["kv"] = kv

	resp := models.HealthResponse{Status: "healthy", Components: components}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	httpapi.WriteSuccess(w, status, resp)
}
