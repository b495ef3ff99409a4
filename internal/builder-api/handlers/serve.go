// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/loomhq/loom/internal/builder/resolve"
	"github.com/loomhq/loom/internal/logging"
	"github.com/loomhq/loom/internal/storage"
)

const (
	assetCacheControl = "public, max-age=31536000, immutable"
	pageCacheControl  = "public, max-age=60, s-maxage=300"
)

// Serve is the public, unauthenticated content endpoint. It streams artifact
// bytes for the site's active version.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	subdomain := r.PathValue("subdomain")
	path := "/" + r.PathValue("path")

	result, err := h.resolver.Resolve(ctx, subdomain, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, resolve.ErrNoContent) {
			http.NotFound(w, r)
			return
		}
		logger.Error("resolve failed", "subdomain", subdomain, "path", path, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	header := w.Header()
	if result.ContentType != "" {
		header.Set("Content-Type", result.ContentType)
	}
	if result.IsAsset {
		header.Set("Cache-Control", assetCacheControl)
	} else {
		header.Set("Cache-Control", pageCacheControl)
	}
	header.Set("X-Site-Version", strconv.Itoa(result.Version))

	if result.NotFound {
		w.WriteHeader(http.StatusNotFound)
	}
	_, _ = w.Write(result.Body)
}
