// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package recovery converts handler panics into 500 responses.
package recovery

import (
	"net/http"
	"runtime/debug"

	"github.com/loomhq/loom/internal/httpapi"
	"github.com/loomhq/loom/internal/logging"
)

// Middleware recovers from panics, logs the stack, and writes an
// INTERNAL_ERROR envelope if nothing was written yet.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logging.FromContext(r.Context()).Error("handler panicked",
						"panic", rec,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					httpapi.WriteError(w, http.StatusInternalServerError, httpapi.CodeInternalError, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
