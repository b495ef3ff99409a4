// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package cors applies a permissive CORS policy for browser clients.
package cors

import "net/http"

// Middleware answers preflight requests and sets CORS headers on every
// response. The policy is open; tighten AllowOrigin per deployment.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
