// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package authn guards routes behind JWT bearer authentication.
package authn

import (
	"net/http"
	"strings"

	"github.com/loomhq/loom/internal/auth"
	"github.com/loomhq/loom/internal/httpapi"
)

// Verifier validates a bearer token and returns its principal.
type Verifier interface {
	Verify(token string) (*auth.Principal, error)
}

// Middleware rejects requests without a valid Bearer token and places the
// verified principal in the request context.
func Middleware(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				httpapi.WriteError(w, http.StatusUnauthorized, httpapi.CodeAuthError, "Missing bearer token")
				return
			}

			principal, err := verifier.Verify(token)
			if err != nil {
				httpapi.WriteError(w, http.StatusUnauthorized, httpapi.CodeAuthError, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.NewContext(r.Context(), principal)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}
