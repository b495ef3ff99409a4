// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/loomhq/loom/internal/httpapi"
	"github.com/loomhq/loom/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients carry no Origin guarantee we can anchor on; the token
	// query parameter is the actual gate.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades the connection and attaches it to the push bus. The token
// travels as a query parameter because browsers cannot set headers on
// websocket dials.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	token := r.URL.Query().Get("token")
	if token == "" {
		httpapi.WriteError(w, http.StatusUnauthorized, httpapi.CodeAuthError, "Missing token")
		return
	}
	p, err := h.tokens.Verify(token)
	if err != nil {
		httpapi.WriteError(w, http.StatusUnauthorized, httpapi.CodeAuthError, "Invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.hub.Serve(ctx, conn, p.TenantID)
}
