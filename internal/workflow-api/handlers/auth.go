// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/loomhq/loom/internal/auth"
	"github.com/loomhq/loom/internal/httpapi"
	"github.com/loomhq/loom/internal/logging"
	"github.com/loomhq/loom/internal/workflow-api/models"
)

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("failed to decode register request", "error", err)
		httpapi.WriteError(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request body")
		return
	}
	if fields := models.Validate(&req); fields != nil {
		httpapi.WriteErrorDetails(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request", fields)
		return
	}

	account, err := h.services.Auth.Register(ctx, req.TenantName, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			logger.Warn("email already registered")
			httpapi.WriteError(w, http.StatusConflict, httpapi.CodeConflict, "Email already registered")
			return
		}
		logger.Error("registration failed", "error", err)
		httpapi.WriteError(w, http.StatusInternalServerError, httpapi.CodeInternalError, "Internal server error")
		return
	}

	httpapi.WriteSuccess(w, http.StatusCreated, models.AuthResponse{
		Token:  account.Token,
		Tenant: account.TenantID,
		User:   models.UserResponse{ID: account.UserID, Email: account.Email, Role: account.Role},
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("failed to decode login request", "error", err)
		httpapi.WriteError(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request body")
		return
	}
	if fields := models.Validate(&req); fields != nil {
		httpapi.WriteErrorDetails(w, http.StatusBadRequest, httpapi.CodeValidationError, "Invalid request", fields)
		return
	}

	account, err := h.services.Auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			logger.Warn("login rejected")
			httpapi.WriteError(w, http.StatusUnauthorized, httpapi.CodeAuthError, "Invalid email or password")
			return
		}
		logger.Error("login failed", "error", err)
		httpapi.WriteError(w, http.StatusInternalServerError, httpapi.CodeInternalError, "Internal server error")
		return
	}

	httpapi.WriteSuccess(w, http.StatusOK, models.AuthResponse{
		Token:  account.Token,
		Tenant: account.TenantID,
		User:   models.UserResponse{ID: account.UserID, Email: account.Email, Role: account.Role},
	})
}
