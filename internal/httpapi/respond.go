// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi holds the response envelope and pagination plumbing shared
// by the workflow and builder API planes.
package httpapi

import (
	"encoding/json"
	"net/http"
)

// Error codes carried in the error envelope.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeAuthError       = "AUTH_ERROR"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeRateLimit       = "RATE_LIMIT"
	CodeBuildError      = "BUILD_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
)

// APIError is the error payload of a failed response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// APIResponse is the standard response wrapper. Data is set on success, Error
// on failure, never both.
type APIResponse[T any] struct {
	Success bool      `json:"success"`
	Data    T         `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// Pagination is the metadata block of a list response.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

// ListResponse is the wrapper for paginated list responses.
type ListResponse[T any] struct {
	Success    bool       `json:"success"`
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// WriteSuccess writes a successful API response.
func WriteSuccess[T any](w http.ResponseWriter, statusCode int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(APIResponse[T]{Success: true, Data: data}) // Ignore encoding errors for response
}

// WriteError writes an error API response.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	WriteErrorDetails(w, statusCode, code, message, nil)
}

// WriteErrorDetails writes an error API response with a details payload,
// used for field-level validation errors.
func WriteErrorDetails(w http.ResponseWriter, statusCode int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(APIResponse[struct{}]{
		Success: false,
		Error:   &APIError{Code: code, Message: message, Details: details},
	})
}

// WriteList writes a paginated list response.
func WriteList[T any](w http.ResponseWriter, items []T, page, limit int, total int64) {
	if items == nil {
		items = []T{}
	}
	totalPages := total / int64(limit)
	if total%int64(limit) != 0 {
		totalPages++
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ListResponse[T]{
		Success: true,
		Data:    items,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}
