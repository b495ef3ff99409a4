// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package models defines the request and response types of the workflow API.
package models

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and returns a field-path -> problem map for the
// VALIDATION_ERROR details payload, or nil when the value is valid.
func Validate(v any) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"request": err.Error()}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		// Strip the struct name from the namespace: "Req.Email" -> "email".
		path := fe.Namespace()
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}
		fields[lowerFirst(path)] = "failed constraint: " + fe.Tag()
	}
	return fields
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// RegisterRequest creates a tenant and its admin user.
type RegisterRequest struct {
	TenantName string `json:"tenantName" validate:"required,min=2,max=100"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=8,max=128"`
}

// LoginRequest authenticates an existing user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// CreateWorkflowRequest creates a workflow with its initial definition.
type CreateWorkflowRequest struct {
	Name       string          `json:"name" validate:"required,min=1,max=200"`
	Definition json.RawMessage `json:"definition" validate:"required"`
}

// UpdateWorkflowRequest replaces a workflow's name and/or definition. A
// definition change bumps the version counter.
type UpdateWorkflowRequest struct {
	Name       *string         `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Definition json.RawMessage `json:"definition,omitempty"`
}

// ExecuteRequest starts a run with the given input document.
type ExecuteRequest struct {
	Input map[string]any `json:"input"`
}
