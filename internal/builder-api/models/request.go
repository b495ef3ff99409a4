// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package models defines the request and response types of the builder API.
package models

import (
	"encoding/json"
	"errors"
	"regexp"
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

// CreateSiteRequest creates a site. Slug is unique per tenant, subdomain
// globally.
type CreateSiteRequest struct {
	Name      string          `json:"name" validate:"required,min=1,max=200"`
	Slug      string          `json:"slug" validate:"required,hostname_rfc1123,max=63"`
	Subdomain string          `json:"subdomain" validate:"required,hostname_rfc1123,max=63"`
	Settings  json.RawMessage `json:"settings,omitempty"`
}

// UpdateSiteRequest updates mutable site fields.
type UpdateSiteRequest struct {
	Name     *string         `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// CreatePageRequest adds a page to a site.
type CreatePageRequest struct {
	Path           string          `json:"path" validate:"required,startswith=/,max=500"`
	Title          string          `json:"title" validate:"required,min=1,max=200"`
	Content        json.RawMessage `json:"content,omitempty"`
	SEOTitle       *string         `json:"seoTitle,omitempty" validate:"omitempty,max=200"`
	SEODescription *string         `json:"seoDescription,omitempty" validate:"omitempty,max=500"`
	IsPublished    bool            `json:"isPublished"`
	SortOrder      int             `json:"sortOrder"`
}

// Page paths are lowercase slugs. Dots are excluded on purpose: the serving
// layer treats dotted request paths as assets, so a page at /about.html would
// never resolve.
var pagePathPattern = regexp.MustCompile(`^/[a-z0-9\-/]*$`)

// Validate checks struct tags plus the page path charset and returns the
// VALIDATION_ERROR details map, or nil when the request is valid.
func (r *CreatePageRequest) Validate() map[string]string {
	fields := Validate(r)
	if _, seen := fields["path"]; !seen && r.Path != "" {
		switch {
		case !pagePathPattern.MatchString(r.Path):
			if fields == nil {
				fields = make(map[string]string, 1)
			}
			fields["path"] = "must match ^/[a-z0-9\\-/]*$"
		case len(r.Path) > 1 && strings.HasSuffix(r.Path, "/"):
			if fields == nil {
				fields = make(map[string]string, 1)
			}
			fields["path"] = "must not end with a trailing slash"
		}
	}
	return fields
}

// UpdatePageRequest updates mutable page fields; nil pointers are untouched.
type UpdatePageRequest struct {
	Title          *string         `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Content        json.RawMessage `json:"content,omitempty"`
	SEOTitle       *string         `json:"seoTitle,omitempty" validate:"omitempty,max=200"`
	SEODescription *string         `json:"seoDescription,omitempty" validate:"omitempty,max=500"`
	IsPublished    *bool           `json:"isPublished,omitempty"`
	SortOrder      *int            `json:"sortOrder,omitempty"`
}

// RollbackRequest re-activates a prior version.
type RollbackRequest struct {
	VersionID string `json:"versionId" validate:"required"`
}
