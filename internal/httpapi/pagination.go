// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// PageParams clamps ?page and ?limit to their valid ranges: page >= 1,
// limit in [1, maxPageLimit]. Unparseable values fall back to defaults.
func PageParams(r *http.Request) (page, limit int) {
	page = 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 1 {
			page = v
		}
	}

	limit = defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	if limit < 1 {
		limit = 1
	} else if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}
