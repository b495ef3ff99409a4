// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package services holds the business logic behind the builder API handlers.
package services

import (
	"log/slog"

	"github.com/loomhq/loom/internal/builder/build"
	"github.com/loomhq/loom/internal/storage"
)

// Services bundles the service layer handed to the handlers.
type Services struct {
	Sites  *SiteService
	Pages  *PageService
	Builds *build.Engine
}

func New(store *storage.Store, builds *build.Engine, logger *slog.Logger) *Services {
	return &Services{
		Sites:  NewSiteService(store, logger),
		Pages:  NewPageService(store, logger),
		Builds: builds,
	}
}
