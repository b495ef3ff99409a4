// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/builder/render"
	"github.com/loomhq/loom/internal/storage"
)

// SiteService implements site CRUD.
type SiteService struct {
	store  *storage.Store
	logger *slog.Logger
}

func NewSiteService(store *storage.Store, logger *slog.Logger) *SiteService {
	return &SiteService{store: store, logger: logger.With("service", "sites")}
}

// Create persists a new site. Settings are parsed up front so malformed
// documents fail here rather than at build time.
func (s *SiteService) Create(ctx context.Context, tenantID, name, slug, subdomain string, settings json.RawMessage) (*storage.Site, error) {
	if _, err := render.ParseSettings(settings); err != nil {
		return nil, err
	}

	site := &storage.Site{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      name,
		Slug:      strings.ToLower(slug),
		Subdomain: strings.ToLower(subdomain),
		Settings:  storage.JSON(settings),
	}
	if err := s.store.CreateSite(ctx, site); err != nil {
		return nil, err
	}
	s.logger.Info("site created", "tenantId", tenantID, "siteId", site.ID, "subdomain", site.Subdomain)
	return site, nil
}

// Get fetches one site under the tenant.
func (s *SiteService) Get(ctx context.Context, tenantID, siteID string) (*storage.Site, error) {
	return s.store.GetSite(ctx, tenantID, siteID)
}

// List returns a page of the tenant's sites.
func (s *SiteService) List(ctx context.Context, tenantID string, page, limit int) ([]storage.Site, int64, error) {
	return s.store.ListSites(ctx, tenantID, page, limit)
}

// Update applies name and settings changes. Slug and subdomain are immutable
// after creation.
func (s *SiteService) Update(ctx context.Context, tenantID, siteID string, name *string, settings json.RawMessage) (*storage.Site, error) {
	site, err := s.store.GetSite(ctx, tenantID, siteID)
	if err != nil {
		return nil, err
	}
	if name != nil {
		site.Name = *name
	}
	if len(settings) > 0 {
		if _, err := render.ParseSettings(settings); err != nil {
			return nil, err
		}
		site.Settings = storage.JSON(settings)
	}
	if err := s.store.UpdateSite(ctx, site); err != nil {
		return nil, err
	}
	return site, nil
}

// Delete removes a site with its pages, versions and jobs.
func (s *SiteService) Delete(ctx context.Context, tenantID, siteID string) error {
	return s.store.DeleteSite(ctx, tenantID, siteID)
}

// ListVersions returns a page of the site's versions, newest first.
func (s *SiteService) ListVersions(ctx context.Context, tenantID, siteID string, page, limit int) ([]storage.SiteVersion, int64, error) {
	if _, err := s.store.GetSite(ctx, tenantID, siteID); err != nil {
		return nil, 0, err
	}
	return s.store.ListSiteVersions(ctx, tenantID, siteID, page, limit)
}
