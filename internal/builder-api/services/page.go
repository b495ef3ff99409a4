// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/builder/render"
	"github.com/loomhq/loom/internal/storage"
)

// PageService implements page CRUD within a site.
type PageService struct {
	store  *storage.Store
	logger *slog.Logger
}

func NewPageService(store *storage.Store, logger *slog.Logger) *PageService {
	return &PageService{store: store, logger: logger.With("service", "pages")}
}

// Create adds a page to a site the tenant owns. Content is validated against
// the section schema up front so malformed documents fail here rather than at
// build time.
func (s *PageService) Create(ctx context.Context, tenantID, siteID string, path, title string, content json.RawMessage, seoTitle, seoDescription *string, isPublished bool, sortOrder int) (*storage.Page, error) {
	if err := render.ValidateContent(content); err != nil {
		return nil, err
	}
	if _, err := s.store.GetSite(ctx, tenantID, siteID); err != nil {
		return nil, err
	}

	page := &storage.Page{
		ID:             uuid.NewString(),
		SiteID:         siteID,
		TenantID:       tenantID,
		Path:           path,
		Title:          title,
		Content:        storage.JSON(content),
		SEOTitle:       seoTitle,
		SEODescription: seoDescription,
		IsPublished:    isPublished,
		SortOrder:      sortOrder,
	}
	if err := s.store.CreatePage(ctx, page); err != nil {
		return nil, err
	}
	s.logger.Info("page created", "siteId", siteID, "path", path)
	return page, nil
}

// List returns all pages of a site.
func (s *PageService) List(ctx context.Context, tenantID, siteID string) ([]storage.Page, error) {
	if _, err := s.store.GetSite(ctx, tenantID, siteID); err != nil {
		return nil, err
	}
	return s.store.ListPages(ctx, tenantID, siteID)
}

// Update applies page changes; nil fields are untouched.
func (s *PageService) Update(ctx context.Context, tenantID, siteID, pageID string, title *string, content json.RawMessage, seoTitle, seoDescription *string, isPublished *bool, sortOrder *int) (*storage.Page, error) {
	if len(content) > 0 {
		if err := render.ValidateContent(content); err != nil {
			return nil, err
		}
	}
	page, err := s.store.GetPage(ctx, tenantID, siteID, pageID)
	if err != nil {
		return nil, err
	}

	if title != nil {
		page.Title = *title
	}
	if len(content) > 0 {
		page.Content = storage.JSON(content)
	}
	if seoTitle != nil {
		page.SEOTitle = seoTitle
	}
	if seoDescription != nil {
		page.SEODescription = seoDescription
	}
	if isPublished != nil {
		page.IsPublished = *isPublished
	}
	if sortOrder != nil {
		page.SortOrder = *sortOrder
	}

	if err := s.store.UpdatePage(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

// Delete removes a page.
func (s *PageService) Delete(ctx context.Context, tenantID, siteID, pageID string) error {
	return s.store.DeletePage(ctx, tenantID, siteID, pageID)
}
