// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import "context"

// CreateSite inserts a new site. Returns ErrConflict when the slug or
// subdomain is taken.
func (s *Store) CreateSite(ctx context.Context, site *Site) error {
	return translate(s.db.WithContext(ctx).Create(site).Error)
}

// GetSite fetches a site under the given tenant.
func (s *Store) GetSite(ctx context.Context, tenantID, siteID string) (*Site, error) {
	var site Site
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, siteID).
		First(&site).Error
	if err != nil {
		return nil, translate(err)
	}
	return &site, nil
}

// GetSiteBySubdomain resolves a site for public serving. Subdomains are
// globally unique, so no tenant constraint applies here.
func (s *Store) GetSiteBySubdomain(ctx context.Context, subdomain string) (*Site, error) {
	var site Site
	err := s.db.WithContext(ctx).
		Where("subdomain = ?", subdomain).
		First(&site).Error
	if err != nil {
		return nil, translate(err)
	}
	return &site, nil
}

// ListSites returns a page of sites for the tenant, newest first.
func (s *Store) ListSites(ctx context.Context, tenantID string, page, limit int) ([]Site, int64, error) {
	var total int64
	base := s.db.WithContext(ctx).Model(&Site{}).Where("tenant_id = ?", tenantID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	var sites []Site
	err := base.Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&sites).Error
	if err != nil {
		return nil, 0, translate(err)
	}
	return sites, total, nil
}

// UpdateSite persists mutable site fields.
func (s *Store) UpdateSite(ctx context.Context, site *Site) error {
	return translate(s.db.WithContext(ctx).Save(site).Error)
}

// DeleteSite removes a site and cascades to its pages, versions and jobs.
func (s *Store) DeleteSite(ctx context.Context, tenantID, siteID string) error {
	return s.Transaction(ctx, func(tx *Store) error {
		result := tx.db.Where("tenant_id = ? AND id = ?", tenantID, siteID).Delete(&Site{})
		if result.Error != nil {
			return translate(result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.db.Where("site_id = ?", siteID).Delete(&Page{}).Error; err != nil {
			return translate(err)
		}
		if err := tx.db.Where("site_id = ?", siteID).Delete(&SiteVersion{}).Error; err != nil {
			return translate(err)
		}
		return translate(tx.db.Where("site_id = ?", siteID).Delete(&BuildJob{}).Error)
	})
}

// CreatePage inserts a new page. Returns ErrConflict on a duplicate path.
func (s *Store) CreatePage(ctx context.Context, page *Page) error {
	return translate(s.db.WithContext(ctx).Create(page).Error)
}

// GetPage fetches a page under the given tenant.
func (s *Store) GetPage(ctx context.Context, tenantID, siteID, pageID string) (*Page, error) {
	var page Page
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND site_id = ? AND id = ?", tenantID, siteID, pageID).
		First(&page).Error
	if err != nil {
		return nil, translate(err)
	}
	return &page, nil
}

// ListPages returns every page of a site ordered by sort order.
func (s *Store) ListPages(ctx context.Context, tenantID, siteID string) ([]Page, error) {
	var pages []Page
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND site_id = ?", tenantID, siteID).
		Order("sort_order ASC, path ASC").
		Find(&pages).Error
	if err != nil {
		return nil, translate(err)
	}
	return pages, nil
}

// ListPublishedPages returns the publishable pages of a site in sort order.
// Builds read this at execution time, not at enqueue time.
func (s *Store) ListPublishedPages(ctx context.Context, tenantID, siteID string) ([]Page, error) {
	var pages []Page
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND site_id = ? AND is_published = ?", tenantID, siteID, true).
		Order("sort_order ASC, path ASC").
		Find(&pages).Error
	if err != nil {
		return nil, translate(err)
	}
	return pages, nil
}

// UpdatePage persists mutable page fields.
func (s *Store) UpdatePage(ctx context.Context, page *Page) error {
	return translate(s.db.WithContext(ctx).Save(page).Error)
}

// DeletePage removes a page.
func (s *Store) DeletePage(ctx context.Context, tenantID, siteID, pageID string) error {
	result := s.db.WithContext(ctx).
		Where("tenant_id = ? AND site_id = ? AND id = ?", tenantID, siteID, pageID).
		Delete(&Page{})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPublishedPages counts publishable pages for publish validation.
func (s *Store) CountPublishedPages(ctx context.Context, tenantID, siteID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Page{}).
		Where("tenant_id = ? AND site_id = ? AND is_published = ?", tenantID, siteID, true).
		Count(&count).Error
	return count, translate(err)
}
