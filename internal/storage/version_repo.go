// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"time"
)

// NextSiteVersion computes max(existing versions)+1 for a site, starting at 1.
func (s *Store) NextSiteVersion(ctx context.Context, siteID string) (int, error) {
	var max int
	err := s.db.WithContext(ctx).Model(&SiteVersion{}).
		Where("site_id = ?", siteID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, translate(err)
	}
	return max + 1, nil
}

// CreateVersionWithJob inserts a BUILDING version and its QUEUED build job in
// one transaction, per the publish protocol.
func (s *Store) CreateVersionWithJob(ctx context.Context, version *SiteVersion, job *BuildJob) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if err := tx.db.Create(version).Error; err != nil {
			return translate(err)
		}
		return translate(tx.db.Create(job).Error)
	})
}

// GetSiteVersion fetches a version under the given tenant.
func (s *Store) GetSiteVersion(ctx context.Context, tenantID, versionID string) (*SiteVersion, error) {
	var version SiteVersion
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, versionID).
		First(&version).Error
	if err != nil {
		return nil, translate(err)
	}
	return &version, nil
}

// ListSiteVersions returns a page of versions for a site, newest first.
func (s *Store) ListSiteVersions(ctx context.Context, tenantID, siteID string, page, limit int) ([]SiteVersion, int64, error) {
	var total int64
	base := s.db.WithContext(ctx).Model(&SiteVersion{}).
		Where("tenant_id = ? AND site_id = ?", tenantID, siteID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	var versions []SiteVersion
	err := base.Order("version DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&versions).Error
	if err != nil {
		return nil, 0, translate(err)
	}
	return versions, total, nil
}

// GetBuildJob fetches a build job by ID.
func (s *Store) GetBuildJob(ctx context.Context, jobID string) (*BuildJob, error) {
	var job BuildJob
	err := s.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error
	if err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

// ClaimBuildJob transitions a job to PROCESSING for the given worker. The
// status predicate keeps a second delivery of the same job from re-claiming
// one already in flight.
func (s *Store) ClaimBuildJob(ctx context.Context, jobID, workerID string) (*BuildJob, error) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&BuildJob{}).
		Where("id = ? AND status = ?", jobID, BuildJobStatusQueued).
		Updates(map[string]any{
			"status":     BuildJobStatusProcessing,
			"worker_id":  workerID,
			"started_at": now,
		})
	if result.Error != nil {
		return nil, translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetBuildJob(ctx, jobID)
}

// RequeueBuildJob moves a failed attempt back to QUEUED with a bumped retry
// counter so a later delivery can claim it again.
func (s *Store) RequeueBuildJob(ctx context.Context, jobID string, retryCount int, errMsg string) error {
	return translate(s.db.WithContext(ctx).Model(&BuildJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":      BuildJobStatusQueued,
			"retry_count": retryCount,
			"error":       errMsg,
		}).Error)
}

// ActivateVersion finalizes a successful build in one transaction: the built
// version becomes READY with its totals, the previously active version (if
// any, and distinct) becomes SUPERSEDED, the site pointer flips, and the
// build job completes. The pointer flip is the only observable activation.
func (s *Store) ActivateVersion(ctx context.Context, siteID, versionID, jobID string, totals VersionTotals) error {
	return s.Transaction(ctx, func(tx *Store) error {
		var site Site
		if err := tx.db.Where("id = ?", siteID).First(&site).Error; err != nil {
			return translate(err)
		}

		now := time.Now().UTC()
		if err := tx.db.Model(&SiteVersion{}).
			Where("id = ?", versionID).
			Updates(map[string]any{
				"status":            VersionStatusReady,
				"page_count":        totals.PageCount,
				"asset_size":        totals.AssetSize,
				"manifest_hash":     totals.ManifestHash,
				"build_duration_ms": totals.BuildDurationMs,
				"published_at":      now,
			}).Error; err != nil {
			return translate(err)
		}

		if site.ActiveVersionID != nil && *site.ActiveVersionID != versionID {
			if err := tx.db.Model(&SiteVersion{}).
				Where("id = ? AND status = ?", *site.ActiveVersionID, VersionStatusReady).
				Update("status", VersionStatusSuperseded).Error; err != nil {
				return translate(err)
			}
		}

		if err := tx.db.Model(&Site{}).
			Where("id = ?", siteID).
			Update("active_version_id", versionID).Error; err != nil {
			return translate(err)
		}

		return translate(tx.db.Model(&BuildJob{}).
			Where("id = ?", jobID).
			Updates(map[string]any{
				"status":       BuildJobStatusCompleted,
				"completed_at": now,
			}).Error)
	})
}

// FailVersion marks a build as failed without touching the active pointer, so
// the site keeps serving the previous version.
func (s *Store) FailVersion(ctx context.Context, versionID, jobID, errMsg string) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if err := tx.db.Model(&SiteVersion{}).
			Where("id = ?", versionID).
			Update("status", VersionStatusFailed).Error; err != nil {
			return translate(err)
		}
		now := time.Now().UTC()
		return translate(tx.db.Model(&BuildJob{}).
			Where("id = ?", jobID).
			Updates(map[string]any{
				"status":       BuildJobStatusFailed,
				"error":        errMsg,
				"completed_at": now,
			}).Error)
	})
}

// RollbackToVersion re-activates a prior version in one transaction: the
// target is promoted to READY, the current active version (if distinct)
// becomes SUPERSEDED, and the pointer flips.
func (s *Store) RollbackToVersion(ctx context.Context, siteID, targetVersionID string) error {
	return s.Transaction(ctx, func(tx *Store) error {
		var site Site
		if err := tx.db.Where("id = ?", siteID).First(&site).Error; err != nil {
			return translate(err)
		}

		if err := tx.db.Model(&SiteVersion{}).
			Where("id = ?", targetVersionID).
			Update("status", VersionStatusReady).Error; err != nil {
			return translate(err)
		}

		if site.ActiveVersionID != nil && *site.ActiveVersionID != targetVersionID {
			if err := tx.db.Model(&SiteVersion{}).
				Where("id = ?", *site.ActiveVersionID).
				Update("status", VersionStatusSuperseded).Error; err != nil {
				return translate(err)
			}
		}

		return translate(tx.db.Model(&Site{}).
			Where("id = ?", siteID).
			Update("active_version_id", targetVersionID).Error)
	})
}

// VersionTotals carries the computed totals of a finished build.
type VersionTotals struct {
	PageCount       int
	AssetSize       int64
	ManifestHash    string
	BuildDurationMs int64
}
