// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package build implements the version build pipeline: snapshot the published
// pages of a site into an immutable artifact prefix and atomically flip the
// site's active pointer on success.
package build

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/artifact"
	"github.com/loomhq/loom/internal/builder/render"
	"github.com/loomhq/loom/internal/jobstore"
	"github.com/loomhq/loom/internal/storage"
)

const htmlContentType = "text/html; charset=utf-8"

// Publish-time validation errors, surfaced as VALIDATION_ERROR.
var (
	ErrNoPublishedPages = errors.New("site has no published pages")
	ErrVersionNotUsable = errors.New("target version is not READY or SUPERSEDED")
	ErrVersionWrongSite = errors.New("target version does not belong to this site")
)

// Invalidator drops cached subdomain resolutions after an activation.
type Invalidator interface {
	Invalidate(ctx context.Context, subdomain string)
}

// BuildJobPayload is the queue payload for one build delivery.
type BuildJobPayload struct {
	BuildJobID string `json:"buildJobId"`
}

// Config tunes build retries.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Engine owns the publish, build and rollback protocols.
type Engine struct {
	store       *storage.Store
	artifacts   *artifact.Store
	queue       *jobstore.Queue
	invalidator Invalidator
	workerID    string
	cfg         Config
	logger      *slog.Logger
}

func New(store *storage.Store, artifacts *artifact.Store, queue *jobstore.Queue, invalidator Invalidator, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Second
	}
	return &Engine{
		store:       store,
		artifacts:   artifacts,
		queue:       queue,
		invalidator: invalidator,
		workerID:    uuid.NewString(),
		cfg:         cfg,
		logger:      logger.With("component", "build-engine"),
	}
}

// Publish creates the next BUILDING version with its QUEUED job and enqueues
// the build. The build itself runs on a worker.
func (e *Engine) Publish(ctx context.Context, tenantID, siteID string) (*storage.SiteVersion, *storage.BuildJob, error) {
	site, err := e.store.GetSite(ctx, tenantID, siteID)
	if err != nil {
		return nil, nil, err
	}

	published, err := e.store.CountPublishedPages(ctx, tenantID, siteID)
	if err != nil {
		return nil, nil, err
	}
	if published == 0 {
		return nil, nil, ErrNoPublishedPages
	}

	// Concurrent publishes can race to the same MAX(version)+1. The loser hits
	// the unique (site_id, version) index; re-read and retry instead of
	// surfacing a conflict the caller did nothing to cause.
	var (
		version *storage.SiteVersion
		job     *storage.BuildJob
	)
	for attempt := 0; ; attempt++ {
		number, err := e.store.NextSiteVersion(ctx, siteID)
		if err != nil {
			return nil, nil, err
		}

		version = &storage.SiteVersion{
			ID:             uuid.NewString(),
			SiteID:         site.ID,
			TenantID:       tenantID,
			Version:        number,
			ArtifactPrefix: fmt.Sprintf("sites/%s/%s/%d", tenantID, site.ID, number),
			Status:         storage.VersionStatusBuilding,
		}
		job = &storage.BuildJob{
			ID:            uuid.NewString(),
			SiteVersionID: version.ID,
			SiteID:        site.ID,
			TenantID:      tenantID,
			Status:        storage.BuildJobStatusQueued,
		}
		err = e.store.CreateVersionWithJob(ctx, version, job)
		if err == nil {
			break
		}
		if errors.Is(err, storage.ErrConflict) && attempt < 2 {
			continue
		}
		return nil, nil, err
	}

	if err := e.enqueue(ctx, job.ID, 0); err != nil {
		return nil, nil, err
	}
	e.logger.Info("publish enqueued", "siteId", site.ID, "version", version.Version, "jobId", job.ID)
	return version, job, nil
}

// ExecuteBuild runs one delivered build job to completion or retry.
func (e *Engine) ExecuteBuild(ctx context.Context, jobID string) error {
	job, err := e.store.ClaimBuildJob(ctx, jobID, e.workerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Already claimed, completed, or gone; the delivery is stale.
			return nil
		}
		return err
	}

	version, err := e.store.GetSiteVersion(ctx, job.TenantID, job.SiteVersionID)
	if err != nil {
		return e.fail(ctx, job, err)
	}
	site, err := e.store.GetSite(ctx, job.TenantID, job.SiteID)
	if err != nil {
		return e.fail(ctx, job, err)
	}

	start := time.Now()
	totals, buildErr := e.build(ctx, site, version)
	if buildErr != nil {
		return e.fail(ctx, job, buildErr)
	}
	totals.BuildDurationMs = time.Since(start).Milliseconds()

	if err := e.store.ActivateVersion(ctx, site.ID, version.ID, job.ID, *totals); err != nil {
		return e.fail(ctx, job, err)
	}
	if e.invalidator != nil {
		e.invalidator.Invalidate(ctx, site.Subdomain)
	}

	e.logger.Info("build completed",
		"siteId", site.ID, "version", version.Version,
		"pages", totals.PageCount, "durationMs", totals.BuildDurationMs)
	return nil
}

// build renders and uploads every published page, the 404 page, and the
// manifest. Pages are read at execution time; a retry builds current content.
func (e *Engine) build(ctx context.Context, site *storage.Site, version *storage.SiteVersion) (*storage.VersionTotals, error) {
	settings, err := render.ParseSettings(site.Settings)
	if err != nil {
		return nil, err
	}
	rsite := render.Site{Name: site.Name, Settings: settings}

	pages, err := e.store.ListPublishedPages(ctx, site.TenantID, site.ID)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, ErrNoPublishedPages
	}

	prefix := version.ArtifactPrefix
	manifestPages := make([]ManifestPage, 0, len(pages))
	var totalSize int64

	for i := range pages {
		p := &pages[i]
		html, err := render.Render(rsite, render.Page{
			Path:           p.Path,
			Title:          p.Title,
			SEOTitle:       p.SEOTitle,
			SEODescription: p.SEODescription,
			Content:        json.RawMessage(p.Content),
		})
		if err != nil {
			return nil, err
		}

		sum := sha256.Sum256([]byte(html))
		key := prefix + "/" + PagePathToFile(p.Path)
		if err := e.artifacts.Upload(ctx, key, htmlContentType, []byte(html)); err != nil {
			return nil, fmt.Errorf("failed to upload %s: %w", key, err)
		}

		manifestPages = append(manifestPages, ManifestPage{
			Path:        p.Path,
			ArtifactKey: key,
			Title:       p.Title,
			Hash:        hex.EncodeToString(sum[:]),
			Size:        int64(len(html)),
		})
		totalSize += int64(len(html))
	}

	notFound, err := render.Render404(rsite)
	if err != nil {
		return nil, err
	}
	if err := e.artifacts.Upload(ctx, prefix+"/404.html", htmlContentType, []byte(notFound)); err != nil {
		return nil, fmt.Errorf("failed to upload 404 page: %w", err)
	}
	totalSize += int64(len(notFound))

	manifest := Manifest{
		Version:     version.Version,
		SiteID:      site.ID,
		TenantID:    site.TenantID,
		GeneratedAt: time.Now().UTC(),
		Pages:       manifestPages,
		Assets:      []string{},
		TotalSize:   totalSize,
		Checksum:    checksum(manifestPages),
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := e.artifacts.Upload(ctx, prefix+"/manifest.json", "application/json", manifestJSON); err != nil {
		return nil, fmt.Errorf("failed to upload manifest: %w", err)
	}

	return &storage.VersionTotals{
		PageCount:    len(manifestPages),
		AssetSize:    totalSize,
		ManifestHash: manifest.Checksum,
	}, nil
}

// fail retries the job with backoff while budget remains, then marks the
// version FAILED. The active pointer is never touched on failure.
func (e *Engine) fail(ctx context.Context, job *storage.BuildJob, buildErr error) error {
	retryCount := job.RetryCount + 1
	if retryCount <= e.cfg.MaxRetries {
		delay := e.cfg.BaseDelay * (1 << (retryCount - 1))
		e.logger.Warn("build failed, retrying",
			"jobId", job.ID, "retry", retryCount, "error", buildErr)
		if err := e.store.RequeueBuildJob(ctx, job.ID, retryCount, buildErr.Error()); err != nil {
			return err
		}
		return e.enqueueRetry(ctx, job.ID, retryCount, delay)
	}

	e.logger.Error("build failed permanently", "jobId", job.ID, "error", buildErr)
	return e.store.FailVersion(ctx, job.SiteVersionID, job.ID, buildErr.Error())
}

// Rollback re-activates a prior READY or SUPERSEDED version of the site.
func (e *Engine) Rollback(ctx context.Context, tenantID, siteID, targetVersionID string) (*storage.SiteVersion, error) {
	site, err := e.store.GetSite(ctx, tenantID, siteID)
	if err != nil {
		return nil, err
	}
	target, err := e.store.GetSiteVersion(ctx, tenantID, targetVersionID)
	if err != nil {
		return nil, err
	}
	if target.SiteID != site.ID {
		return nil, ErrVersionWrongSite
	}
	if target.Status != storage.VersionStatusReady && target.Status != storage.VersionStatusSuperseded {
		return nil, ErrVersionNotUsable
	}

	if err := e.store.RollbackToVersion(ctx, site.ID, target.ID); err != nil {
		return nil, err
	}
	if e.invalidator != nil {
		e.invalidator.Invalidate(ctx, site.Subdomain)
	}

	e.logger.Info("rollback applied", "siteId", site.ID, "version", target.Version)
	return e.store.GetSiteVersion(ctx, tenantID, targetVersionID)
}

func (e *Engine) enqueue(ctx context.Context, jobID string, delay time.Duration) error {
	payload, err := json.Marshal(BuildJobPayload{BuildJobID: jobID})
	if err != nil {
		return err
	}
	queued := &jobstore.Job{ID: jobID, Kind: "build", Payload: payload}
	if delay > 0 {
		return e.queue.EnqueueIn(ctx, queued, delay)
	}
	return e.queue.Enqueue(ctx, queued)
}

// enqueueRetry uses a retry-scoped job ID so the dedup set does not swallow
// the redelivery.
func (e *Engine) enqueueRetry(ctx context.Context, jobID string, retryCount int, delay time.Duration) error {
	payload, err := json.Marshal(BuildJobPayload{BuildJobID: jobID})
	if err != nil {
		return err
	}
	queued := &jobstore.Job{
		ID:      fmt.Sprintf("%s:%d", jobID, retryCount),
		Kind:    "build",
		Payload: payload,
	}
	return e.queue.EnqueueIn(ctx, queued, delay)
}
