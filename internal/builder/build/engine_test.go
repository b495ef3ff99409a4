// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/loomhq/loom/internal/artifact"
	"github.com/loomhq/loom/internal/artifact/artifacttest"
	"github.com/loomhq/loom/internal/jobstore"
	"github.com/loomhq/loom/internal/storage"
)

type invalidationRecorder struct {
	mu         sync.Mutex
	subdomains []string
}

func (r *invalidationRecorder) Invalidate(_ context.Context, subdomain string) {
	r.mu.Lock()
	r.subdomains = append(r.subdomains, subdomain)
	r.mu.Unlock()
}

type buildFixture struct {
	store     *storage.Store
	artifacts *artifacttest.Server
	queue     *jobstore.Queue
	engine    *Engine
	recorder  *invalidationRecorder
	tenantID  string
}

func newBuildFixture(t *testing.T) *buildFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	store, err := storage.NewWithDB(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv := artifacttest.NewServer()
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	queue := jobstore.New(rdb, "builds")

	recorder := &invalidationRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := New(store, artifact.NewWithClient(srv.Client(), artifacttest.Bucket), queue, recorder,
		Config{MaxRetries: 1, BaseDelay: time.Millisecond}, logger)

	tenant := &storage.Tenant{ID: uuid.NewString(), Name: "acme"}
	require.NoError(t, store.CreateTenant(context.Background(), tenant))

	return &buildFixture{
		store:     store,
		artifacts: srv,
		queue:     queue,
		engine:    eng,
		recorder:  recorder,
		tenantID:  tenant.ID,
	}
}

func (f *buildFixture) createSite(t *testing.T, settings string) *storage.Site {
	t.Helper()
	suffix := uuid.NewString()[:8]
	site := &storage.Site{
		ID:        uuid.NewString(),
		TenantID:  f.tenantID,
		Name:      "Acme Docs",
		Slug:      "docs-" + suffix,
		Subdomain: "docs-" + suffix,
	}
	if settings != "" {
		site.Settings = storage.JSON(settings)
	}
	require.NoError(t, f.store.CreateSite(context.Background(), site))
	return site
}

func (f *buildFixture) createPage(t *testing.T, siteID, path, title string, published bool) {
	t.Helper()
	require.NoError(t, f.store.CreatePage(context.Background(), &storage.Page{
		ID:          uuid.NewString(),
		SiteID:      siteID,
		TenantID:    f.tenantID,
		Path:        path,
		Title:       title,
		Content:     storage.JSON(`{"sections": [{"type": "text", "heading": "` + title + `", "body": "Body"}]}`),
		IsPublished: published,
	}))
}

// runQueuedBuild drains one delivery from the queue and executes it.
func (f *buildFixture) runQueuedBuild(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)

	var payload BuildJobPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	require.NoError(t, f.engine.ExecuteBuild(context.Background(), payload.BuildJobID))
}

func TestPublishRequiresPublishedPages(t *testing.T) {
	f := newBuildFixture(t)
	site := f.createSite(t, "")
	f.createPage(t, site.ID, "/", "Draft", false)

	_, _, err := f.engine.Publish(context.Background(), f.tenantID, site.ID)
	require.ErrorIs(t, err, ErrNoPublishedPages)
}

func TestPublishUnknownSite(t *testing.T) {
	f := newBuildFixture(t)
	_, _, err := f.engine.Publish(context.Background(), f.tenantID, uuid.NewString())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPublishAndBuildActivatesVersion(t *testing.T) {
	f := newBuildFixture(t)
	ctx := context.Background()
	site := f.createSite(t, "")
	f.createPage(t, site.ID, "/", "Home", true)
	f.createPage(t, site.ID, "/about", "About", true)
	f.createPage(t, site.ID, "/draft", "Draft", false)

	version, job, err := f.engine.Publish(ctx, f.tenantID, site.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, version.Version)
	assert.Equal(t, storage.VersionStatusBuilding, version.Status)
	assert.Equal(t, storage.BuildJobStatusQueued, job.Status)

	f.runQueuedBuild(t)

	built, err := f.store.GetSiteVersion(ctx, f.tenantID, version.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.VersionStatusReady, built.Status)
	assert.Equal(t, 2, built.PageCount)
	require.NotNil(t, built.ManifestHash)
	require.NotNil(t, built.BuildDurationMs)

	got, err := f.store.GetSite(ctx, f.tenantID, site.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ActiveVersionID)
	assert.Equal(t, version.ID, *got.ActiveVersionID)

	prefix := version.ArtifactPrefix
	assert.ElementsMatch(t, []string{
		prefix + "/index.html",
		prefix + "/about/index.html",
		prefix + "/404.html",
		prefix + "/manifest.json",
	}, f.artifacts.Keys())

	f.recorder.mu.Lock()
	defer f.recorder.mu.Unlock()
	assert.Equal(t, []string{site.Subdomain}, f.recorder.subdomains)
}

func TestBuildManifestContents(t *testing.T) {
	f := newBuildFixture(t)
	ctx := context.Background()
	site := f.createSite(t, "")
	f.createPage(t, site.ID, "/", "Home", true)

	version, _, err := f.engine.Publish(ctx, f.tenantID, site.ID)
	require.NoError(t, err)
	f.runQueuedBuild(t)

	arts := artifact.NewWithClient(f.artifacts.Client(), artifacttest.Bucket)
	obj, err := arts.Fetch(ctx, version.ArtifactPrefix+"/manifest.json")
	require.NoError(t, err)

	var manifest Manifest
	require.NoError(t, json.Unmarshal(obj.Body, &manifest))
	assert.Equal(t, 1, manifest.Version)
	assert.Equal(t, site.ID, manifest.SiteID)
	assert.Equal(t, f.tenantID, manifest.TenantID)
	require.Len(t, manifest.Pages, 1)
	assert.Equal(t, "/", manifest.Pages[0].Path)
	assert.Equal(t, version.ArtifactPrefix+"/index.html", manifest.Pages[0].ArtifactKey)
	assert.Equal(t, checksum(manifest.Pages), manifest.Checksum)
	assert.Greater(t, manifest.TotalSize, int64(0))
}

func TestSecondPublishSupersedesFirst(t *testing.T) {
	f := newBuildFixture(t)
	ctx := context.Background()
	site := f.createSite(t, "")
	f.createPage(t, site.ID, "/", "Home", true)

	v1, _, err := f.engine.Publish(ctx, f.tenantID, site.ID)
	require.NoError(t, err)
	f.runQueuedBuild(t)

	v2, _, err := f.engine.Publish(ctx, f.tenantID, site.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	f.runQueuedBuild(t)

	old, err := f.store.GetSiteVersion(ctx, f.tenantID, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.VersionStatusSuperseded, old.Status)

	got, err := f.store.GetSite(ctx, f.tenantID, site.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, *got.ActiveVersionID)
}

func TestPublishAllocatesPastExistingVersion(t *testing.T) {
	f := newBuildFixture(t)
	ctx := context.Background()
	site := f.createSite(t, "")
	f.createPage(t, site.ID, "/", "Home", true)

	// Another publisher already claimed version 1.
	takenID := uuid.NewString()
	require.NoError(t, f.store.CreateVersionWithJob(ctx,
		&storage.SiteVersion{
			ID: takenID, SiteID: site.ID, TenantID: f.tenantID,
			Version: 1, ArtifactPrefix: "sites/x/" + takenID, Status: storage.VersionStatusBuilding,
		},
		&storage.BuildJob{
			ID: uuid.NewString(), SiteVersionID: takenID, SiteID: site.ID,
			TenantID: f.tenantID, Status: storage.BuildJobStatusQueued,
		}))

	version, _, err := f.engine.Publish(ctx, f.tenantID, site.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, version.Version)
	assert.Equal(t, fmt.Sprintf("sites/%s/%s/2", f.tenantID, site.ID), version.ArtifactPrefix)
}

func TestBuildFailureRetriesThenFailsVersion(t *testing.T) {
	f := newBuildFixture(t)
	ctx := context.Background()
	// Corrupt settings make every build attempt fail.
	site := f.createSite(t, `{broken`)
	f.createPage(t, site.ID, "/", "Home", true)

	version, job, err := f.engine.Publish(ctx, f.tenantID, site.ID)
	require.NoError(t, err)

	// First delivery fails and requeues with backoff.
	f.runQueuedBuild(t)
	requeued, err := f.store.GetBuildJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.BuildJobStatusQueued, requeued.Status)
	assert.Equal(t, 1, requeued.RetryCount)

	// The retry delivery exhausts the budget.
	f.runQueuedBuild(t)
	failed, err := f.store.GetBuildJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.BuildJobStatusFailed, failed.Status)

	builtVersion, err := f.store.GetSiteVersion(ctx, f.tenantID, version.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.VersionStatusFailed, builtVersion.Status)

	// No activation ever happened.
	got, err := f.store.GetSite(ctx, f.tenantID, site.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ActiveVersionID)
	f.recorder.mu.Lock()
	defer f.recorder.mu.Unlock()
	assert.Empty(t, f.recorder.subdomains)
}

func TestStaleDeliveryIsDropped(t *testing.T) {
	f := newBuildFixture(t)
	ctx := context.Background()
	site := f.createSite(t, "")
	f.createPage(t, site.ID, "/", "Home", true)

	_, job, err := f.engine.Publish(ctx, f.tenantID, site.ID)
	require.NoError(t, err)

	f.runQueuedBuild(t)

	// Redelivering a completed job is a no-op.
	require.NoError(t, f.engine.ExecuteBuild(ctx, job.ID))
}

func TestRollback(t *testing.T) {
	f := newBuildFixture(t)
	ctx := context.Background()
	site := f.createSite(t, "")
	f.createPage(t, site.ID, "/", "Home", true)

	v1, _, err := f.engine.Publish(ctx, f.tenantID, site.ID)
	require.NoError(t, err)
	f.runQueuedBuild(t)
	v2, _, err := f.engine.Publish(ctx, f.tenantID, site.ID)
	require.NoError(t, err)
	f.runQueuedBuild(t)

	restored, err := f.engine.Rollback(ctx, f.tenantID, site.ID, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.VersionStatusReady, restored.Status)

	got, err := f.store.GetSite(ctx, f.tenantID, site.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, *got.ActiveVersionID)

	demoted, err := f.store.GetSiteVersion(ctx, f.tenantID, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.VersionStatusSuperseded, demoted.Status)
}

func TestRollbackRejectsBuildingVersion(t *testing.T) {
	f := newBuildFixture(t)
	ctx := context.Background()
	site := f.createSite(t, "")
	f.createPage(t, site.ID, "/", "Home", true)

	building, _, err := f.engine.Publish(ctx, f.tenantID, site.ID)
	require.NoError(t, err)

	_, err = f.engine.Rollback(ctx, f.tenantID, site.ID, building.ID)
	require.ErrorIs(t, err, ErrVersionNotUsable)
}

func TestRollbackRejectsForeignVersion(t *testing.T) {
	f := newBuildFixture(t)
	ctx := context.Background()

	siteA := f.createSite(t, "")
	f.createPage(t, siteA.ID, "/", "Home", true)
	vA, _, err := f.engine.Publish(ctx, f.tenantID, siteA.ID)
	require.NoError(t, err)
	f.runQueuedBuild(t)

	siteB := f.createSite(t, "")
	_, err = f.engine.Rollback(ctx, f.tenantID, siteB.ID, vA.ID)
	require.ErrorIs(t, err, ErrVersionWrongSite)
}

func TestPagePathToFile(t *testing.T) {
	assert.Equal(t, "index.html", PagePathToFile("/"))
	assert.Equal(t, "index.html", PagePathToFile(""))
	assert.Equal(t, "about/index.html", PagePathToFile("/about"))
	assert.Equal(t, "docs/intro/index.html", PagePathToFile("/docs/intro"))
}

func TestChecksumDependsOnOrderAndContent(t *testing.T) {
	a := ManifestPage{Hash: "aaa"}
	b := ManifestPage{Hash: "bbb"}

	assert.Equal(t, checksum([]ManifestPage{a, b}), checksum([]ManifestPage{a, b}))
	assert.NotEqual(t, checksum([]ManifestPage{a, b}), checksum([]ManifestPage{b, a}))
	assert.NotEqual(t, checksum([]ManifestPage{a}), checksum([]ManifestPage{a, b}))
}
