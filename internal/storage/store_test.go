// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	store, err := NewWithDB(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedTenant(t *testing.T, store *Store) *Tenant {
	t.Helper()
	tenant := &Tenant{ID: uuid.NewString(), Name: "acme"}
	require.NoError(t, store.CreateTenant(context.Background(), tenant))
	return tenant
}

func TestUserEmailIsGloballyUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	first := seedTenant(t, store)
	second := seedTenant(t, store)

	require.NoError(t, store.CreateUser(ctx, &User{
		ID: uuid.NewString(), TenantID: first.ID, Email: "dev@acme.test", PasswordHash: "x", Role: "admin",
	}))
	err := store.CreateUser(ctx, &User{
		ID: uuid.NewString(), TenantID: second.ID, Email: "dev@acme.test", PasswordHash: "x", Role: "admin",
	})
	require.ErrorIs(t, err, ErrConflict)
}

func TestWorkflowTenantScoping(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	owner := seedTenant(t, store)
	other := seedTenant(t, store)

	wf := &Workflow{
		ID: uuid.NewString(), TenantID: owner.ID, Name: "pipeline",
		Version: 1, Definition: JSON(`{}`), IsActive: true,
	}
	require.NoError(t, store.CreateWorkflow(ctx, wf))

	got, err := store.GetWorkflow(ctx, owner.ID, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "pipeline", got.Name)

	_, err = store.GetWorkflow(ctx, other.ID, wf.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSoftDeleteHidesWorkflowFromList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, store)

	wf := &Workflow{
		ID: uuid.NewString(), TenantID: tenant.ID, Name: "pipeline",
		Version: 1, Definition: JSON(`{}`), IsActive: true,
	}
	require.NoError(t, store.CreateWorkflow(ctx, wf))
	require.NoError(t, store.SoftDeleteWorkflow(ctx, tenant.ID, wf.ID))

	workflows, total, err := store.ListWorkflows(ctx, tenant.ID, 1, 20)
	require.NoError(t, err)
	assert.Empty(t, workflows)
	assert.EqualValues(t, 0, total)

	// The row survives so existing runs keep their reference.
	got, err := store.GetWorkflow(ctx, tenant.ID, wf.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestSkipPendingStepsLeavesTerminalStepsAlone(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, store)

	run := &Run{
		ID: uuid.NewString(), TenantID: tenant.ID, WorkflowID: uuid.NewString(),
		Status: RunStatusRunning, StartedAt: time.Now().UTC(),
	}
	steps := []Step{
		{ID: uuid.NewString(), RunID: run.ID, StepKey: "done", Type: "DELAY", Status: StepStatusCompleted, IdempotencyKey: "k1"},
		{ID: uuid.NewString(), RunID: run.ID, StepKey: "waiting", Type: "DELAY", Status: StepStatusPending, IdempotencyKey: "k2"},
		{ID: uuid.NewString(), RunID: run.ID, StepKey: "active", Type: "DELAY", Status: StepStatusRunning, IdempotencyKey: "k3"},
	}
	require.NoError(t, store.CreateRun(ctx, run, steps))

	require.NoError(t, store.SkipPendingSteps(ctx, run.ID))

	byKey := make(map[string]string)
	all, err := store.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	for _, s := range all {
		byKey[s.StepKey] = s.Status
	}
	assert.Equal(t, StepStatusCompleted, byKey["done"])
	assert.Equal(t, StepStatusSkipped, byKey["waiting"])
	assert.Equal(t, StepStatusSkipped, byKey["active"])
}

func TestRunTransitionsStopAtTerminalStates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, store)

	run := &Run{
		ID: uuid.NewString(), TenantID: tenant.ID, WorkflowID: uuid.NewString(),
		Status: RunStatusPending, StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateRun(ctx, run, nil))

	started, err := store.MarkRunRunning(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, started)

	cancelled, err := store.CancelRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// Every transition out of a terminal state is refused, including the
	// progress write a completing in-flight step issues.
	alive, err := store.RecordRunProgress(ctx, run.ID, "late-step")
	require.NoError(t, err)
	assert.False(t, alive)

	completed, err := store.CompleteRun(ctx, run.ID, JSON(`{"x":1}`))
	require.NoError(t, err)
	assert.False(t, completed)

	failed, err := store.FailRun(ctx, run.ID, "boom", nil)
	require.NoError(t, err)
	assert.False(t, failed)

	got, err := store.GetRun(ctx, tenant.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCancelled, got.Status)
	assert.Nil(t, got.CurrentStepKey)
	assert.Empty(t, got.Output)
}

func TestListEventsSinceFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	runID := uuid.NewString()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendEvent(ctx, &Event{
			ID: uuid.NewString(), RunID: runID, Type: "run.started",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	events, total, err := store.ListEvents(ctx, runID, time.Time{}, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, events, 3)
	assert.True(t, events[0].Timestamp.Before(events[2].Timestamp))

	events, total, err = store.ListEvents(ctx, runID, base.Add(time.Minute), 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, events, 1)
}

func TestNextSiteVersionStartsAtOne(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	siteID := uuid.NewString()

	n, err := store.NextSiteVersion(ctx, siteID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestActivateVersionFlipsPointerAndSupersedes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, store)

	site := &Site{
		ID: uuid.NewString(), TenantID: tenant.ID, Name: "Docs",
		Slug: "docs", Subdomain: "docs-acme",
	}
	require.NoError(t, store.CreateSite(ctx, site))

	makeVersion := func(n int) (*SiteVersion, *BuildJob) {
		v := &SiteVersion{
			ID: uuid.NewString(), SiteID: site.ID, TenantID: tenant.ID, Version: n,
			ArtifactPrefix: fmt.Sprintf("sites/%s/%s/%d", tenant.ID, site.ID, n),
			Status:         VersionStatusBuilding,
		}
		j := &BuildJob{
			ID: uuid.NewString(), SiteVersionID: v.ID, SiteID: site.ID,
			TenantID: tenant.ID, Status: BuildJobStatusQueued,
		}
		require.NoError(t, store.CreateVersionWithJob(ctx, v, j))
		return v, j
	}

	v1, j1 := makeVersion(1)
	require.NoError(t, store.ActivateVersion(ctx, site.ID, v1.ID, j1.ID, VersionTotals{PageCount: 2, ManifestHash: "h1"}))

	got, err := store.GetSite(ctx, tenant.ID, site.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ActiveVersionID)
	assert.Equal(t, v1.ID, *got.ActiveVersionID)

	v2, j2 := makeVersion(2)
	require.NoError(t, store.ActivateVersion(ctx, site.ID, v2.ID, j2.ID, VersionTotals{PageCount: 2, ManifestHash: "h2"}))

	got, err = store.GetSite(ctx, tenant.ID, site.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, *got.ActiveVersionID)

	old, err := store.GetSiteVersion(ctx, tenant.ID, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, VersionStatusSuperseded, old.Status)

	current, err := store.GetSiteVersion(ctx, tenant.ID, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, VersionStatusReady, current.Status)
	assert.NotNil(t, current.PublishedAt)

	job, err := store.GetBuildJob(ctx, j2.ID)
	require.NoError(t, err)
	assert.Equal(t, BuildJobStatusCompleted, job.Status)
}

func TestFailVersionKeepsActivePointer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, store)

	site := &Site{ID: uuid.NewString(), TenantID: tenant.ID, Name: "Docs", Slug: "docs", Subdomain: "docs-fail"}
	require.NoError(t, store.CreateSite(ctx, site))

	v1 := &SiteVersion{ID: uuid.NewString(), SiteID: site.ID, TenantID: tenant.ID, Version: 1, ArtifactPrefix: "p1", Status: VersionStatusBuilding}
	j1 := &BuildJob{ID: uuid.NewString(), SiteVersionID: v1.ID, SiteID: site.ID, TenantID: tenant.ID, Status: BuildJobStatusQueued}
	require.NoError(t, store.CreateVersionWithJob(ctx, v1, j1))
	require.NoError(t, store.ActivateVersion(ctx, site.ID, v1.ID, j1.ID, VersionTotals{}))

	v2 := &SiteVersion{ID: uuid.NewString(), SiteID: site.ID, TenantID: tenant.ID, Version: 2, ArtifactPrefix: "p2", Status: VersionStatusBuilding}
	j2 := &BuildJob{ID: uuid.NewString(), SiteVersionID: v2.ID, SiteID: site.ID, TenantID: tenant.ID, Status: BuildJobStatusQueued}
	require.NoError(t, store.CreateVersionWithJob(ctx, v2, j2))
	require.NoError(t, store.FailVersion(ctx, v2.ID, j2.ID, "render exploded"))

	got, err := store.GetSite(ctx, tenant.ID, site.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ActiveVersionID)
	assert.Equal(t, v1.ID, *got.ActiveVersionID)

	failed, err := store.GetSiteVersion(ctx, tenant.ID, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, VersionStatusFailed, failed.Status)

	job, err := store.GetBuildJob(ctx, j2.ID)
	require.NoError(t, err)
	assert.Equal(t, BuildJobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "render exploded", *job.Error)
}

func TestClaimBuildJobIsSingleWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, store)

	v := &SiteVersion{ID: uuid.NewString(), SiteID: uuid.NewString(), TenantID: tenant.ID, Version: 1, ArtifactPrefix: "p", Status: VersionStatusBuilding}
	j := &BuildJob{ID: uuid.NewString(), SiteVersionID: v.ID, SiteID: v.SiteID, TenantID: tenant.ID, Status: BuildJobStatusQueued}
	require.NoError(t, store.CreateVersionWithJob(ctx, v, j))

	claimed, err := store.ClaimBuildJob(ctx, j.ID, "worker-a")
	require.NoError(t, err)
	assert.Equal(t, BuildJobStatusProcessing, claimed.Status)

	_, err = store.ClaimBuildJob(ctx, j.ID, "worker-b")
	require.ErrorIs(t, err, ErrNotFound)

	// Requeue reopens the claim for a retry delivery.
	require.NoError(t, store.RequeueBuildJob(ctx, j.ID, 1, "transient"))
	claimed, err = store.ClaimBuildJob(ctx, j.ID, "worker-b")
	require.NoError(t, err)
	assert.Equal(t, 1, claimed.RetryCount)
}

func TestDeleteSiteCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, store)

	site := &Site{ID: uuid.NewString(), TenantID: tenant.ID, Name: "Docs", Slug: "docs", Subdomain: "docs-cascade"}
	require.NoError(t, store.CreateSite(ctx, site))
	page := &Page{ID: uuid.NewString(), SiteID: site.ID, TenantID: tenant.ID, Path: "/", Title: "Home"}
	require.NoError(t, store.CreatePage(ctx, page))

	require.NoError(t, store.DeleteSite(ctx, tenant.ID, site.ID))

	_, err := store.GetSite(ctx, tenant.ID, site.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetPage(ctx, tenant.ID, site.ID, page.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPagePathUniquePerSite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, store)
	siteID := uuid.NewString()

	require.NoError(t, store.CreatePage(ctx, &Page{ID: uuid.NewString(), SiteID: siteID, TenantID: tenant.ID, Path: "/about", Title: "About"}))
	err := store.CreatePage(ctx, &Page{ID: uuid.NewString(), SiteID: siteID, TenantID: tenant.ID, Path: "/about", Title: "About again"})
	require.ErrorIs(t, err, ErrConflict)

	// The same path on another site is fine.
	require.NoError(t, store.CreatePage(ctx, &Page{ID: uuid.NewString(), SiteID: uuid.NewString(), TenantID: tenant.ID, Path: "/about", Title: "About"}))
}

func TestSiteVersionNumberUniquePerSite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, store)
	siteID := uuid.NewString()

	insert := func() error {
		versionID := uuid.NewString()
		return store.CreateVersionWithJob(ctx,
			&SiteVersion{
				ID: versionID, SiteID: siteID, TenantID: tenant.ID,
				Version: 1, ArtifactPrefix: "sites/x/" + versionID, Status: VersionStatusBuilding,
			},
			&BuildJob{
				ID: uuid.NewString(), SiteVersionID: versionID, SiteID: siteID,
				TenantID: tenant.ID, Status: BuildJobStatusQueued,
			})
	}

	require.NoError(t, insert())
	// Two publishers racing to the same MAX(version)+1: the loser gets a
	// classified conflict it can retry on, never a raw driver error.
	require.ErrorIs(t, insert(), ErrConflict)

	next, err := store.NextSiteVersion(ctx, siteID)
	require.NoError(t, err)
	assert.Equal(t, 2, next)
}

func TestJSONRoundTrip(t *testing.T) {
	var j JSON
	require.NoError(t, j.Scan([]byte(`{"a":1}`)))
	assert.JSONEq(t, `{"a":1}`, string(j))

	value, err := j.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), value)

	var empty JSON
	value, err = empty.Value()
	require.NoError(t, err)
	assert.Nil(t, value)

	out, err := empty.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}
