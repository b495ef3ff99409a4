// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage holds the relational system of record for both Loom
// services. Every entity is tenant-scoped; repository methods take the tenant
// ID explicitly and never query without it.
package storage

import "time"

// Run lifecycle states. Transitions are monotonic:
// PENDING -> RUNNING -> (COMPLETED | FAILED | CANCELLED).
const (
	RunStatusPending   = "PENDING"
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
	RunStatusCancelled = "CANCELLED"
)

// Step lifecycle states.
const (
	StepStatusPending   = "PENDING"
	StepStatusRunning   = "RUNNING"
	StepStatusCompleted = "COMPLETED"
	StepStatusFailed    = "FAILED"
	StepStatusSkipped   = "SKIPPED"
)

// SiteVersion lifecycle states.
const (
	VersionStatusBuilding   = "BUILDING"
	VersionStatusReady      = "READY"
	VersionStatusFailed     = "FAILED"
	VersionStatusSuperseded = "SUPERSEDED"
)

// BuildJob lifecycle states.
const (
	BuildJobStatusQueued     = "QUEUED"
	BuildJobStatusProcessing = "PROCESSING"
	BuildJobStatusCompleted  = "COMPLETED"
	BuildJobStatusFailed     = "FAILED"
)

// Tenant is the unit of isolation; every resource belongs to exactly one.
type Tenant struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User is an account within a tenant. Email is globally unique because it is
// the login identifier.
type User struct {
	ID           string `gorm:"primaryKey"`
	TenantID     string `gorm:"index;not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Workflow is a versioned DAG definition owned by a tenant. Soft-deleted by
// clearing IsActive; never hard-deleted while runs reference it.
type Workflow struct {
	ID         string `gorm:"primaryKey"`
	TenantID   string `gorm:"index;not null"`
	Name       string `gorm:"not null"`
	Version    int    `gorm:"not null;default:1"`
	Definition JSON   `gorm:"not null"`
	IsActive   bool   `gorm:"not null;default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Run is a single execution attempt of a Workflow.
type Run struct {
	ID             string `gorm:"primaryKey"`
	TenantID       string `gorm:"index;not null"`
	WorkflowID     string `gorm:"index;not null"`
	Status         string `gorm:"not null"`
	Input          JSON
	Output         JSON
	Error          *string
	CurrentStepKey *string
	StartedAt      time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Step is the per-node execution record within a Run. One row per node per
// run, created in bulk at run start.
type Step struct {
	ID             string `gorm:"primaryKey"`
	RunID          string `gorm:"uniqueIndex:idx_run_step;not null"`
	StepKey        string `gorm:"uniqueIndex:idx_run_step;not null"`
	Type           string `gorm:"not null"`
	Status         string `gorm:"not null"`
	Input          JSON
	Output         JSON
	Error          *string
	RetryCount     int    `gorm:"not null;default:0"`
	IdempotencyKey string `gorm:"not null"`
	// ScheduledAt is set when the step has been enqueued. A PENDING step with
	// no ScheduledAt was never reached (skipped branch) and does not block
	// run completion.
	ScheduledAt *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Event is an append-only record of a run state transition. It is the audit
// log and the push-bus source.
type Event struct {
	ID        string  `gorm:"primaryKey"`
	RunID     string  `gorm:"index:idx_event_run;not null"`
	StepID    *string `gorm:"index"`
	Type      string  `gorm:"not null"`
	Payload   JSON
	Timestamp time.Time `gorm:"index:idx_event_run;not null"`
}

// Site is a tenant's publishable website. Subdomain is globally unique; slug
// is unique within the tenant.
type Site struct {
	ID              string `gorm:"primaryKey"`
	TenantID        string `gorm:"uniqueIndex:idx_tenant_slug;not null"`
	Name            string `gorm:"not null"`
	Slug            string `gorm:"uniqueIndex:idx_tenant_slug;not null"`
	Subdomain       string `gorm:"uniqueIndex;not null"`
	Settings        JSON
	ActiveVersionID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Page is a structured content document attached to a Site.
type Page struct {
	ID             string `gorm:"primaryKey"`
	SiteID         string `gorm:"uniqueIndex:idx_site_path;not null"`
	TenantID       string `gorm:"index;not null"`
	Path           string `gorm:"uniqueIndex:idx_site_path;not null"`
	Title          string `gorm:"not null"`
	Content        JSON
	SEOTitle       *string
	SEODescription *string
	IsPublished    bool `gorm:"not null;default:false"`
	SortOrder      int  `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SiteVersion is an immutable snapshot of a Site's pages stored in the
// artifact store. Only status (and build totals) mutate after creation.
type SiteVersion struct {
	ID              string `gorm:"primaryKey"`
	SiteID          string `gorm:"uniqueIndex:idx_site_version;not null"`
	TenantID        string `gorm:"index;not null"`
	Version         int    `gorm:"uniqueIndex:idx_site_version;not null"`
	ArtifactPrefix  string `gorm:"not null"`
	Status          string `gorm:"not null"`
	PageCount       int
	AssetSize       int64
	ManifestHash    *string
	BuildDurationMs *int64
	PublishedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BuildJob tracks the asynchronous build of a SiteVersion. At most one job
// per version is PROCESSING at a time.
type BuildJob struct {
	ID            string `gorm:"primaryKey"`
	SiteVersionID string `gorm:"uniqueIndex;not null"`
	SiteID        string `gorm:"index;not null"`
	TenantID      string `gorm:"index;not null"`
	Status        string `gorm:"not null"`
	RetryCount    int    `gorm:"not null;default:0"`
	WorkerID      *string
	Error         *string
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
