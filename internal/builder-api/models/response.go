// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"encoding/json"
	"time"

	"github.com/loomhq/loom/internal/storage"
)

// SiteResponse is the public view of a site.
type SiteResponse struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Slug            string          `json:"slug"`
	Subdomain       string          `json:"subdomain"`
	Settings        json.RawMessage `json:"settings,omitempty"`
	ActiveVersionID *string         `json:"activeVersionId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// PageResponse is the public view of a page.
type PageResponse struct {
	ID             string          `json:"id"`
	SiteID         string          `json:"siteId"`
	Path           string          `json:"path"`
	Title          string          `json:"title"`
	Content        json.RawMessage `json:"content,omitempty"`
	SEOTitle       *string         `json:"seoTitle,omitempty"`
	SEODescription *string         `json:"seoDescription,omitempty"`
	IsPublished    bool            `json:"isPublished"`
	SortOrder      int             `json:"sortOrder"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// VersionResponse is the public view of a site version.
type VersionResponse struct {
	ID              string     `json:"id"`
	SiteID          string     `json:"siteId"`
	Version         int        `json:"version"`
	Status          string     `json:"status"`
	PageCount       int        `json:"pageCount"`
	AssetSize       int64      `json:"assetSize"`
	ManifestHash    *string    `json:"manifestHash,omitempty"`
	BuildDurationMs *int64     `json:"buildDurationMs,omitempty"`
	PublishedAt     *time.Time `json:"publishedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// PublishResponse is returned by the publish endpoint (202).
type PublishResponse struct {
	Version  VersionResponse  `json:"version"`
	BuildJob BuildJobResponse `json:"buildJob"`
}

// BuildJobResponse is the public view of a build job.
type BuildJobResponse struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"`
	RetryCount int     `json:"retryCount"`
	Error      *string `json:"error,omitempty"`
}

// HealthResponse reports dependency reachability.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]Health `json:"components"`
}

// Health is one dependency's probe result.
type Health struct {
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// ToSiteResponse converts a stored site.
func ToSiteResponse(site *storage.Site) SiteResponse {
	return SiteResponse{
		ID:              site.ID,
		Name:            site.Name,
		Slug:            site.Slug,
		Subdomain:       site.Subdomain,
		Settings:        json.RawMessage(site.Settings),
		ActiveVersionID: site.ActiveVersionID,
		CreatedAt:       site.CreatedAt,
		UpdatedAt:       site.UpdatedAt,
	}
}

// ToPageResponse converts a stored page.
func ToPageResponse(page *storage.Page) PageResponse {
	return PageResponse{
		ID:             page.ID,
		SiteID:         page.SiteID,
		Path:           page.Path,
		Title:          page.Title,
		Content:        json.RawMessage(page.Content),
		SEOTitle:       page.SEOTitle,
		SEODescription: page.SEODescription,
		IsPublished:    page.IsPublished,
		SortOrder:      page.SortOrder,
		CreatedAt:      page.CreatedAt,
		UpdatedAt:      page.UpdatedAt,
	}
}

// ToVersionResponse converts a stored site version.
func ToVersionResponse(v *storage.SiteVersion) VersionResponse {
	return VersionResponse{
		ID:              v.ID,
		SiteID:          v.SiteID,
		Version:         v.Version,
		Status:          v.Status,
		PageCount:       v.PageCount,
		AssetSize:       v.AssetSize,
		ManifestHash:    v.ManifestHash,
		BuildDurationMs: v.BuildDurationMs,
		PublishedAt:     v.PublishedAt,
		CreatedAt:       v.CreatedAt,
	}
}

// ToBuildJobResponse converts a stored build job.
func ToBuildJobResponse(job *storage.BuildJob) BuildJobResponse {
	return BuildJobResponse{
		ID:         job.ID,
		Status:     job.Status,
		RetryCount: job.RetryCount,
		Error:      job.Error,
	}
}
