// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package resolve translates (subdomain, path) requests into artifact bytes.
// Subdomain resolutions are cached for a short TTL and invalidated on publish
// and rollback, cross-process via Redis pub/sub.
package resolve

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loomhq/loom/internal/artifact"
	"github.com/loomhq/loom/internal/storage"
)

const (
	cacheTTL          = 30 * time.Second
	maxCacheEntries   = 10_000
	invalidateChannel = "loom:resolver:invalidate"
)

// ErrNoContent is returned when a subdomain exists but serves no version, or
// when neither the requested key nor the 404 fallback exists.
var ErrNoContent = errors.New("no content for request")

// assetPattern classifies request paths that carry a file extension.
var assetPattern = regexp.MustCompile(`\.\w+$`)

// Resolution is a cached subdomain -> active version mapping.
type Resolution struct {
	SiteID         string
	ArtifactPrefix string
	Version        int
}

// Result is the resolved artifact plus its serving metadata.
type Result struct {
	Body        []byte
	ContentType string
	Version     int
	IsAsset     bool
	NotFound    bool
}

type cacheEntry struct {
	resolution Resolution
	expires    time.Time
}

// Resolver serves site content by subdomain.
type Resolver struct {
	store     *storage.Store
	artifacts *artifact.Store
	kv        *redis.Client
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func New(store *storage.Store, artifacts *artifact.Store, kv *redis.Client, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:     store,
		artifacts: artifacts,
		kv:        kv,
		logger:    logger.With("component", "resolver"),
		cache:     make(map[string]cacheEntry),
	}
}

// Resolve fetches the artifact for one public request. Page misses fall back
// to the version's 404 body with NotFound set.
func (r *Resolver) Resolve(ctx context.Context, subdomain, path string) (*Result, error) {
	res, err := r.lookup(ctx, subdomain)
	if err != nil {
		return nil, err
	}

	isAsset := assetPattern.MatchString(path)
	key := res.ArtifactPrefix + "/" + keyForPath(path, isAsset)

	obj, err := r.artifacts.Fetch(ctx, key)
	if err == nil {
		return &Result{
			Body:        obj.Body,
			ContentType: obj.ContentType,
			Version:     res.Version,
			IsAsset:     isAsset,
		}, nil
	}
	if !errors.Is(err, artifact.ErrNotFound) {
		return nil, err
	}
	if isAsset {
		return nil, ErrNoContent
	}

	fallback, err := r.artifacts.Fetch(ctx, res.ArtifactPrefix+"/404.html")
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, ErrNoContent
		}
		return nil, err
	}
	return &Result{
		Body:        fallback.Body,
		ContentType: fallback.ContentType,
		Version:     res.Version,
		NotFound:    true,
	}, nil
}

func keyForPath(path string, isAsset bool) string {
	trimmed := strings.Trim(path, "/")
	if isAsset {
		return trimmed
	}
	if trimmed == "" {
		return "index.html"
	}
	return trimmed + "/index.html"
}

// lookup returns the cached resolution for a subdomain, querying the store on
// miss or expiry.
func (r *Resolver) lookup(ctx context.Context, subdomain string) (Resolution, error) {
	now := time.Now()
	r.mu.Lock()
	if entry, ok := r.cache[subdomain]; ok && now.Before(entry.expires) {
		r.mu.Unlock()
		return entry.resolution, nil
	}
	r.mu.Unlock()

	site, err := r.store.GetSiteBySubdomain(ctx, subdomain)
	if err != nil {
		return Resolution{}, err
	}
	if site.ActiveVersionID == nil {
		return Resolution{}, ErrNoContent
	}
	version, err := r.store.GetSiteVersion(ctx, site.TenantID, *site.ActiveVersionID)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{
		SiteID:         site.ID,
		ArtifactPrefix: version.ArtifactPrefix,
		Version:        version.Version,
	}

	r.mu.Lock()
	if len(r.cache) >= maxCacheEntries {
		// Bounded cache: drop everything rather than track recency.
		r.cache = make(map[string]cacheEntry)
	}
	r.cache[subdomain] = cacheEntry{resolution: res, expires: now.Add(cacheTTL)}
	r.mu.Unlock()
	return res, nil
}

// Invalidate drops the local cache entry and tells sibling processes to do
// the same. Implements build.Invalidator.
func (r *Resolver) Invalidate(ctx context.Context, subdomain string) {
	r.dropLocal(subdomain)
	if r.kv != nil {
		if err := r.kv.Publish(ctx, invalidateChannel, subdomain).Err(); err != nil {
			r.logger.Warn("failed to publish cache invalidation", "subdomain", subdomain, "error", err)
		}
	}
}

func (r *Resolver) dropLocal(subdomain string) {
	r.mu.Lock()
	delete(r.cache, subdomain)
	r.mu.Unlock()
}

// ListenInvalidations subscribes to cross-process invalidations and blocks
// until ctx is cancelled.
func (r *Resolver) ListenInvalidations(ctx context.Context) {
	if r.kv == nil {
		return
	}
	sub := r.kv.Subscribe(ctx, invalidateChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.dropLocal(msg.Payload)
		}
	}
}
