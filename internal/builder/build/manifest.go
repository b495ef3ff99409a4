// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ManifestPage is one built page entry.
type ManifestPage struct {
	Path        string `json:"path"`
	ArtifactKey string `json:"artifactKey"`
	Title       string `json:"title"`
	Hash        string `json:"hash"`
	Size        int64  `json:"size"`
}

// Manifest describes one immutable site version in the artifact store.
type Manifest struct {
	Version     int            `json:"version"`
	SiteID      string         `json:"siteId"`
	TenantID    string         `json:"tenantId"`
	GeneratedAt time.Time      `json:"generatedAt"`
	Pages       []ManifestPage `json:"pages"`
	Assets      []string       `json:"assets"`
	TotalSize   int64          `json:"totalSize"`
	Checksum    string         `json:"checksum"`
}

// checksum is SHA-256 over the concatenated page hashes in page order.
func checksum(pages []ManifestPage) string {
	var b strings.Builder
	for _, p := range pages {
		b.WriteString(p.Hash)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// PagePathToFile maps a page path to its artifact file name:
// "/" -> "index.html", "/a/b" -> "a/b/index.html".
func PagePathToFile(path string) string {
	if path == "/" || path == "" {
		return "index.html"
	}
	return strings.TrimPrefix(path, "/") + "/index.html"
}
