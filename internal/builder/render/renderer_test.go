// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSite() Site {
	settings, _ := ParseSettings(nil)
	settings.Navigation = []NavItem{
		{Label: "Home", Path: "/"},
		{Label: "About", Path: "/about"},
	}
	settings.Footer = &Footer{
		Text:  "© Acme",
		Links: []NavLink{{Label: "Privacy", Href: "/privacy"}},
	}
	return Site{Name: "Acme Docs", Settings: settings}
}

func TestParseSettingsDefaults(t *testing.T) {
	s, err := ParseSettings(nil)
	require.NoError(t, err)
	assert.Equal(t, "#2563eb", s.Theme.Colors.Primary)
	assert.Equal(t, "#7c3aed", s.Theme.Colors.Secondary)
	assert.Equal(t, "#ffffff", s.Theme.Colors.Background)
	assert.Equal(t, "#111827", s.Theme.Colors.Text)
	assert.Equal(t, "Georgia, serif", s.Theme.Fonts.Heading)
	assert.Equal(t, "system-ui, sans-serif", s.Theme.Fonts.Body)
}

func TestParseSettingsPartialOverride(t *testing.T) {
	s, err := ParseSettings([]byte(`{"theme": {"colors": {"primary": "#ff0000"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "#ff0000", s.Theme.Colors.Primary)
	assert.Equal(t, "#7c3aed", s.Theme.Colors.Secondary)
}

func TestParseSettingsInvalidJSON(t *testing.T) {
	_, err := ParseSettings([]byte(`{broken`))
	require.Error(t, err)
}

func TestValidateContent(t *testing.T) {
	valid := []string{
		"",
		`{"sections": []}`,
		`{"sections": [{"type": "hero", "heading": "Big"}]}`,
		`{"sections": [{"type": "text", "body": "Prose"}]}`,
		`{"sections": [{"type": "features", "items": [{"title": "Fast"}]}]}`,
		`{"sections": [{"type": "cards", "items": []}]}`,
		`{"sections": [{"type": "image", "src": "/pic.png"}]}`,
		`{"sections": [{"type": "cta", "heading": "Go", "buttonText": "Now", "buttonLink": "/now"}]}`,
	}
	for _, raw := range valid {
		assert.NoError(t, ValidateContent(json.RawMessage(raw)), raw)
	}

	invalid := map[string]string{
		"not json":             `{"sections": [`,
		"sections not a list":  `{"sections": "nope"}`,
		"missing type tag":     `{"sections": [{"heading": "Big"}]}`,
		"unknown section type": `{"sections": [{"type": "carousel"}]}`,
		"hero without heading": `{"sections": [{"type": "hero", "subheading": "Small"}]}`,
		"text without body":    `{"sections": [{"type": "text", "heading": "Intro"}]}`,
		"untitled feature":     `{"sections": [{"type": "features", "items": [{"title": "A"}, {"icon": "x"}]}]}`,
		"untitled card":        `{"sections": [{"type": "cards", "items": [{"description": "B"}]}]}`,
		"image without src":    `{"sections": [{"type": "image", "alt": "A pic"}]}`,
		"partial cta":          `{"sections": [{"type": "cta", "heading": "Go"}]}`,
	}
	for name, raw := range invalid {
		err := ValidateContent(json.RawMessage(raw))
		require.ErrorIs(t, err, ErrInvalidContent, name)
	}

	// Errors name the offending section.
	err := ValidateContent(json.RawMessage(`{"sections": [{"type": "text", "body": "ok"}, {"type": "image"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sections[1]")
}

func TestParseSettingsErrorIsClassified(t *testing.T) {
	_, err := ParseSettings([]byte(`{broken`))
	require.ErrorIs(t, err, ErrInvalidSettings)
}

func TestRenderDocumentSkeleton(t *testing.T) {
	html, err := Render(testSite(), Page{
		Path:    "/",
		Title:   "Welcome",
		Content: json.RawMessage(`{"sections": [{"type": "text", "heading": "Hello", "body": "World"}]}`),
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, `<html lang="en">`)
	assert.Contains(t, html, `<meta charset="utf-8">`)
	assert.Contains(t, html, "<title>Welcome</title>")
	assert.Contains(t, html, `<meta property="og:title" content="Welcome">`)
	assert.Contains(t, html, "--color-primary:#2563eb;")
	assert.Contains(t, html, "--font-heading:Georgia, serif;")
	assert.Contains(t, html, "<h2>Hello</h2>")
}

func TestRenderSEOFieldsWinOverTitle(t *testing.T) {
	seoTitle := "SEO Title"
	seoDesc := "A fine description"
	html, err := Render(testSite(), Page{
		Path:           "/about",
		Title:          "About",
		SEOTitle:       &seoTitle,
		SEODescription: &seoDesc,
	})
	require.NoError(t, err)

	assert.Contains(t, html, "<title>SEO Title</title>")
	assert.Contains(t, html, `<meta name="description" content="A fine description">`)
	assert.NotContains(t, html, "<title>About</title>")
}

func TestRenderNavMarksActivePath(t *testing.T) {
	html, err := Render(testSite(), Page{Path: "/about", Title: "About"})
	require.NoError(t, err)

	assert.Contains(t, html, `<a href="/about" class="active">About</a>`)
	assert.Contains(t, html, `<a href="/">Home</a>`)
}

func TestRenderFooter(t *testing.T) {
	html, err := Render(testSite(), Page{Path: "/", Title: "Home"})
	require.NoError(t, err)
	assert.Contains(t, html, "<p>© Acme</p>")
	assert.Contains(t, html, `<a href="/privacy">Privacy</a>`)

	site := testSite()
	site.Settings.Footer = nil
	html, err = Render(site, Page{Path: "/", Title: "Home"})
	require.NoError(t, err)
	assert.NotContains(t, html, "<footer>")
}

func TestRenderEscapesUserContent(t *testing.T) {
	html, err := Render(testSite(), Page{
		Path:  "/",
		Title: `<script>alert("x")</script>`,
		Content: json.RawMessage(`{"sections": [
			{"type": "text", "heading": "<img onerror=1>", "body": "a & b < c"}
		]}`),
	})
	require.NoError(t, err)

	assert.NotContains(t, html, `<script>alert`)
	assert.Contains(t, html, "&lt;script&gt;")
	assert.Contains(t, html, "&lt;img onerror=1&gt;")
	assert.Contains(t, html, "a &amp; b &lt; c")
}

func TestRenderSectionVariants(t *testing.T) {
	html, err := Render(testSite(), Page{
		Path:  "/",
		Title: "Everything",
		Content: json.RawMessage(`{"sections": [
			{"type": "hero", "heading": "Big", "subheading": "Small", "ctaText": "Go", "ctaLink": "/go", "alignment": "left"},
			{"type": "features", "heading": "Why", "columns": 2, "items": [
				{"icon": "rocket", "title": "Fast", "description": "Very"},
				{"icon": "mystery", "title": "Odd", "description": "Icon"}
			]},
			{"type": "cards", "columns": 4, "items": [{"title": "Card", "description": "Text", "image": "/img.png", "link": "/more"}]},
			{"type": "image", "src": "/pic.png", "alt": "A pic", "caption": "Caption", "fullWidth": true},
			{"type": "cta", "heading": "Do it", "buttonText": "Now", "buttonLink": "/now", "variant": "outline"}
		]}`),
	})
	require.NoError(t, err)

	assert.Contains(t, html, `<section class="hero align-left">`)
	assert.Contains(t, html, "<h1>Big</h1>")
	assert.Contains(t, html, `<a class="btn btn-primary" href="/go">Go</a>`)

	assert.Contains(t, html, `<div class="grid cols-2">`)
	assert.Contains(t, html, "🚀")
	// Unknown icon names fall back to the default marker.
	assert.Contains(t, html, "🔹")

	assert.Contains(t, html, `<div class="grid cols-4">`)
	assert.Contains(t, html, `<a href="/more">Learn more</a>`)

	assert.Contains(t, html, `<figure class="full-width">`)
	assert.Contains(t, html, "<figcaption>Caption</figcaption>")

	assert.Contains(t, html, `<a class="btn btn-outline" href="/now">Now</a>`)
}

func TestRenderHeroBackgroundImage(t *testing.T) {
	html, err := Render(testSite(), Page{
		Path:  "/",
		Title: "Hero",
		Content: json.RawMessage(`{"sections": [
			{"type": "hero", "heading": "Big", "backgroundImage": "/bg.jpg"}
		]}`),
	})
	require.NoError(t, err)
	assert.Contains(t, html, `style="background-image:url('/bg.jpg')"`)
	// Default alignment is center.
	assert.Contains(t, html, `<section class="hero align-center"`)
}

func TestRenderUnknownSectionBecomesComment(t *testing.T) {
	html, err := Render(testSite(), Page{
		Path:  "/",
		Title: "Odd",
		Content: json.RawMessage(`{"sections": [
			{"type": "carousel<script>", "items": []}
		]}`),
	})
	require.NoError(t, err)
	assert.Contains(t, html, "<!-- unknown section type: carousel&lt;script&gt; -->")
}

func TestRenderInvalidContentErrors(t *testing.T) {
	_, err := Render(testSite(), Page{
		Path:    "/",
		Title:   "Broken",
		Content: json.RawMessage(`{"sections": "not-a-list"}`),
	})
	require.Error(t, err)
}

func TestRenderIsDeterministic(t *testing.T) {
	page := Page{
		Path:  "/",
		Title: "Stable",
		Content: json.RawMessage(`{"sections": [
			{"type": "features", "items": [{"icon": "check", "title": "A", "description": "B"}]}
		]}`),
	}
	first, err := Render(testSite(), page)
	require.NoError(t, err)
	second, err := Render(testSite(), page)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRender404(t *testing.T) {
	html, err := Render404(testSite())
	require.NoError(t, err)
	assert.Contains(t, html, "<title>404 — Acme Docs</title>")
	assert.Contains(t, html, "Page not found")
	// The 404 document carries the site chrome.
	assert.Contains(t, html, "<nav>")
}

func TestColumnClassClamping(t *testing.T) {
	assert.Equal(t, "cols-2", colsClass(2))
	assert.Equal(t, "cols-3", colsClass(0))
	assert.Equal(t, "cols-3", colsClass(7))
	assert.Equal(t, "cols-4", colsClass(4))
}
