// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package render turns structured page content into standalone HTML5
// documents. Rendering is a pure function: identical inputs produce
// byte-identical output, which the build engine relies on for content hashes.
package render

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Schema violations surfaced to API clients as VALIDATION_ERROR.
var (
	ErrInvalidSettings = errors.New("invalid site settings")
	ErrInvalidContent  = errors.New("invalid page content")
)

// Site is the subset of site data the renderer needs.
type Site struct {
	Name     string
	Settings Settings
}

// Page is the renderer's view of one page.
type Page struct {
	Path           string
	Title          string
	SEOTitle       *string
	SEODescription *string
	Content        json.RawMessage
}

// Settings carries per-site presentation configuration.
type Settings struct {
	Theme      Theme     `json:"theme"`
	Navigation []NavItem `json:"navigation"`
	Footer     *Footer   `json:"footer"`
}

type Theme struct {
	Colors Colors `json:"colors"`
	Fonts  Fonts  `json:"fonts"`
}

type Colors struct {
	Primary    string `json:"primary"`
	Secondary  string `json:"secondary"`
	Background string `json:"background"`
	Text       string `json:"text"`
}

type Fonts struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

type NavItem struct {
	Label string `json:"label"`
	Path  string `json:"path"`
}

type Footer struct {
	Text  string    `json:"text"`
	Links []NavLink `json:"links"`
}

type NavLink struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

// ParseSettings decodes site settings, filling theme defaults for anything
// unset so the emitted CSS custom properties are always complete.
func ParseSettings(raw []byte) (Settings, error) {
	var s Settings
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s); err != nil {
			return Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
	}
	applyDefault(&s.Theme.Colors.Primary, "#2563eb")
	applyDefault(&s.Theme.Colors.Secondary, "#7c3aed")
	applyDefault(&s.Theme.Colors.Background, "#ffffff")
	applyDefault(&s.Theme.Colors.Text, "#111827")
	applyDefault(&s.Theme.Fonts.Heading, "Georgia, serif")
	applyDefault(&s.Theme.Fonts.Body, "system-ui, sans-serif")
	return s, nil
}

func applyDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// PageContent is the ordered section list of a page.
type PageContent struct {
	Sections []json.RawMessage `json:"sections"`
}

// ValidateContent checks that page content is an ordered list of well-formed
// sections. Content is validated here at write time; the build pipeline only
// ever renders documents that passed.
func ValidateContent(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var content PageContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	for i, section := range content.Sections {
		if err := validateSection(section); err != nil {
			return fmt.Errorf("%w: sections[%d]: %v", ErrInvalidContent, i, err)
		}
	}
	return nil
}

func validateSection(raw json.RawMessage) error {
	switch kind := sectionType(raw); kind {
	case "hero":
		var s heroSection
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		if s.Heading == "" {
			return errors.New("hero section requires heading")
		}
	case "text":
		var s textSection
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		if s.Body == "" {
			return errors.New("text section requires body")
		}
	case "features":
		var s featuresSection
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		for j, item := range s.Items {
			if item.Title == "" {
				return fmt.Errorf("features item %d requires title", j)
			}
		}
	case "cards":
		var s cardsSection
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		for j, item := range s.Items {
			if item.Title == "" {
				return fmt.Errorf("cards item %d requires title", j)
			}
		}
	case "image":
		var s imageSection
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		if s.Src == "" {
			return errors.New("image section requires src")
		}
	case "cta":
		var s ctaSection
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		if s.Heading == "" || s.ButtonText == "" || s.ButtonLink == "" {
			return errors.New("cta section requires heading, buttonText and buttonLink")
		}
	case "":
		return errors.New("section is missing its type tag")
	default:
		return fmt.Errorf("unknown section type %q", kind)
	}
	return nil
}

// sectionType peeks at the tag of one section variant.
func sectionType(raw json.RawMessage) string {
	var tag struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw, &tag)
	return tag.Type
}

// Section variants. Props sit flat beside the type tag.

type heroSection struct {
	Heading         string `json:"heading"`
	Subheading      string `json:"subheading"`
	CTAText         string `json:"ctaText"`
	CTALink         string `json:"ctaLink"`
	BackgroundImage string `json:"backgroundImage"`
	Alignment       string `json:"alignment"`
}

type textSection struct {
	Heading   string `json:"heading"`
	Body      string `json:"body"`
	Alignment string `json:"alignment"`
}

type featuresSection struct {
	Heading string        `json:"heading"`
	Columns int           `json:"columns"`
	Items   []featureItem `json:"items"`
}

type featureItem struct {
	Icon        string `json:"icon"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type cardsSection struct {
	Heading string     `json:"heading"`
	Columns int        `json:"columns"`
	Items   []cardItem `json:"items"`
}

type cardItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Link        string `json:"link"`
}

type imageSection struct {
	Src       string `json:"src"`
	Alt       string `json:"alt"`
	Caption   string `json:"caption"`
	FullWidth bool   `json:"fullWidth"`
}

type ctaSection struct {
	Heading     string `json:"heading"`
	Description string `json:"description"`
	ButtonText  string `json:"buttonText"`
	ButtonLink  string `json:"buttonLink"`
	Variant     string `json:"variant"`
}
