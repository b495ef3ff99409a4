// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// iconEmoji maps known icon names to emoji. Unknown names fall back to
// defaultIcon.
var iconEmoji = map[string]string{
	"code":     "💻",
	"palette":  "🎨",
	"rocket":   "🚀",
	"star":     "⭐",
	"shield":   "🛡️",
	"zap":      "⚡",
	"heart":    "❤️",
	"globe":    "🌐",
	"mail":     "✉️",
	"phone":    "📞",
	"settings": "⚙️",
	"check":    "✅",
	"chart":    "📊",
	"lock":     "🔒",
	"cloud":    "☁️",
	"users":    "👥",
}

const defaultIcon = "🔹"

func icon(name string) string {
	if e, ok := iconEmoji[name]; ok {
		return e
	}
	return defaultIcon
}

// esc escapes user-supplied text for HTML. Every string that originates from
// page or site data goes through here.
func esc(s string) string {
	return html.EscapeString(s)
}

// Render produces the full HTML5 document for one page.
func Render(site Site, page Page) (string, error) {
	var content PageContent
	if len(page.Content) > 0 {
		if err := json.Unmarshal(page.Content, &content); err != nil {
			return "", fmt.Errorf("invalid page content for %s: %w", page.Path, err)
		}
	}

	title := page.Title
	if page.SEOTitle != nil && *page.SEOTitle != "" {
		title = *page.SEOTitle
	}
	description := ""
	if page.SEODescription != nil {
		description = *page.SEODescription
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n")
	b.WriteString("<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", esc(title))
	fmt.Fprintf(&b, "<meta name=\"description\" content=\"%s\">\n", esc(description))
	fmt.Fprintf(&b, "<meta property=\"og:title\" content=\"%s\">\n", esc(title))
	fmt.Fprintf(&b, "<meta property=\"og:description\" content=\"%s\">\n", esc(description))
	b.WriteString("<meta property=\"og:type\" content=\"website\">\n")
	writeStyles(&b, site.Settings.Theme)
	b.WriteString("</head>\n<body>\n")

	writeNav(&b, site, page.Path)
	b.WriteString("<main>\n")
	for _, raw := range content.Sections {
		if err := writeSection(&b, raw); err != nil {
			return "", err
		}
	}
	b.WriteString("</main>\n")
	writeFooter(&b, site.Settings.Footer)

	b.WriteString("</body>\n</html>\n")
	return b.String(), nil
}

// Render404 produces the shared not-found document for a site.
func Render404(site Site) (string, error) {
	body := json.RawMessage(`{"sections":[{"type":"text","heading":"Page not found","body":"The page you are looking for does not exist.","alignment":"center"}]}`)
	return Render(site, Page{
		Path:    "/404",
		Title:   "404 — " + site.Name,
		Content: body,
	})
}

func writeStyles(b *strings.Builder, theme Theme) {
	b.WriteString("<style>\n:root{")
	fmt.Fprintf(b, "--color-primary:%s;", esc(theme.Colors.Primary))
	fmt.Fprintf(b, "--color-secondary:%s;", esc(theme.Colors.Secondary))
	fmt.Fprintf(b, "--color-bg:%s;", esc(theme.Colors.Background))
	fmt.Fprintf(b, "--color-text:%s;", esc(theme.Colors.Text))
	fmt.Fprintf(b, "--font-heading:%s;", esc(theme.Fonts.Heading))
	fmt.Fprintf(b, "--font-body:%s;", esc(theme.Fonts.Body))
	b.WriteString("}\n")
	b.WriteString(`body{margin:0;background:var(--color-bg);color:var(--color-text);font-family:var(--font-body)}
h1,h2,h3{font-family:var(--font-heading)}
nav{display:flex;gap:1rem;padding:1rem 2rem;border-bottom:1px solid #e5e7eb}
nav a{color:var(--color-text);text-decoration:none}
nav a.active{color:var(--color-primary);font-weight:bold}
main section{padding:3rem 2rem}
.align-left{text-align:left}.align-center{text-align:center}.align-right{text-align:right}
.hero{padding:5rem 2rem;background-size:cover;background-position:center}
.btn{display:inline-block;padding:.75rem 1.5rem;border-radius:.375rem;text-decoration:none}
.btn-primary{background:var(--color-primary);color:#fff}
.btn-secondary{background:var(--color-secondary);color:#fff}
.btn-outline{border:2px solid var(--color-primary);color:var(--color-primary)}
.grid{display:grid;gap:1.5rem}
.cols-2{grid-template-columns:repeat(2,1fr)}
.cols-3{grid-template-columns:repeat(3,1fr)}
.cols-4{grid-template-columns:repeat(4,1fr)}
figure.full-width{margin:0}figure.full-width img{width:100%}
img{max-width:100%}
footer{padding:2rem;border-top:1px solid #e5e7eb}
footer a{color:var(--color-primary);margin-right:1rem}
@media(max-width:768px){.cols-3,.cols-4{grid-template-columns:repeat(2,1fr)}}
@media(max-width:480px){.cols-2,.cols-3,.cols-4{grid-template-columns:1fr}}
`)
	b.WriteString("</style>\n")
}

func writeNav(b *strings.Builder, site Site, currentPath string) {
	b.WriteString("<nav>\n")
	fmt.Fprintf(b, "<strong>%s</strong>\n", esc(site.Name))
	for _, item := range site.Settings.Navigation {
		class := ""
		if item.Path == currentPath {
			class = " class=\"active\""
		}
		fmt.Fprintf(b, "<a href=\"%s\"%s>%s</a>\n", esc(item.Path), class, esc(item.Label))
	}
	b.WriteString("</nav>\n")
}

func writeFooter(b *strings.Builder, footer *Footer) {
	if footer == nil {
		return
	}
	b.WriteString("<footer>\n")
	if footer.Text != "" {
		fmt.Fprintf(b, "<p>%s</p>\n", esc(footer.Text))
	}
	for _, link := range footer.Links {
		fmt.Fprintf(b, "<a href=\"%s\">%s</a>\n", esc(link.Href), esc(link.Label))
	}
	b.WriteString("</footer>\n")
}

func writeSection(b *strings.Builder, raw json.RawMessage) error {
	switch kind := sectionType(raw); kind {
	case "hero":
		var s heroSection
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("invalid hero section: %w", err)
		}
		style := ""
		if s.BackgroundImage != "" {
			style = fmt.Sprintf(" style=\"background-image:url('%s')\"", esc(s.BackgroundImage))
		}
		fmt.Fprintf(b, "<section class=\"hero %s\"%s>\n", alignClass(s.Alignment), style)
		fmt.Fprintf(b, "<h1>%s</h1>\n", esc(s.Heading))
		if s.Subheading != "" {
			fmt.Fprintf(b, "<p>%s</p>\n", esc(s.Subheading))
		}
		if s.CTAText != "" && s.CTALink != "" {
			fmt.Fprintf(b, "<a class=\"btn btn-primary\" href=\"%s\">%s</a>\n", esc(s.CTALink), esc(s.CTAText))
		}
		b.WriteString("</section>\n")

	case "text":
		var s textSection
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("invalid text section: %w", err)
		}
		fmt.Fprintf(b, "<section class=\"text %s\">\n", alignClass(s.Alignment))
		if s.Heading != "" {
			fmt.Fprintf(b, "<h2>%s</h2>\n", esc(s.Heading))
		}
		fmt.Fprintf(b, "<p>%s</p>\n", esc(s.Body))
		b.WriteString("</section>\n")

	case "features":
		var s featuresSection
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("invalid features section: %w", err)
		}
		b.WriteString("<section class=\"features\">\n")
		if s.Heading != "" {
			fmt.Fprintf(b, "<h2>%s</h2>\n", esc(s.Heading))
		}
		fmt.Fprintf(b, "<div class=\"grid %s\">\n", colsClass(s.Columns))
		for _, item := range s.Items {
			b.WriteString("<div class=\"feature\">\n")
			fmt.Fprintf(b, "<span class=\"icon\">%s</span>\n", icon(item.Icon))
			fmt.Fprintf(b, "<h3>%s</h3>\n", esc(item.Title))
			fmt.Fprintf(b, "<p>%s</p>\n", esc(item.Description))
			b.WriteString("</div>\n")
		}
		b.WriteString("</div>\n</section>\n")

	case "cards":
		var s cardsSection
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("invalid cards section: %w", err)
		}
		b.WriteString("<section class=\"cards\">\n")
		if s.Heading != "" {
			fmt.Fprintf(b, "<h2>%s</h2>\n", esc(s.Heading))
		}
		fmt.Fprintf(b, "<div class=\"grid %s\">\n", colsClass(s.Columns))
		for _, item := range s.Items {
			b.WriteString("<div class=\"card\">\n")
			if item.Image != "" {
				fmt.Fprintf(b, "<img src=\"%s\" alt=\"%s\">\n", esc(item.Image), esc(item.Title))
			}
			fmt.Fprintf(b, "<h3>%s</h3>\n", esc(item.Title))
			fmt.Fprintf(b, "<p>%s</p>\n", esc(item.Description))
			if item.Link != "" {
				fmt.Fprintf(b, "<a href=\"%s\">Learn more</a>\n", esc(item.Link))
			}
			b.WriteString("</div>\n")
		}
		b.WriteString("</div>\n</section>\n")

	case "image":
		var s imageSection
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("invalid image section: %w", err)
		}
		class := "image"
		if s.FullWidth {
			class += " full-width"
		}
		fmt.Fprintf(b, "<section class=\"%s\">\n<figure", class)
		if s.FullWidth {
			b.WriteString(" class=\"full-width\"")
		}
		b.WriteString(">\n")
		fmt.Fprintf(b, "<img src=\"%s\" alt=\"%s\">\n", esc(s.Src), esc(s.Alt))
		if s.Caption != "" {
			fmt.Fprintf(b, "<figcaption>%s</figcaption>\n", esc(s.Caption))
		}
		b.WriteString("</figure>\n</section>\n")

	case "cta":
		var s ctaSection
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("invalid cta section: %w", err)
		}
		b.WriteString("<section class=\"cta align-center\">\n")
		fmt.Fprintf(b, "<h2>%s</h2>\n", esc(s.Heading))
		if s.Description != "" {
			fmt.Fprintf(b, "<p>%s</p>\n", esc(s.Description))
		}
		fmt.Fprintf(b, "<a class=\"btn %s\" href=\"%s\">%s</a>\n",
			buttonClass(s.Variant), esc(s.ButtonLink), esc(s.ButtonText))
		b.WriteString("</section>\n")

	default:
		// Unknown variants stay visible so authors notice them.
		fmt.Fprintf(b, "<!-- unknown section type: %s -->\n", esc(kind))
	}
	return nil
}

func alignClass(alignment string) string {
	switch alignment {
	case "left":
		return "align-left"
	case "right":
		return "align-right"
	default:
		return "align-center"
	}
}

func colsClass(columns int) string {
	switch columns {
	case 2:
		return "cols-2"
	case 4:
		return "cols-4"
	default:
		return "cols-3"
	}
}

func buttonClass(variant string) string {
	switch variant {
	case "secondary":
		return "btn-secondary"
	case "outline":
		return "btn-outline"
	default:
		return "btn-primary"
	}
}
