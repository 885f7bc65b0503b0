// Package textextract pulls readable article text out of raw HTML. It is a
// heuristic reduction: page chrome is stripped, the most article-like
// container is chosen, and block-level text is joined into paragraphs. A
// minimum-length rule rejects pages that yielded no real article.
package textextract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Elements that never contribute article text.
const noiseSelector = "script, style, noscript, template, svg, nav, header, footer, aside, form, button"

// Containers tried in preference order; the first one holding enough text
// wins, with the whole body as the last resort.
var containerSelectors = []string{
	"article",
	"main",
	"[role='main']",
	"[itemprop='articleBody']",
	".article-body",
	".entry-content",
	".post-content",
	"#content",
	".content",
	"body",
}

const blockSelector = "p, h1, h2, h3, h4, h5, h6, li, blockquote, figcaption"

// DefaultMinChars matches the smallest text still considered an article.
const DefaultMinChars = 50

// Extractor reduces HTML to readable text.
type Extractor struct {
	minChars int
	logger   *zap.Logger
}

// New creates an Extractor. A non-positive minChars falls back to
// DefaultMinChars.
func New(minChars int, logger *zap.Logger) *Extractor {
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	return &Extractor{minChars: minChars, logger: logger.Named("textextract")}
}

// ReadableText extracts the article text from html. It fails when the HTML
// cannot be parsed, when no text is found, or when the text is shorter than
// the minimum.
func (e *Extractor) ReadableText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find(noiseSelector).Remove()

	text := ""
	for _, selector := range containerSelectors {
		container := doc.Find(selector).First()
		if container.Length() == 0 {
			continue
		}
		candidate := blockText(container)
		if utf8.RuneCountInString(candidate) >= e.minChars {
			text = candidate
			e.logger.Debug("article container selected", zap.String("selector", selector))
			break
		}
		if len(candidate) > len(text) {
			text = candidate
		}
	}

	if text == "" {
		return "", fmt.Errorf("no readable text found")
	}
	if n := utf8.RuneCountInString(text); n < e.minChars {
		return "", fmt.Errorf("insufficient article content (minimum %d characters required, got %d)", e.minChars, n)
	}
	return text, nil
}

// blockText joins the text of top-level block elements with blank lines.
// Blocks nested inside other blocks are skipped so nothing is counted
// twice. A container without block children contributes its own text.
func blockText(s *goquery.Selection) string {
	var parts []string
	s.Find(blockSelector).Each(func(_ int, block *goquery.Selection) {
		if block.ParentsFiltered(blockSelector).Length() > 0 {
			return
		}
		if t := collapse(block.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		if t := collapse(s.Text()); t != "" {
			return t
		}
		return ""
	}
	return strings.Join(parts, "\n\n")
}

// collapse trims and squeezes runs of whitespace into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
