// Package extract implements the ordered extraction-with-fallback engine.
// Each requested field tries the caller's selector first, then a fixed
// fallback list keyed by the field's semantic type, and resolves to the
// empty string when everything misses. Empty fields are normal results,
// never errors.
package extract

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pagesift/pagesift/internal/scrape"
)

// fallbacks maps semantic field types to ordered alternate selectors, tried
// only after the caller's own selector misses. Field names outside this
// table get no fallbacks.
var fallbacks = map[string][]string{
	"title": {
		"h1",
		".article-title",
		".entry-title",
		".post-title",
		"[itemprop='headline']",
		"meta[property='og:title']",
	},
	"content": {
		"article",
		"main",
		".article-body",
		".entry-content",
		".post-content",
		"[role='main']",
		"[itemprop='articleBody']",
	},
	"author": {
		".author",
		".author-name",
		"[rel='author']",
		"[itemprop='author']",
		"meta[name='author']",
	},
	"date": {
		"time",
		".published-date",
		".post-date",
		"[itemprop='datePublished']",
		"meta[property='article:published_time']",
	},
	"description": {
		".excerpt",
		".description",
		".summary",
		"meta[name='description']",
		"meta[property='og:description']",
	},
}

// Auto-mode selectors, used when the caller supplies no strategies.
const (
	autoTitleSelector   = "h1"
	autoContentSelector = "article, main"
)

// Engine runs extraction strategies against a document.
type Engine struct {
	logger *zap.Logger
}

// New creates an Engine.
func New(logger *zap.Logger) *Engine {
	return &Engine{logger: logger.Named("extract")}
}

// Extract produces one ExtractedField per requested field. With an empty
// strategy map it switches to auto mode (title and content heuristics).
// Individual selector failures are absorbed as misses; the returned error is
// non-nil only when the document itself is inaccessible.
func (e *Engine) Extract(ctx context.Context, doc scrape.Document, strategies map[string]scrape.FieldStrategy) (map[string]scrape.ExtractedField, error) {
	// A document that cannot answer the cheapest possible query is gone
	// (closed tab, crashed renderer); per-field absorption would just turn
	// that into silently-empty results.
	if _, err := doc.Count(ctx, "html"); err != nil {
		return nil, fmt.Errorf("document inaccessible: %w", err)
	}

	if len(strategies) == 0 {
		return e.extractAuto(ctx, doc), nil
	}

	fields := make(map[string]scrape.ExtractedField, len(strategies))
	for name, strategy := range strategies {
		fields[name] = e.extractField(ctx, doc, name, strategy)
	}
	return fields, nil
}

func (e *Engine) extractField(ctx context.Context, doc scrape.Document, name string, strategy scrape.FieldStrategy) scrape.ExtractedField {
	// An unrecognized strategy kind disables the primary selector; the
	// field still gets its semantic fallbacks.
	kindKnown := strategy.Kind == scrape.StrategyCSS || strategy.Kind == ""
	if kindKnown && strategy.Selector != "" {
		if field, ok := e.read(ctx, doc, strategy.Selector, scrape.SourcePrimary); ok {
			e.logger.Debug("field extracted",
				zap.String("field", name), zap.String("source", string(field.Source)))
			return field
		}
	}

	for i, selector := range fallbacks[strings.ToLower(name)] {
		if field, ok := e.read(ctx, doc, selector, scrape.FallbackSource(i)); ok {
			e.logger.Debug("field extracted via fallback",
				zap.String("field", name), zap.String("selector", selector))
			return field
		}
	}

	return scrape.ExtractedField{Value: "", Source: scrape.SourceNone}
}

func (e *Engine) extractAuto(ctx context.Context, doc scrape.Document) map[string]scrape.ExtractedField {
	fields := map[string]scrape.ExtractedField{
		"title":   {Value: "", Source: scrape.SourceNone},
		"content": {Value: "", Source: scrape.SourceNone},
	}
	if field, ok := e.read(ctx, doc, autoTitleSelector, scrape.SourceAuto); ok {
		fields["title"] = field
	}
	if field, ok := e.read(ctx, doc, autoContentSelector, scrape.SourceAuto); ok {
		fields["content"] = field
	}
	return fields
}

// read tries a single selector. Meta tags yield their content attribute and
// report the meta_tag source regardless of which tier supplied the
// selector. A whitespace-only value counts as a miss so a later option can
// still win.
func (e *Engine) read(ctx context.Context, doc scrape.Document, selector string, source scrape.FieldSource) (scrape.ExtractedField, bool) {
	var (
		value string
		err   error
	)
	if strings.HasPrefix(selector, "meta") {
		value, err = doc.Attr(ctx, selector, "content")
		source = scrape.SourceMeta
	} else {
		value, err = doc.Text(ctx, selector)
	}
	if err != nil {
		e.logger.Debug("selector failed", zap.String("selector", selector), zap.Error(err))
		return scrape.ExtractedField{}, false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return scrape.ExtractedField{}, false
	}
	return scrape.ExtractedField{Value: value, Source: source}, true
}
