package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var errStaticInteraction = errors.New("static document does not support interaction")

// StaticDocument is a Document over raw HTML, backed by a goquery parse
// tree. It serves archive snapshots and tests; it cannot execute scripts,
// so click operations report failure and removal mutates only the parse
// tree. Not safe for concurrent use, matching the one-worker-per-document
// ownership rule.
type StaticDocument struct {
	url string
	doc *goquery.Document
}

// NewStaticDocument parses raw HTML into a StaticDocument.
func NewStaticDocument(url, html string) (*StaticDocument, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &StaticDocument{url: url, doc: doc}, nil
}

// URL reports the location the HTML was loaded from.
func (d *StaticDocument) URL() string { return d.url }

// Count returns how many elements match the selector. Selectors cascadia
// cannot compile match nothing.
func (d *StaticDocument) Count(_ context.Context, selector string) (int, error) {
	return d.doc.Find(selector).Length(), nil
}

// Text returns the text content of the first match, "" when none.
func (d *StaticDocument) Text(_ context.Context, selector string) (string, error) {
	return d.doc.Find(selector).First().Text(), nil
}

// Attr returns the named attribute of the first match, "" when absent.
func (d *StaticDocument) Attr(_ context.Context, selector, name string) (string, error) {
	value, _ := d.doc.Find(selector).First().Attr(name)
	return value, nil
}

// ClickFirst always fails: static documents cannot run event handlers.
func (d *StaticDocument) ClickFirst(_ context.Context, _ string) error {
	return errStaticInteraction
}

// ClickByText always reports nothing clicked.
func (d *StaticDocument) ClickByText(_ context.Context, _, _ string) (bool, error) {
	return false, errStaticInteraction
}

// RemoveAll deletes every match from the parse tree.
func (d *StaticDocument) RemoveAll(_ context.Context, selector string) (int, error) {
	sel := d.doc.Find(selector)
	n := sel.Length()
	if n > 0 {
		sel.Remove()
	}
	return n, nil
}

// BodyText returns the text content of the page body.
func (d *StaticDocument) BodyText(_ context.Context) (string, error) {
	body := d.doc.Find("body")
	if body.Length() == 0 {
		return d.doc.Text(), nil
	}
	return body.Text(), nil
}

// FrameURLs lists the src attributes of embedded frames.
func (d *StaticDocument) FrameURLs(_ context.Context) ([]string, error) {
	var urls []string
	d.doc.Find("iframe[src], frame[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			urls = append(urls, src)
		}
	})
	return urls, nil
}

// HTML returns the document's current markup, reflecting any removals.
func (d *StaticDocument) HTML(_ context.Context) (string, error) {
	html, err := d.doc.Html()
	if err != nil {
		return "", fmt.Errorf("serialize html: %w", err)
	}
	return html, nil
}

// Close is a no-op; nothing is held beyond the parse tree.
func (d *StaticDocument) Close() error { return nil }
