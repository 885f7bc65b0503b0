package scrape

import (
	"context"
	"errors"
	"time"
)

// Document is a handle on a loaded page, exclusively owned by the single
// worker processing the job. Selector queries address the first match in
// document order unless noted otherwise. Implementations: a live browser tab
// and a static parse of raw HTML.
type Document interface {
	// URL reports the document's final location (after redirects).
	URL() string
	// Count returns how many elements match the selector.
	Count(ctx context.Context, selector string) (int, error)
	// Text returns the text content of the first match, "" when none.
	Text(ctx context.Context, selector string) (string, error)
	// Attr returns the named attribute of the first match, "" when the
	// element or attribute is absent.
	Attr(ctx context.Context, selector, name string) (string, error)
	// ClickFirst triggers the first element matching the selector.
	ClickFirst(ctx context.Context, selector string) error
	// ClickByText triggers the first element matching the selector whose text
	// contains phrase (case-insensitive). Reports whether anything was clicked.
	ClickByText(ctx context.Context, selector, phrase string) (bool, error)
	// RemoveAll deletes every element matching the selector and returns how
	// many were removed.
	RemoveAll(ctx context.Context, selector string) (int, error)
	// BodyText returns the text content of the whole page body.
	BodyText(ctx context.Context) (string, error)
	// FrameURLs lists the source URLs of embedded frames.
	FrameURLs(ctx context.Context) ([]string, error)
	// HTML returns the document's current markup.
	HTML(ctx context.Context) (string, error)
	// Close releases the handle and any browser resources behind it.
	Close() error
}

// DocumentFetcher acquires a rendered document for a URL. Acquire may block
// for the full page-load duration; that wait is bounded only by ctx and the
// fetcher's own navigation budget, never by the worker pool.
type DocumentFetcher interface {
	Acquire(ctx context.Context, url string) (Document, error)
}

// Snapshot is an archived copy of a page.
type Snapshot struct {
	URL  string
	HTML string
}

// Archiver resolves a target URL to an archived snapshot, creating one when
// none exists. Errors wrap ErrSnapshotTimeout or ErrSnapshotFailed so
// callers can classify without reading message text.
type Archiver interface {
	Snapshot(ctx context.Context, url string, force bool) (Snapshot, error)
}

// Archive capability failure classes.
var (
	ErrSnapshotTimeout = errors.New("snapshot request timed out")
	ErrSnapshotFailed  = errors.New("snapshot request failed")
)

// TextExtractor pulls the readable article text out of raw HTML.
type TextExtractor interface {
	ReadableText(html string) (string, error)
}

// Queue passes jobs from the submitting side to the worker pool. Both calls
// honor context cancellation.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// Resolver is the worker-facing half of the request correlator. Resolve
// reports false when the entry is already gone (caller timed out); the
// worker drops the outcome in that case.
type Resolver interface {
	Resolve(jobID string, outcome Outcome) bool
}

// Limiter spaces successive calls to a rate-sensitive dependency. Wait
// returns only once the caller may proceed, or when ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and request identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
