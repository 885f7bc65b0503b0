package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Tab is a live browser tab implementing scrape.Document. All operations run
// against the tab's chromedp context with a per-operation timeout; the
// caller's context is forwarded so its cancellation cuts the wait short.
type Tab struct {
	ctx       context.Context
	cancel    context.CancelFunc
	url       string
	opTimeout time.Duration
	release   func()
	closeOnce sync.Once
	logger    *zap.Logger
}

func newTab(ctx context.Context, cancel context.CancelFunc, url string, opTimeout time.Duration, release func(), logger *zap.Logger) *Tab {
	return &Tab{
		ctx:       ctx,
		cancel:    cancel,
		url:       url,
		opTimeout: opTimeout,
		release:   release,
		logger:    logger,
	}
}

// URL reports the document's final location after redirects.
func (t *Tab) URL() string {
	return t.url
}

func (t *Tab) bound(parent context.Context) (context.Context, func()) {
	opCtx, cancel := context.WithTimeout(t.ctx, t.opTimeout)
	stop := forwardCancel(parent, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// Count returns how many elements match the selector.
func (t *Tab) Count(ctx context.Context, selector string) (int, error) {
	opCtx, done := t.bound(ctx)
	defer done()
	var n int
	if err := chromedp.Run(opCtx, chromedp.Evaluate(countJS(selector), &n)); err != nil {
		return 0, fmt.Errorf("count %q: %w", selector, err)
	}
	return n, nil
}

// Text returns the text content of the first match, "" when none.
func (t *Tab) Text(ctx context.Context, selector string) (string, error) {
	opCtx, done := t.bound(ctx)
	defer done()
	var text string
	if err := chromedp.Run(opCtx, chromedp.Evaluate(textJS(selector), &text)); err != nil {
		return "", fmt.Errorf("text %q: %w", selector, err)
	}
	return text, nil
}

// Attr returns the named attribute of the first match, "" when the element
// or attribute is absent.
func (t *Tab) Attr(ctx context.Context, selector, name string) (string, error) {
	opCtx, done := t.bound(ctx)
	defer done()
	var value string
	if err := chromedp.Run(opCtx, chromedp.Evaluate(attrJS(selector, name), &value)); err != nil {
		return "", fmt.Errorf("attr %q of %q: %w", name, selector, err)
	}
	return value, nil
}

// ClickFirst triggers the first element matching the selector. The wait for
// the element is bounded by the operation timeout.
func (t *Tab) ClickFirst(ctx context.Context, selector string) error {
	opCtx, done := t.bound(ctx)
	defer done()
	if err := chromedp.Run(opCtx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// ClickByText triggers the first match whose text contains phrase,
// case-insensitively, and reports whether anything was clicked.
func (t *Tab) ClickByText(ctx context.Context, selector, phrase string) (bool, error) {
	opCtx, done := t.bound(ctx)
	defer done()
	var clicked bool
	if err := chromedp.Run(opCtx, chromedp.Evaluate(clickByTextJS(selector, phrase), &clicked)); err != nil {
		return false, fmt.Errorf("click by text %q: %w", phrase, err)
	}
	return clicked, nil
}

// RemoveAll deletes every element matching the selector and returns how many
// were removed.
func (t *Tab) RemoveAll(ctx context.Context, selector string) (int, error) {
	opCtx, done := t.bound(ctx)
	defer done()
	var removed int
	if err := chromedp.Run(opCtx, chromedp.Evaluate(removeAllJS(selector), &removed)); err != nil {
		return 0, fmt.Errorf("remove %q: %w", selector, err)
	}
	return removed, nil
}

// BodyText returns the rendered text of the whole page body.
func (t *Tab) BodyText(ctx context.Context) (string, error) {
	opCtx, done := t.bound(ctx)
	defer done()
	var text string
	if err := chromedp.Run(opCtx, chromedp.Evaluate(bodyTextJS, &text)); err != nil {
		return "", fmt.Errorf("body text: %w", err)
	}
	return text, nil
}

// FrameURLs lists the source URLs of embedded frames, skipping empty ones.
func (t *Tab) FrameURLs(ctx context.Context) ([]string, error) {
	opCtx, done := t.bound(ctx)
	defer done()
	var raw []string
	if err := chromedp.Run(opCtx, chromedp.Evaluate(frameURLsJS, &raw)); err != nil {
		return nil, fmt.Errorf("frame urls: %w", err)
	}
	urls := raw[:0]
	for _, u := range raw {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// HTML returns the document's current markup.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	opCtx, done := t.bound(ctx)
	defer done()
	var html string
	if err := chromedp.Run(opCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return html, nil
}

// Close shuts the tab and returns its pool slot. Safe to call more than once.
func (t *Tab) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		if t.release != nil {
			t.release()
		}
		t.logger.Debug("tab closed", zap.String("url", t.url))
	})
	return nil
}
