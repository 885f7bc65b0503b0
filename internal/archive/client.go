// Package archive resolves target URLs to archive.today snapshots, creating
// one when none exists. Submissions go through the shared interval limiter so
// the service never sees bursts.
package archive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/pagesift/pagesift/internal/metrics"
	"github.com/pagesift/pagesift/internal/scrape"
)

// Config controls the archive client.
type Config struct {
	// Endpoint is the archive service base URL.
	Endpoint  string
	UserAgent string
	// Timeout bounds the snapshot submission. The follow-up HTML fetch uses
	// the shorter of 30s and half this budget.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = "https://archive.is"
	}
	c.Endpoint = strings.TrimRight(c.Endpoint, "/")
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; pagesift/1.0)"
	}
	if c.Timeout <= 0 {
		c.Timeout = 90 * time.Second
	}
	return c
}

// protocolPrefix strips the scheme before submission; the service keys
// snapshots on the bare location.
var protocolPrefix = regexp.MustCompile(`^https?://`)

// canonicalLink finds the snapshot location on submit pages that render
// instead of redirecting.
var canonicalLink = regexp.MustCompile(`<link rel="canonical" href="(https?://[^"]+)"`)

// Client implements scrape.Archiver against an archive.today-style service.
type Client struct {
	cfg          Config
	limiter      scrape.Limiter
	logger       *zap.Logger
	transport    http.RoundTripper
	endpointHost string
}

// New builds a Client. limiter may be nil, in which case submissions are not
// spaced out.
func New(cfg Config, limiter scrape.Limiter, logger *zap.Logger) *Client {
	cfg = cfg.withDefaults()

	host := ""
	if u, err := url.Parse(cfg.Endpoint); err == nil {
		host = strings.ToLower(u.Host)
	}

	return &Client{
		cfg:          cfg,
		limiter:      limiter,
		logger:       logger.Named("archive"),
		transport:    newHTTPTransport(),
		endpointHost: host,
	}
}

// Snapshot submits rawURL for archiving and returns the snapshot location
// and HTML. force asks the service to re-archive even when a snapshot
// already exists. Errors wrap scrape.ErrSnapshotTimeout or
// scrape.ErrSnapshotFailed.
func (c *Client) Snapshot(ctx context.Context, rawURL string, force bool) (scrape.Snapshot, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			metrics.ObserveSnapshot("failure")
			return scrape.Snapshot{}, wrapSnapshotErr("rate limit wait", err)
		}
	}

	start := time.Now()
	snapURL, err := c.submit(ctx, rawURL, force)
	if err != nil {
		metrics.ObserveSnapshot(snapshotResult(err))
		return scrape.Snapshot{}, err
	}

	html, err := c.fetchHTML(ctx, snapURL)
	if err != nil {
		metrics.ObserveSnapshot(snapshotResult(err))
		return scrape.Snapshot{}, err
	}

	metrics.ObserveSnapshot("ok")
	c.logger.Info("snapshot resolved",
		zap.String("url", rawURL),
		zap.String("snapshot_url", snapURL),
		zap.Int("html_bytes", len(html)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("force", force),
	)
	return scrape.Snapshot{URL: snapURL, HTML: html}, nil
}

func (c *Client) submit(ctx context.Context, rawURL string, force bool) (string, error) {
	stripped := protocolPrefix.ReplaceAllString(rawURL, "")
	form := map[string]string{"url": stripped}
	if force {
		form["anyway"] = "1"
	}

	var (
		finalURL  string
		body      []byte
		submitErr error
	)
	collector := c.buildCollector(c.cfg.Timeout)
	collector.OnResponse(func(r *colly.Response) {
		finalURL = r.Request.URL.String()
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		submitErr = err
	})

	err := c.run(ctx, func() error {
		return collector.Post(c.cfg.Endpoint+"/submit/", form)
	}, &submitErr)
	if err != nil {
		return "", wrapSnapshotErr("submit "+stripped, err)
	}

	if snapURL, ok := c.snapshotURL(finalURL, body); ok {
		return snapURL, nil
	}
	c.logger.Warn("no snapshot url in submit response",
		zap.String("url", rawURL),
		zap.String("final_url", finalURL),
	)
	return "", fmt.Errorf("no snapshot url for %s: %w", stripped, scrape.ErrSnapshotFailed)
}

func (c *Client) fetchHTML(ctx context.Context, snapURL string) (string, error) {
	budget := min(30*time.Second, c.cfg.Timeout/2)

	var (
		html     string
		fetchErr error
	)
	collector := c.buildCollector(budget)
	collector.OnResponse(func(r *colly.Response) {
		html = string(r.Body)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	err := c.run(ctx, func() error {
		return collector.Visit(snapURL)
	}, &fetchErr)
	if err != nil {
		return "", wrapSnapshotErr("fetch snapshot "+snapURL, err)
	}
	return html, nil
}

// buildCollector makes a per-call collector. Collectors share one HTTP
// client per backend, so a fresh collector per call keeps concurrent
// snapshot timeouts from trampling each other; the shared transport still
// pools connections across calls.
func (c *Client) buildCollector(timeout time.Duration) *colly.Collector {
	// Collectors default to synchronous mode; colly v2.1.0's Async option
	// cannot state this explicitly because it ignores its argument and
	// always enables async.
	collector := colly.NewCollector(
		colly.UserAgent(c.cfg.UserAgent),
		colly.IgnoreRobotsTxt(),
	)
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(c.transport)
	return collector
}

// run executes the collector call on its own goroutine so the wait stays
// context-aware; colly itself does not take a context.
func (c *Client) run(ctx context.Context, visit func() error, hookErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return err
		}
		return *hookErr
	}
}

// snapshotURL derives the snapshot location from a submit response: either
// the service redirected to it, or the rendered page names it in a canonical
// link tag.
func (c *Client) snapshotURL(finalURL string, body []byte) (string, bool) {
	if c.isSnapshotURL(finalURL) {
		return finalURL, true
	}
	if m := canonicalLink.FindSubmatch(body); m != nil {
		href := string(m[1])
		if c.isSnapshotURL(href) {
			return href, true
		}
	}
	return "", false
}

func (c *Client) isSnapshotURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if strings.Contains(u.Path, "/submit") {
		return false
	}
	if u.Path == "" || u.Path == "/" {
		return false
	}
	host := strings.ToLower(u.Host)
	return host == c.endpointHost || strings.HasPrefix(host, "archive.")
}

func wrapSnapshotErr(op string, err error) error {
	sentinel := scrape.ErrSnapshotFailed
	if isTimeout(err) {
		sentinel = scrape.ErrSnapshotTimeout
	}
	return fmt.Errorf("%s: %w (%v)", op, sentinel, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func snapshotResult(err error) string {
	if errors.Is(err, scrape.ErrSnapshotTimeout) {
		return "timeout"
	}
	return "failure"
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
