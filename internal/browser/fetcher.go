// Package browser acquires rendered documents from headless Chrome via
// chromedp. Each acquisition opens a dedicated tab that the caller owns
// through the returned document handle until Close.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pagesift/pagesift/internal/metrics"
	"github.com/pagesift/pagesift/internal/scrape"
)

// Config controls the browser pool.
type Config struct {
	Headless          bool
	Stealth           bool
	UserAgent         string
	NavigationTimeout time.Duration
	OperationTimeout  time.Duration
	MaxParallel       int
	DomainQPS         float64
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 10 * time.Second
	}
	return c
}

// Fetcher implements scrape.DocumentFetcher on a shared Chrome process.
// Tabs are throttled by a slot semaphore held for the lifetime of each
// document handle, and per-domain QPS budgets space out navigations.
type Fetcher struct {
	cfg             Config
	logger          *zap.Logger
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	sem             chan struct{}
	domainLimiters  sync.Map
}

// New launches the shared browser process and returns the fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	cfg = cfg.withDefaults()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.Stealth {
		opts = append(opts,
			chromedp.Flag("enable-automation", false),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
		)
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	var sem chan struct{}
	if cfg.MaxParallel > 0 {
		sem = make(chan struct{}, cfg.MaxParallel)
	}

	return &Fetcher{
		cfg:             cfg,
		logger:          logger.Named("browser"),
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		sem:             sem,
	}, nil
}

// Close tears down the shared browser process. Outstanding tabs die with it.
func (f *Fetcher) Close() error {
	f.browserCancel()
	f.allocatorCancel()
	return nil
}

// Acquire opens a tab, navigates it to rawURL, and waits for the body to be
// ready plus a short settle pause for late-running scripts. The returned
// document keeps its pool slot until Close.
func (f *Fetcher) Acquire(ctx context.Context, rawURL string) (scrape.Document, error) {
	site := scrape.Domain(rawURL)

	release, err := f.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}

	if err := f.waitDomainBudget(ctx, site); err != nil {
		release()
		return nil, fmt.Errorf("domain budget: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(f.browserCtx)

	navCtx, navCancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer navCancel()
	stopForward := forwardCancel(ctx, navCancel)
	defer stopForward()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	start := time.Now()
	finalURL, err := f.navigate(navCtx, rawURL)
	if err != nil {
		tabCancel()
		release()
		metrics.ObserveAcquisition(site, false)
		return nil, fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	metrics.ObserveAcquisition(site, true)

	status, responseURL := meta.snapshot()
	if responseURL == "" {
		responseURL = finalURL
	}
	if responseURL == "" {
		responseURL = rawURL
	}
	if status >= 400 {
		f.logger.Warn("document responded with error status",
			zap.String("url", rawURL),
			zap.Int("status", status),
		)
	}
	f.logger.Debug("document acquired",
		zap.String("url", rawURL),
		zap.String("final_url", responseURL),
		zap.Int("status", status),
		zap.Duration("elapsed", time.Since(start)),
	)

	return newTab(tabCtx, tabCancel, responseURL, f.cfg.OperationTimeout, release, f.logger), nil
}

func (f *Fetcher) navigate(ctx context.Context, rawURL string) (string, error) {
	var finalURL string
	tasks := chromedp.Tasks{
		network.Enable(),
	}
	if f.cfg.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(f.cfg.UserAgent))
	}
	if f.cfg.Stealth {
		tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			if err != nil {
				return fmt.Errorf("install stealth script: %w", err)
			}
			return nil
		}))
	}
	tasks = append(tasks,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Location(&finalURL),
	)
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return finalURL, nil
}

func (f *Fetcher) acquireSlot(ctx context.Context) (func(), error) {
	if f.sem == nil {
		return func() {}, nil
	}
	select {
	case f.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-f.sem })
		}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire tab slot: %w", ctx.Err())
	}
}

func (f *Fetcher) waitDomainBudget(ctx context.Context, host string) error {
	if f.cfg.DomainQPS <= 0 || host == "" {
		return nil
	}
	val, _ := f.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(f.cfg.DomainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	metrics.ObserveRateLimitDelay("browser", time.Since(start))
	return nil
}

// responseMeta records the main document response seen during navigation.
// Later document responses overwrite earlier ones so a redirect chain
// reports its final hop.
type responseMeta struct {
	mu     sync.Mutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.url
}

// forwardCancel propagates cancellation of parent into cancel until the
// returned stop function is called.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// ErrRenderingDisabled is returned by the noop fetcher wired in when the
// browser is disabled by configuration.
var ErrRenderingDisabled = errors.New("browser rendering disabled")

// Noop implements scrape.DocumentFetcher but fails every acquisition. It
// stands in for the real fetcher when rendering is turned off.
type Noop struct{}

// NewNoop creates a Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Acquire always fails.
func (Noop) Acquire(_ context.Context, _ string) (scrape.Document, error) {
	return nil, ErrRenderingDisabled
}
