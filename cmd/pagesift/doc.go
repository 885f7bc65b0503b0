// Package main hosts the pagesift service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes /v1/scrape and /v1/article plus health and metrics
//     endpoints. Requests are validated, normalized into scrape.Job values, and submitted through
//     the correlator, which blocks the caller until the job resolves or its deadline passes.
//   - Correlator & queue: internal/correlate pairs each submission with a one-shot result channel
//     keyed by job id; jobs flow through a bounded in-memory queue sized by scraper.queue_depth.
//     A caller that times out stops waiting; the worker's late result is counted and dropped.
//   - Render pipeline: workers acquire a live Chrome tab via the chromedp-based fetcher, run the
//     popup/anomaly gate (consent clicks, overlay removal, challenge detection), then extract the
//     requested fields with per-type fallback chains.
//   - Archive pipeline: workers resolve an archive.today snapshot (rate limited to one submission
//     per archive.min_interval_seconds), pull readable text from the snapshot HTML, and run any
//     caller selectors against the static DOM.
//   - Configuration & plumbing: Viper populates config from env/files (PAGESIFT_ prefix); zap
//     provides structured logging; Prometheus metrics are exported via the metrics middleware and
//     /metrics handler; the progress hub batches job lifecycle events to log and metrics sinks.
//
// Operational notes:
//   - Concurrency model: fixed worker pool sized by scraper.concurrency; the browser fetcher holds
//     its own tab semaphore (browser.max_parallel). Caller timeouts do not cancel in-flight browser
//     work; the pool slot stays busy until the page settles.
//   - Shutdown: SIGINT/SIGTERM stops the HTTP server first so waiting callers get answers, then
//     closes the queue and drains workers, then flushes the progress hub and closes Chrome.
//   - Run locally: go run ./cmd/pagesift -config config.yaml (or rely solely on env overrides).
package main
