// Package metrics exposes Prometheus collectors for the scrape service.
// Job lifecycle counters are registered separately by the progress sink.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	activeWorkers              prometheus.Gauge
	anomalySignalsTotal        *prometheus.CounterVec
	popupDismissalsTotal       *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	documentAcquisitionsTotal  *prometheus.CounterVec
	snapshotsTotal             *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagesift_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		anomalySignalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagesift_anomaly_signals_total",
				Help: "Bot-challenge detections, labeled by the signal that tripped.",
			},
			[]string{"signal"},
		)

		popupDismissalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagesift_popup_dismissals_total",
				Help: "Popup dismissal attempts that took effect, labeled by action.",
			},
			[]string{"action"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagesift_rate_limit_delay_seconds",
				Help:    "Histogram of interval-limiter wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"dependency"},
		)

		documentAcquisitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagesift_document_acquisitions_total",
				Help: "Browser document acquisitions, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		snapshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagesift_snapshots_total",
				Help: "Archive snapshot requests, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveAnomalySignal counts a tripped challenge-detection signal.
func ObserveAnomalySignal(signal string) {
	anomalySignalsTotal.WithLabelValues(signal).Inc()
}

// ObserveDismissals counts effective popup dismissals for one action kind.
func ObserveDismissals(action string, n int) {
	if n > 0 {
		popupDismissalsTotal.WithLabelValues(action).Add(float64(n))
	}
}

// ObserveRateLimitDelay records the duration of an interval-limiter wait.
func ObserveRateLimitDelay(dependency string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(dependency).Observe(duration.Seconds())
}

// ObserveAcquisition counts one browser document acquisition.
func ObserveAcquisition(site string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	documentAcquisitionsTotal.WithLabelValues(SanitizeSite(site), result).Inc()
}

// ObserveSnapshot counts one archive snapshot request by result.
func ObserveSnapshot(result string) {
	snapshotsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
