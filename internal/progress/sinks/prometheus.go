package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pagesift/pagesift/internal/progress"
)

// PrometheusSink exports job lifecycle metrics via Prometheus. It owns the
// collectors for submissions, completions, durations, and dropped results.
type PrometheusSink struct {
	jobsSubmitted  *prometheus.CounterVec
	jobsStarted    prometheus.Counter
	jobsCompleted  *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	resultsDropped prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagesift_jobs_submitted_total",
			Help: "Total jobs accepted onto the queue partitioned by mode.",
		}, []string{"mode"}),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagesift_jobs_started_total",
			Help: "Total jobs picked up by a worker.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagesift_jobs_completed_total",
			Help: "Total jobs resolved partitioned by mode and result.",
		}, []string{"mode", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pagesift_job_duration_seconds",
			Help:    "Enqueue-to-resolution wall time per job.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"mode"}),
		resultsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagesift_results_dropped_total",
			Help: "Worker results discarded because the caller had already timed out.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsSubmitted,
		s.jobsStarted,
		s.jobsCompleted,
		s.jobDuration,
		s.resultsDropped,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobQueued:
		s.jobsSubmitted.WithLabelValues(modeLabel(evt)).Inc()
	case progress.StageJobStart:
		s.jobsStarted.Inc()
	case progress.StageJobDone:
		s.observeCompletion(evt, "success")
	case progress.StageJobError:
		s.observeCompletion(evt, resultLabel(evt))
	case progress.StageResultDropped:
		s.resultsDropped.Inc()
	}
}

func (s *PrometheusSink) observeCompletion(evt progress.Event, result string) {
	s.jobsCompleted.WithLabelValues(modeLabel(evt), result).Inc()
	if evt.Dur > 0 {
		s.jobDuration.WithLabelValues(modeLabel(evt)).Observe(evt.Dur.Seconds())
	}
}

func modeLabel(evt progress.Event) string {
	if evt.Mode == "" {
		return "unknown"
	}
	return evt.Mode
}

func resultLabel(evt progress.Event) string {
	if evt.ErrorKind == "" {
		return "error"
	}
	return evt.ErrorKind
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
