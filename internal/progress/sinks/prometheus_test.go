package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pagesift/pagesift/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	jobID := uuid.NewString()
	now := time.Now()
	batch := []progress.Event{
		{JobID: jobID, TS: now, Stage: progress.StageJobQueued, Mode: "render", Site: "example.com"},
		{JobID: jobID, TS: now.Add(time.Second), Stage: progress.StageJobStart, Mode: "render"},
		{
			JobID: jobID,
			TS:    now.Add(4 * time.Second),
			Stage: progress.StageJobDone,
			Mode:  "render",
			Dur:   4 * time.Second,
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsSubmitted.WithLabelValues("render")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("render", "success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("render", "timeout")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.jobDuration, "pagesift_job_duration_seconds"))
}

// TestPrometheusSinkLabelsFailuresByKind maps JOB_ERROR events onto the error kind label.
func TestPrometheusSinkLabelsFailuresByKind(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []progress.Event{
		{
			JobID:     uuid.NewString(),
			TS:        time.Now(),
			Stage:     progress.StageJobError,
			Mode:      "archive",
			ErrorKind: "external_service_failure",
			Dur:       12 * time.Second,
		},
		{JobID: uuid.NewString(), TS: time.Now(), Stage: progress.StageResultDropped},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	completed := sink.jobsCompleted.WithLabelValues("archive", "external_service_failure")
	require.Equal(t, 1.0, testutil.ToFloat64(completed))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.resultsDropped))
}

// TestPrometheusSinkDuplicateRegistration surfaces registry conflicts to the caller.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
