package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/pagesift/pagesift/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a metrics backend is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Failures and
// dropped results log at warn level so they stand out in production streams.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.String("mode", evt.Mode),
			zap.String("site", evt.Site),
			zap.String("url", evt.URL),
			zap.Duration("dur", evt.Dur),
		}
		if evt.ErrorKind != "" {
			fields = append(fields, zap.String("error_kind", evt.ErrorKind))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageJobError, progress.StageResultDropped:
			s.logger.Warn("progress event", fields...)
		default:
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
