// Package worker implements the scrape pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pagesift/pagesift/internal/extract"
	"github.com/pagesift/pagesift/internal/gate"
	"github.com/pagesift/pagesift/internal/metrics"
	"github.com/pagesift/pagesift/internal/progress"
	"github.com/pagesift/pagesift/internal/scrape"
)

// Worker consumes queued jobs and executes the mode-specific pipeline. A
// failing or panicking job never takes the worker down with it; every job
// resolves exactly once through the resolver.
type Worker struct {
	queue    scrape.Queue
	resolver scrape.Resolver
	fetcher  scrape.DocumentFetcher
	archiver scrape.Archiver
	textex   scrape.TextExtractor
	gate     *gate.Gate
	engine   *extract.Engine
	clock    scrape.Clock
	emitter  progress.Emitter
	logger   *zap.Logger
}

// New constructs a Worker. The archiver may be nil when the archive service
// is disabled; archive jobs then fail with an external-service outcome.
func New(
	queue scrape.Queue,
	resolver scrape.Resolver,
	fetcher scrape.DocumentFetcher,
	archiver scrape.Archiver,
	textex scrape.TextExtractor,
	popupGate *gate.Gate,
	engine *extract.Engine,
	clock scrape.Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		resolver: resolver,
		fetcher:  fetcher,
		archiver: archiver,
		textex:   textex,
		gate:     popupGate,
		engine:   engine,
		clock:    clock,
		emitter:  emitter,
		logger:   logger,
	}
}

// Run blocks, consuming jobs until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Info("job queue closed, worker exiting", zap.Error(err))
			return
		}
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job scrape.Job) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	w.logger.Debug("job dequeued",
		zap.String("job_id", job.ID),
		zap.String("mode", string(job.Mode)),
		zap.String("url", job.TargetURL),
	)
	w.emit(progress.Event{
		JobID: job.ID,
		TS:    w.clock.Now(),
		Stage: progress.StageJobStart,
		Mode:  string(job.Mode),
		Site:  scrape.Domain(job.TargetURL),
		URL:   job.TargetURL,
	})

	outcome := w.runPipeline(ctx, job)
	w.resolver.Resolve(job.ID, outcome)

	evt := progress.Event{
		JobID: job.ID,
		TS:    w.clock.Now(),
		Mode:  string(job.Mode),
		Site:  scrape.Domain(job.TargetURL),
		URL:   job.TargetURL,
		Dur:   outcome.Duration,
	}
	if outcome.Succeeded() {
		evt.Stage = progress.StageJobDone
		w.logger.Info("job completed",
			zap.String("job_id", job.ID),
			zap.String("mode", string(job.Mode)),
			zap.Duration("duration", outcome.Duration),
		)
	} else {
		evt.Stage = progress.StageJobError
		evt.ErrorKind = string(outcome.Err.Kind)
		evt.Note = outcome.Err.Message
		w.logger.Warn("job failed",
			zap.String("job_id", job.ID),
			zap.String("mode", string(job.Mode)),
			zap.String("kind", string(outcome.Err.Kind)),
			zap.String("error", outcome.Err.Message),
			zap.Duration("duration", outcome.Duration),
		)
	}
	w.emit(evt)
}

// runPipeline dispatches on job mode and converts panics into internal-error
// outcomes so a bad page or bug cannot kill the worker loop.
func (w *Worker) runPipeline(ctx context.Context, job scrape.Job) (outcome scrape.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked",
				zap.String("job_id", job.ID),
				zap.String("url", job.TargetURL),
				zap.Any("panic", r),
			)
			err := scrape.NewError(scrape.KindInternal, scrape.CodeInternal, "worker panic: %v", r)
			outcome = scrape.FailureOutcome(job, err, w.elapsed(job))
		}
	}()

	switch job.Mode {
	case scrape.ModeArchive:
		return w.processArchive(ctx, job)
	default:
		return w.processRender(ctx, job)
	}
}

// processRender drives the live-document pipeline: acquire, dismiss popups,
// check for a challenge interstitial, extract fields.
func (w *Worker) processRender(ctx context.Context, job scrape.Job) scrape.Outcome {
	doc, err := w.fetcher.Acquire(ctx, job.TargetURL)
	if err != nil {
		failure := scrape.NewError(
			scrape.KindDocumentAcquisition,
			scrape.CodeScraping,
			"acquire document: %v", err,
		)
		return scrape.FailureOutcome(job, failure, w.elapsed(job))
	}
	defer w.closeDoc(doc, job.ID)

	stats := w.gate.Dismiss(ctx, doc)
	w.logger.Debug("popup pass finished",
		zap.String("job_id", job.ID),
		zap.Int("clicked", stats.Clicked),
		zap.Int("removed", stats.Removed),
	)

	if w.gate.DetectAnomaly(ctx, doc) {
		failure := scrape.NewError(
			scrape.KindAnomalyDetected,
			scrape.CodeCaptcha,
			"challenge interstitial on %s", job.TargetURL,
		)
		return scrape.FailureOutcome(job, failure, w.elapsed(job))
	}

	fields, err := w.engine.Extract(ctx, doc, job.Strategies)
	if err != nil {
		failure := scrape.NewError(scrape.KindExtraction, scrape.CodeExtraction, "extract fields: %v", err)
		return scrape.FailureOutcome(job, failure, w.elapsed(job))
	}
	return scrape.SuccessOutcome(job, fields, w.elapsed(job))
}

// processArchive drives the snapshot pipeline: rate-limited snapshot fetch,
// readable-text extraction, and optionally directed extraction over the
// snapshot markup when the job carries selectors. The content field always
// holds the readable text; directed selectors fill the remaining fields.
func (w *Worker) processArchive(ctx context.Context, job scrape.Job) scrape.Outcome {
	if w.archiver == nil {
		failure := scrape.NewError(
			scrape.KindExternalService,
			scrape.CodeArchiveFailure,
			"archive service disabled",
		)
		return scrape.FailureOutcome(job, failure, w.elapsed(job))
	}

	snap, err := w.archiver.Snapshot(ctx, job.TargetURL, job.ForceRefresh)
	if err != nil {
		return scrape.FailureOutcome(job, archiveError(err), w.elapsed(job))
	}

	text, err := w.textex.ReadableText(snap.HTML)
	if err != nil {
		failure := scrape.NewError(scrape.KindExtraction, scrape.CodeExtraction, "readable text: %v", err)
		return scrape.FailureOutcome(job, failure, w.elapsed(job))
	}

	fields := w.directedSnapshotFields(ctx, job, snap)
	fields["content"] = scrape.ExtractedField{Value: text, Source: scrape.SourceReadable}

	outcome := scrape.SuccessOutcome(job, fields, w.elapsed(job))
	outcome.ArchiveURL = snap.URL
	return outcome
}

// directedSnapshotFields runs the caller's selectors against the snapshot
// markup. Failures are absorbed; readable text remains the archive contract.
func (w *Worker) directedSnapshotFields(
	ctx context.Context,
	job scrape.Job,
	snap scrape.Snapshot,
) map[string]scrape.ExtractedField {
	fields := map[string]scrape.ExtractedField{}
	if len(job.Strategies) == 0 {
		return fields
	}

	doc, err := scrape.NewStaticDocument(snap.URL, snap.HTML)
	if err != nil {
		w.logger.Warn("snapshot parse for directed extraction failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return fields
	}
	extracted, err := w.engine.Extract(ctx, doc, job.Strategies)
	if err != nil {
		w.logger.Warn("directed snapshot extraction failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return fields
	}
	for name, field := range extracted {
		if name == "content" {
			continue
		}
		fields[name] = field
	}
	return fields
}

func (w *Worker) closeDoc(doc scrape.Document, jobID string) {
	if err := doc.Close(); err != nil {
		w.logger.Warn("document close failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// elapsed measures enqueue-to-resolution time; it never reports negative.
func (w *Worker) elapsed(job scrape.Job) time.Duration {
	d := w.clock.Now().Sub(job.Submitted)
	if d < 0 {
		return 0
	}
	return d
}

func (w *Worker) emit(evt progress.Event) {
	if w.emitter != nil {
		w.emitter.Emit(evt)
	}
}

func archiveError(err error) *scrape.OutcomeError {
	if errors.Is(err, scrape.ErrSnapshotTimeout) {
		return scrape.NewError(
			scrape.KindExternalService,
			scrape.CodeArchiveTimeout,
			"archive snapshot: %v", err,
		)
	}
	return scrape.NewError(
		scrape.KindExternalService,
		scrape.CodeArchiveFailure,
		"archive snapshot: %v", err,
	)
}
