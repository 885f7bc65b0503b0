// Package correlate pairs scrape submissions with worker resolutions through
// a shared pending-result table.
package correlate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagesift/pagesift/internal/progress"
	"github.com/pagesift/pagesift/internal/scrape"
)

// Handle is the caller's receipt for a submitted job. It is awaited at most
// once and becomes useless after Await returns.
type Handle struct {
	job scrape.Job
	ch  chan scrape.Outcome
}

// JobID returns the id of the submitted job.
func (h Handle) JobID() string { return h.job.ID }

// Correlator owns the pending-result table that connects waiting callers to
// pool workers. An entry lives from Submit until Resolve or caller timeout,
// whichever comes first; each entry accepts exactly one resolution.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]chan scrape.Outcome

	queue   scrape.Queue
	clock   scrape.Clock
	emitter progress.Emitter
	logger  *zap.Logger
}

// New constructs a Correlator submitting onto the given queue.
func New(queue scrape.Queue, clock scrape.Clock, emitter progress.Emitter, logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		pending: make(map[string]chan scrape.Outcome),
		queue:   queue,
		clock:   clock,
		emitter: emitter,
		logger:  logger.Named("correlate"),
	}
}

// Submit registers a pending entry for the job and enqueues it for the worker
// pool. The entry is registered before the enqueue so a fast worker can never
// resolve into a missing slot. Submit fails only when ctx ends while the
// queue is exerting backpressure; the entry is removed again in that case.
func (c *Correlator) Submit(ctx context.Context, job scrape.Job) (Handle, error) {
	ch := make(chan scrape.Outcome, 1)
	c.mu.Lock()
	c.pending[job.ID] = ch
	c.mu.Unlock()

	if err := c.queue.Enqueue(ctx, job); err != nil {
		c.mu.Lock()
		delete(c.pending, job.ID)
		c.mu.Unlock()
		return Handle{}, fmt.Errorf("submit job %s: %w", job.ID, err)
	}

	c.emit(progress.Event{
		JobID: job.ID,
		TS:    c.clock.Now(),
		Stage: progress.StageJobQueued,
		Mode:  string(job.Mode),
		Site:  scrape.Domain(job.TargetURL),
		URL:   job.TargetURL,
	})
	return Handle{job: job, ch: ch}, nil
}

// Await blocks until the worker resolves the job or wait elapses (or ctx
// ends, which is treated the same way). On timeout it removes the pending
// entry so the table cannot leak and reports a timeout outcome. A resolution
// that lands while the timeout is being processed is still honored.
func (c *Correlator) Await(ctx context.Context, h Handle, wait time.Duration) scrape.Outcome {
	start := time.Now()
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case out := <-h.ch:
		return out
	case <-timer.C:
	case <-ctx.Done():
	}

	c.mu.Lock()
	_, pending := c.pending[h.job.ID]
	if pending {
		delete(c.pending, h.job.ID)
	}
	c.mu.Unlock()

	if !pending {
		// Resolve won the race; the outcome is already in the buffer.
		select {
		case out := <-h.ch:
			return out
		default:
		}
	}

	waited := time.Since(start)
	c.logger.Debug("caller timed out waiting for job",
		zap.String("job_id", h.job.ID),
		zap.Duration("waited", waited),
	)
	return scrape.TimeoutOutcome(h.job, waited)
}

// Resolve delivers a worker outcome to the waiting caller. It reports false
// and emits a RESULT_DROPPED event when the entry is gone because the caller
// already timed out; the late result is discarded and the entry is never
// recreated.
func (c *Correlator) Resolve(jobID string, outcome scrape.Outcome) bool {
	c.mu.Lock()
	ch, ok := c.pending[jobID]
	if ok {
		// The buffered send cannot block: an entry present in the table has
		// never been resolved, so the one-slot buffer is empty.
		ch <- outcome
		delete(c.pending, jobID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Info("dropping late result, caller gone",
			zap.String("job_id", jobID),
			zap.String("url", outcome.URL),
			zap.Duration("duration", outcome.Duration),
		)
		c.emit(progress.Event{
			JobID: jobID,
			TS:    c.clock.Now(),
			Stage: progress.StageResultDropped,
			Site:  scrape.Domain(outcome.URL),
			URL:   outcome.URL,
			Dur:   outcome.Duration,
			Note:  "caller timed out before resolution",
		})
		return false
	}
	return true
}

// SubmitAndWait is the one-call form used by the HTTP boundary.
func (c *Correlator) SubmitAndWait(ctx context.Context, job scrape.Job, wait time.Duration) (scrape.Outcome, error) {
	h, err := c.Submit(ctx, job)
	if err != nil {
		return scrape.Outcome{}, err
	}
	return c.Await(ctx, h, wait), nil
}

// Pending reports the number of registered, unresolved entries.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) emit(evt progress.Event) {
	if c.emitter != nil {
		c.emitter.Emit(evt)
	}
}
