package correlate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagesift/pagesift/internal/clock/system"
	"github.com/pagesift/pagesift/internal/progress"
	"github.com/pagesift/pagesift/internal/queue/memory"
	"github.com/pagesift/pagesift/internal/scrape"
)

func newTestCorrelator(depth int) (*Correlator, *memory.Queue, *captureEmitter) {
	q := memory.NewQueue(depth)
	emitter := &captureEmitter{}
	c := New(q, system.New(), emitter, zap.NewNop())
	return c, q, emitter
}

func sampleJob(id string) scrape.Job {
	return scrape.Job{
		ID:        id,
		Mode:      scrape.ModeRender,
		TargetURL: "https://news.example.com/story",
		Status:    scrape.JobStatusQueued,
		Submitted: time.Now(),
	}
}

// TestSubmitAndResolveDeliversOutcome covers the happy path: the worker
// resolves and the waiting caller receives that exact outcome.
func TestSubmitAndResolveDeliversOutcome(t *testing.T) {
	t.Parallel()

	c, q, emitter := newTestCorrelator(4)
	job := sampleJob("job-1")

	h, err := c.Submit(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, "job-1", h.JobID())
	require.Equal(t, 1, c.Pending())

	go func() {
		dequeued, dqErr := q.Dequeue(context.Background())
		if dqErr != nil {
			return
		}
		fields := map[string]scrape.ExtractedField{
			"title": {Value: "Headline", Source: scrape.SourcePrimary},
		}
		c.Resolve(dequeued.ID, scrape.SuccessOutcome(dequeued, fields, 20*time.Millisecond))
	}()

	out := c.Await(context.Background(), h, 2*time.Second)
	require.True(t, out.Succeeded())
	require.Equal(t, "job-1", out.JobID)
	require.Equal(t, "Headline", out.Fields["title"].Value)
	require.Equal(t, 0, c.Pending())
	require.Equal(t, []progress.Stage{progress.StageJobQueued}, emitter.Stages())
}

// TestAwaitTimesOutAndRemovesEntry verifies the caller-timeout path frees the
// table slot and yields a timeout outcome.
func TestAwaitTimesOutAndRemovesEntry(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCorrelator(4)
	job := sampleJob("job-2")

	h, err := c.Submit(context.Background(), job)
	require.NoError(t, err)

	out := c.Await(context.Background(), h, 40*time.Millisecond)
	require.False(t, out.Succeeded())
	require.Equal(t, scrape.KindTimeout, out.Err.Kind)
	require.Equal(t, scrape.CodeTimeout, out.Err.Code)
	require.Equal(t, "job-2", out.JobID)
	require.GreaterOrEqual(t, out.Duration, 40*time.Millisecond)
	require.Equal(t, 0, c.Pending())
}

// TestLateResolveIsDropped asserts the idempotent-miss behavior: a result
// arriving after the caller gave up is discarded, counted, and never
// recreates the entry.
func TestLateResolveIsDropped(t *testing.T) {
	t.Parallel()

	c, q, emitter := newTestCorrelator(4)
	job := sampleJob("job-3")

	h, err := c.Submit(context.Background(), job)
	require.NoError(t, err)

	out := c.Await(context.Background(), h, 20*time.Millisecond)
	require.Equal(t, scrape.KindTimeout, out.Err.Kind)

	dequeued, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	late := scrape.SuccessOutcome(dequeued, nil, 300*time.Millisecond)
	require.False(t, c.Resolve(dequeued.ID, late))
	require.Equal(t, 0, c.Pending())

	require.Equal(t, []progress.Stage{
		progress.StageJobQueued,
		progress.StageResultDropped,
	}, emitter.Stages())
}

// TestAwaitReturnsResolvedOutcomeOnRace covers the resolved-but-then-removed
// race: even with a zero wait, a resolution already in the buffer wins over
// the timeout.
func TestAwaitReturnsResolvedOutcomeOnRace(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCorrelator(4)
	job := sampleJob("job-4")

	h, err := c.Submit(context.Background(), job)
	require.NoError(t, err)
	require.True(t, c.Resolve(job.ID, scrape.SuccessOutcome(job, nil, 5*time.Millisecond)))

	out := c.Await(context.Background(), h, 0)
	require.True(t, out.Succeeded())
	require.Equal(t, "job-4", out.JobID)
}

// TestAwaitHonorsContext treats caller-context cancellation like a timeout.
func TestAwaitHonorsContext(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCorrelator(4)
	job := sampleJob("job-5")

	h, err := c.Submit(context.Background(), job)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	out := c.Await(ctx, h, 5*time.Second)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, scrape.KindTimeout, out.Err.Kind)
	require.Equal(t, 0, c.Pending())
}

// TestSubmitErrorsOnCancelledBackpressure is the only way Submit can fail:
// the queue is full and the submitting context ends during the wait.
func TestSubmitErrorsOnCancelledBackpressure(t *testing.T) {
	t.Parallel()

	c, _, emitter := newTestCorrelator(1)

	_, err := c.Submit(context.Background(), sampleJob("job-6"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Submit(ctx, sampleJob("job-7"))
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Only the successful submission holds a table slot or emitted an event.
	require.Equal(t, 1, c.Pending())
	require.Equal(t, []progress.Stage{progress.StageJobQueued}, emitter.Stages())
}

// TestConcurrentCallersEachGetTheirOwnOutcome runs many callers against a
// single resolving loop and checks exactly-one-outcome per job.
func TestConcurrentCallersEachGetTheirOwnOutcome(t *testing.T) {
	t.Parallel()

	const callers = 8

	c, q, _ := newTestCorrelator(callers)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for {
			job, err := q.Dequeue(ctx)
			if err != nil {
				return
			}
			c.Resolve(job.ID, scrape.SuccessOutcome(job, nil, time.Millisecond))
		}
	}()

	var wg sync.WaitGroup
	outcomes := make([]scrape.Outcome, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			job := sampleJob("job-" + string(rune('a'+n)))
			out, err := c.SubmitAndWait(context.Background(), job, 2*time.Second)
			if err != nil {
				return
			}
			outcomes[n] = out
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.True(t, outcomes[i].Succeeded())
		require.Equal(t, "job-"+string(rune('a'+i)), outcomes[i].JobID)
	}
	require.Equal(t, 0, c.Pending())
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *captureEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *captureEmitter) Stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	stages := make([]progress.Stage, len(e.events))
	for i, evt := range e.events {
		stages[i] = evt.Stage
	}
	return stages
}
