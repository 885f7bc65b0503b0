// Package memory provides the in-process job queue shared by the HTTP
// boundary and the worker pool.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pagesift/pagesift/internal/scrape"
)

// ErrClosed is returned for operations against a closed queue.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations. A full
// queue backpressures Enqueue until a worker drains a slot or the caller's
// context ends. Close stops intake; jobs already queued are still handed
// out so workers can drain before exiting.
type Queue struct {
	ch   chan scrape.Job
	done chan struct{}
	once sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:   make(chan scrape.Job, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a job into the queue, or returns when the context ends or
// the queue has been closed.
func (q *Queue) Enqueue(ctx context.Context, job scrape.Job) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation. After Close it
// keeps returning queued jobs until the buffer is empty, then ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (scrape.Job, error) {
	select {
	case <-ctx.Done():
		return scrape.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job := <-q.ch:
		return job, nil
	case <-q.done:
		select {
		case job := <-q.ch:
			return job, nil
		default:
			return scrape.Job{}, ErrClosed
		}
	}
}

// Close stops intake. Safe to call more than once. The job channel itself is
// never closed, so a submission racing Close gets ErrClosed instead of a
// panic.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}
