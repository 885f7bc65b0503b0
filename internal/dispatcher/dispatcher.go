// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"sync"

	"github.com/pagesift/pagesift/internal/worker"
)

// Dispatcher fans out queue consumption to a fixed pool of workers.
type Dispatcher struct {
	workers []*worker.Worker
}

// New creates a Dispatcher over the given workers.
func New(workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Run starts all workers and blocks until every worker has exited, which
// happens once ctx is cancelled or the queue closes and drains.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}
