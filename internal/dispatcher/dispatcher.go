// Package dispatcher manages the fixed-size worker pool over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
)

// Runner is a worker loop that returns when ctx ends or its queue closes.
type Runner interface {
	Run(ctx context.Context)
}

// DefaultConcurrency is the pool size used when none is configured.
func DefaultConcurrency() int {
	return runtime.NumCPU()
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []Runner
}

// New creates a Dispatcher. workers may be empty for submit-only processes.
func New(queue crawler.Queue, workers []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until every one has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
