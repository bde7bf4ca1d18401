// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
	"github.com/JakeFAU/polite-crawler/internal/queue"
)

// Queue is a bounded in-memory queue with context-aware operations.
// Failed items are re-enqueued by a timer once their delay elapses.
type Queue struct {
	ch   chan crawler.QueueItem
	done chan struct{}

	closeMu sync.Mutex
	closed  bool
	timers  map[*time.Timer]struct{}
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:     make(chan crawler.QueueItem, capacity),
		done:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	select {
	case <-q.done:
		return queue.ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return queue.ErrClosed
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return crawler.QueueItem{}, queue.ErrClosed
	case item := <-q.ch:
		return item, nil
	}
}

// Ack is a no-op; items leave the channel on Dequeue.
func (q *Queue) Ack(context.Context, crawler.QueueItem) error {
	return nil
}

// Fail schedules redelivery of item with Attempt+1 after delay.
func (q *Queue) Fail(_ context.Context, item crawler.QueueItem, delay time.Duration) error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	next := queue.NextAttempt(item, delay, time.Now())
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.closeMu.Lock()
		delete(q.timers, timer)
		q.closeMu.Unlock()
		// Blocks while the queue is full; Close releases it.
		_ = q.Enqueue(context.Background(), next) //nolint:errcheck // closed queues drop redeliveries
	})
	q.timers[timer] = struct{}{}
	return nil
}

// Pending reports the number of redeliveries still waiting on their delay.
func (q *Queue) Pending() int {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	return len(q.timers)
}

// Close stops delivery and cancels pending redeliveries.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
	for t := range q.timers {
		t.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
}
