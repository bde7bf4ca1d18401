// Package worker runs crawl jobs taken from the queue and reports their
// outcome back to it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
	"github.com/JakeFAU/polite-crawler/internal/metrics"
	"github.com/JakeFAU/polite-crawler/internal/policy/retry"
	"github.com/JakeFAU/polite-crawler/internal/queue"
	"github.com/JakeFAU/polite-crawler/internal/storage"
)

// Traverser crawls one job and returns its ordered results.
type Traverser interface {
	Traverse(ctx context.Context, job crawler.Job) ([]crawler.Result, error)
}

// Config controls Worker behavior.
type Config struct {
	// ResultTTL is how long persisted results stay retrievable.
	ResultTTL time.Duration
	// Topic receives job events. Empty disables publishing.
	Topic string
	// DequeueBackoff is the pause after a failed dequeue.
	DequeueBackoff time.Duration
}

// Worker consumes queue items one at a time.
type Worker struct {
	queue     crawler.Queue
	traverser Traverser
	store     storage.Store
	publisher crawler.Publisher
	clock     crawler.Clock
	// jobRetry decides whether a failed job attempt goes back on the queue
	// and how long it waits there.
	jobRetry retry.Policy
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. publisher may be nil.
func New(
	q crawler.Queue,
	traverser Traverser,
	store storage.Store,
	publisher crawler.Publisher,
	clock crawler.Clock,
	jobRetry retry.Policy,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = storage.DefaultResultTTL
	}
	if cfg.DequeueBackoff <= 0 {
		cfg.DequeueBackoff = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     q,
		traverser: traverser,
		store:     store,
		publisher: publisher,
		clock:     clock,
		jobRetry:  jobRetry,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the
// queue is closed.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if !pause(ctx, w.cfg.DequeueBackoff) {
				return
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID()), zap.Int("attempt", item.Attempt))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID()), zap.Int("attempt", item.Attempt))
	record := crawler.JobRecord{
		ID:        item.JobID(),
		Status:    crawler.JobStatusRunning,
		Attempts:  item.Attempt,
		Submitted: time.Unix(item.Submitted, 0).UTC(),
	}
	w.setStatus(ctx, logger, record)

	started := w.clock.Now()
	results, err := w.traverser.Traverse(ctx, item.Job)
	if ctx.Err() != nil {
		// Shutdown mid-job: leave the item unacknowledged so the queue
		// redelivers it.
		logger.Warn("job interrupted by shutdown", zap.Error(err))
		return
	}
	if err == nil {
		if perr := w.store.SetResults(ctx, item.JobID(), results, w.cfg.ResultTTL); perr != nil {
			logger.Error("persist results failed", zap.Error(perr))
			err = fmt.Errorf("persist results: %w", perr)
		}
	}
	record.ResultCount = len(results)
	if err != nil {
		w.failAttempt(ctx, logger, item, record, err)
		return
	}

	record.Status = crawler.JobStatusSucceeded
	w.setStatus(ctx, logger, record)
	if aerr := w.queue.Ack(ctx, item); aerr != nil {
		logger.Error("queue ack failed", zap.Error(aerr))
	}
	metrics.ObserveJob(string(crawler.JobStatusSucceeded))
	w.publish(ctx, logger, record, "")
	logger.Info("job succeeded",
		zap.Int("results", len(results)),
		zap.Duration("duration", w.clock.Now().Sub(started)),
	)
}

// failAttempt hands a failed attempt back to the queue for a delayed retry
// or drops the job once its attempts are spent.
func (w *Worker) failAttempt(
	ctx context.Context,
	logger *zap.Logger,
	item crawler.QueueItem,
	record crawler.JobRecord,
	cause error,
) {
	record.Error = cause.Error()
	if w.jobRetry.ShouldRetry(item.Attempt) {
		delay := w.jobRetry.Backoff(item.Attempt)
		record.Status = crawler.JobStatusRetrying
		w.setStatus(ctx, logger, record)
		if err := w.queue.Fail(ctx, item, delay); err != nil {
			logger.Error("queue fail failed", zap.Error(err))
		}
		metrics.ObserveJob(string(crawler.JobStatusRetrying))
		w.publish(ctx, logger, record, record.Error)
		logger.Warn("job attempt failed; retrying", zap.Duration("delay", delay), zap.Error(cause))
		return
	}

	record.Status = crawler.JobStatusFailed
	w.setStatus(ctx, logger, record)
	if err := w.queue.Ack(ctx, item); err != nil {
		logger.Error("queue ack failed", zap.Error(err))
	}
	metrics.ObserveJob(string(crawler.JobStatusFailed))
	w.publish(ctx, logger, record, record.Error)
	logger.Error("job failed permanently", zap.Error(cause))
}

func (w *Worker) setStatus(ctx context.Context, logger *zap.Logger, record crawler.JobRecord) {
	record.Updated = w.clock.Now()
	if err := w.store.SetStatus(ctx, record); err != nil {
		logger.Error("update job status failed", zap.String("status", string(record.Status)), zap.Error(err))
	}
}

func (w *Worker) publish(ctx context.Context, logger *zap.Logger, record crawler.JobRecord, errText string) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	event := crawler.JobEvent{
		JobID:     record.ID,
		Status:    record.Status,
		Attempt:   record.Attempts,
		Error:     errText,
		Results:   record.ResultCount,
		Timestamp: w.clock.Now(),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		logger.Warn("publish job event failed", zap.Error(err))
	}
}

func pause(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
