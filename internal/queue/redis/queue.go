// Package redis implements a durable job queue on Redis lists.
//
// Ready items live in "<name>:ready". Dequeue atomically moves an item to
// "<name>:processing" where it stays until Ack. Fail moves it to the sorted
// set "<name>:delayed", scored by the unix millisecond time it becomes
// ready again; Dequeue promotes due entries back to the ready list.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
	"github.com/JakeFAU/polite-crawler/internal/queue"
)

// Config controls key naming and polling.
type Config struct {
	Name string
	// PollInterval bounds how long Dequeue blocks before re-checking
	// delayed items.
	PollInterval time.Duration
}

// Queue is a Redis-backed crawler.Queue.
type Queue struct {
	client       *redis.Client
	ready        string
	processing   string
	delayed      string
	pollInterval time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// New wraps an existing client.
func New(client *redis.Client, cfg Config, logger *zap.Logger) *Queue {
	if cfg.Name == "" {
		cfg.Name = "crawlQueue"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		client:       client,
		ready:        cfg.Name + ":ready",
		processing:   cfg.Name + ":processing",
		delayed:      cfg.Name + ":delayed",
		pollInterval: cfg.PollInterval,
		now:          time.Now,
		logger:       logger,
	}
}

// Enqueue appends item to the ready list.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	payload, err := queue.Encode(item)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.ready, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Dequeue blocks until an item is ready or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		if err := q.promoteDue(ctx); err != nil {
			return crawler.QueueItem{}, err
		}
		raw, err := q.client.BLMove(ctx, q.ready, q.processing, "RIGHT", "LEFT", q.pollInterval).Result()
		if err != nil {
			if ctx.Err() != nil {
				return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return crawler.QueueItem{}, fmt.Errorf("redis blmove: %w", err)
		}
		item, err := queue.Decode([]byte(raw))
		if err != nil {
			q.logger.Error("dropping undecodable queue item", zap.Error(err))
			if rerr := q.client.LRem(ctx, q.processing, 1, raw).Err(); rerr != nil {
				q.logger.Warn("remove undecodable item failed", zap.Error(rerr))
			}
			continue
		}
		item.Receipt = raw
		return item, nil
	}
}

// Ack removes the delivered item from the processing list.
func (q *Queue) Ack(ctx context.Context, item crawler.QueueItem) error {
	raw, err := receipt(item)
	if err != nil {
		return err
	}
	if err := q.client.LRem(ctx, q.processing, 1, raw).Err(); err != nil {
		return fmt.Errorf("redis lrem: %w", err)
	}
	return nil
}

// Fail moves the delivered item to the delayed set with Attempt+1.
func (q *Queue) Fail(ctx context.Context, item crawler.QueueItem, delay time.Duration) error {
	raw, err := receipt(item)
	if err != nil {
		return err
	}
	next := queue.NextAttempt(item, delay, q.now())
	payload, err := queue.Encode(next)
	if err != nil {
		return err
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, raw)
		pipe.ZAdd(ctx, q.delayed, redis.Z{Score: float64(next.NotBefore), Member: payload})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis requeue: %w", err)
	}
	return nil
}

// Recover returns items abandoned in the processing list (for example by a
// crashed worker) to the ready list. It should run before workers start.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.ready, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("redis lmove: %w", err)
		}
		moved++
	}
}

// Ping checks connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (q *Queue) promoteDue(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, q.delayed, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("redis zrangebyscore: %w", err)
	}
	for _, member := range due {
		// ZREM decides which consumer owns the promotion.
		removed, err := q.client.ZRem(ctx, q.delayed, member).Result()
		if err != nil {
			return fmt.Errorf("redis zrem: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.ready, member).Err(); err != nil {
			return fmt.Errorf("redis lpush: %w", err)
		}
	}
	return nil
}

func receipt(item crawler.QueueItem) (string, error) {
	raw, ok := item.Receipt.(string)
	if !ok || raw == "" {
		return "", fmt.Errorf("queue item %s has no redis receipt", item.JobID())
	}
	return raw, nil
}
