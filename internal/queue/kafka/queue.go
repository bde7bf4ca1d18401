// Package kafka implements a job queue on a Kafka topic consumed by a
// consumer group. Ack commits the message offset; Fail re-publishes the job
// with its next attempt number and ready time, then commits the original message.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
	"github.com/JakeFAU/polite-crawler/internal/queue"
)

// Config selects brokers, topic and consumer group.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Queue is a Kafka-backed crawler.Queue.
type Queue struct {
	writer messageWriter
	reader messageReader
	now    func() time.Time
	logger *zap.Logger
}

// New builds a Queue with a LeastBytes writer and a group reader.
func New(cfg Config, logger *zap.Logger) (*Queue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "crawler-workers"
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: false,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
	return NewWithClients(writer, reader, logger), nil
}

// NewWithClients builds a queue using custom clients (tests).
func NewWithClients(writer messageWriter, reader messageReader, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{writer: writer, reader: reader, now: time.Now, logger: logger}
}

// Enqueue publishes item keyed by job ID.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	payload, err := queue.Encode(item)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(item.JobID()),
		Value: payload,
		Time:  q.now().UTC(),
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Dequeue fetches the next message and waits until it is ready.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			return crawler.QueueItem{}, fmt.Errorf("kafka fetch: %w", err)
		}
		item, err := queue.Decode(msg.Value)
		if err != nil {
			q.logger.Error("skipping undecodable queue message",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			if cerr := q.reader.CommitMessages(ctx, msg); cerr != nil {
				q.logger.Warn("commit undecodable message failed", zap.Error(cerr))
			}
			continue
		}
		if now := q.now(); !item.Ready(now) {
			timer := time.NewTimer(time.UnixMilli(item.NotBefore).Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			case <-timer.C:
			}
		}
		item.Receipt = msg
		return item, nil
	}
}

// Ack commits the message offset.
func (q *Queue) Ack(ctx context.Context, item crawler.QueueItem) error {
	msg, ok := item.Receipt.(kafka.Message)
	if !ok {
		return fmt.Errorf("queue item %s has no kafka receipt", item.JobID())
	}
	if err := q.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka commit: %w", err)
	}
	return nil
}

// Fail re-publishes the job with Attempt+1 and commits the original message.
func (q *Queue) Fail(ctx context.Context, item crawler.QueueItem, delay time.Duration) error {
	if err := q.Enqueue(ctx, queue.NextAttempt(item, delay, q.now())); err != nil {
		return err
	}
	return q.Ack(ctx, item)
}

// Close shuts down the reader and writer.
func (q *Queue) Close() error {
	return errors.Join(q.reader.Close(), q.writer.Close())
}
