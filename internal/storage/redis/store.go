// Package redis stores job results and records in Redis string keys.
//
// Results live under "result:<jobID>" and records under "status:<jobID>",
// both written with an expiry.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
	"github.com/JakeFAU/polite-crawler/internal/storage"
)

const (
	resultPrefix = "result:"
	statusPrefix = "status:"
)

// Store is a Redis-backed storage.Store.
type Store struct {
	client    *redis.Client
	statusTTL time.Duration
}

// NewStore wraps an existing client. statusTTL <= 0 uses
// storage.DefaultResultTTL.
func NewStore(client *redis.Client, statusTTL time.Duration) *Store {
	if statusTTL <= 0 {
		statusTTL = storage.DefaultResultTTL
	}
	return &Store{client: client, statusTTL: statusTTL}
}

// SetResults writes results with an expiry of ttl.
func (s *Store) SetResults(ctx context.Context, jobID string, results []crawler.Result, ttl time.Duration) error {
	payload, err := storage.EncodeResults(results)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, resultPrefix+jobID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set results: %w", err)
	}
	return nil
}

// GetResults reads results; a missing or expired key reports found=false.
func (s *Store) GetResults(ctx context.Context, jobID string) ([]crawler.Result, bool, error) {
	payload, err := s.client.Get(ctx, resultPrefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get results: %w", err)
	}
	results, err := storage.DecodeResults(payload)
	if err != nil {
		return nil, false, err
	}
	return results, true, nil
}

// SetStatus writes a job record.
func (s *Store) SetStatus(ctx context.Context, record crawler.JobRecord) error {
	payload, err := storage.EncodeStatus(record)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, statusPrefix+record.ID, payload, s.statusTTL).Err(); err != nil {
		return fmt.Errorf("redis set status: %w", err)
	}
	return nil
}

// GetStatus reads a job record.
func (s *Store) GetStatus(ctx context.Context, jobID string) (crawler.JobRecord, bool, error) {
	payload, err := s.client.Get(ctx, statusPrefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return crawler.JobRecord{}, false, nil
	}
	if err != nil {
		return crawler.JobRecord{}, false, fmt.Errorf("redis get status: %w", err)
	}
	record, err := storage.DecodeStatus(payload)
	if err != nil {
		return crawler.JobRecord{}, false, err
	}
	return record, true, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
