// Package postgres provides a Postgres-backed result and status store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
	"github.com/JakeFAU/polite-crawler/internal/storage"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// StatusTTL is how long job records are kept. Zero uses
	// storage.DefaultResultTTL.
	StatusTTL time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store persists results and job records in the crawl_results and
// crawl_jobs tables created by RunMigrations.
type Store struct {
	pool      pool
	statusTTL time.Duration
	now       func() time.Time
}

// NewStore connects a pgx pool using cfg.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewStoreWithPool(p, cfg.StatusTTL)
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool, statusTTL time.Duration) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if statusTTL <= 0 {
		statusTTL = storage.DefaultResultTTL
	}
	return &Store{pool: p, statusTTL: statusTTL, now: time.Now}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// SetResults upserts the results of a job, expiring after ttl.
func (s *Store) SetResults(ctx context.Context, jobID string, results []crawler.Result, ttl time.Duration) error {
	payload, err := storage.EncodeResults(results)
	if err != nil {
		return err
	}
	const query = `
INSERT INTO crawl_results (job_id, results, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (job_id) DO UPDATE
SET results = EXCLUDED.results, expires_at = EXCLUDED.expires_at`
	if _, err := s.pool.Exec(ctx, query, jobID, payload, s.now().UTC().Add(ttl)); err != nil {
		return fmt.Errorf("upsert results: %w", err)
	}
	return nil
}

// GetResults reads unexpired results of a job.
func (s *Store) GetResults(ctx context.Context, jobID string) ([]crawler.Result, bool, error) {
	const query = `
SELECT results FROM crawl_results
WHERE job_id = $1 AND expires_at > $2`
	var payload []byte
	err := s.pool.QueryRow(ctx, query, jobID, s.now().UTC()).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select results: %w", err)
	}
	results, err := storage.DecodeResults(payload)
	if err != nil {
		return nil, false, err
	}
	return results, true, nil
}

// SetStatus upserts a job record.
func (s *Store) SetStatus(ctx context.Context, record crawler.JobRecord) error {
	const query = `
INSERT INTO crawl_jobs (id, status, attempts, error, result_count, submitted_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status,
	attempts = EXCLUDED.attempts,
	error = EXCLUDED.error,
	result_count = EXCLUDED.result_count,
	updated_at = EXCLUDED.updated_at,
	expires_at = EXCLUDED.expires_at`
	_, err := s.pool.Exec(ctx, query,
		record.ID,
		string(record.Status),
		record.Attempts,
		record.Error,
		record.ResultCount,
		record.Submitted,
		record.Updated,
		s.now().UTC().Add(s.statusTTL),
	)
	if err != nil {
		return fmt.Errorf("upsert job record: %w", err)
	}
	return nil
}

// GetStatus reads an unexpired job record.
func (s *Store) GetStatus(ctx context.Context, jobID string) (crawler.JobRecord, bool, error) {
	const query = `
SELECT id, status, attempts, error, result_count, submitted_at, updated_at FROM crawl_jobs
WHERE id = $1 AND expires_at > $2`
	var (
		record crawler.JobRecord
		status string
	)
	err := s.pool.QueryRow(ctx, query, jobID, s.now().UTC()).Scan(
		&record.ID,
		&status,
		&record.Attempts,
		&record.Error,
		&record.ResultCount,
		&record.Submitted,
		&record.Updated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.JobRecord{}, false, nil
	}
	if err != nil {
		return crawler.JobRecord{}, false, fmt.Errorf("select job record: %w", err)
	}
	record.Status = crawler.JobStatus(status)
	return record, true, nil
}

// PurgeExpired deletes expired results and records, returning the number of
// rows removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	results, err := s.pool.Exec(ctx, `DELETE FROM crawl_results WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge results: %w", err)
	}
	jobs, err := s.pool.Exec(ctx, `DELETE FROM crawl_jobs WHERE expires_at <= $1`, now)
	if err != nil {
		return results.RowsAffected(), fmt.Errorf("purge job records: %w", err)
	}
	return results.RowsAffected() + jobs.RowsAffected(), nil
}
