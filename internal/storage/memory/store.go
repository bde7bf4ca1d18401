// Package memory provides an in-memory result and status store for
// development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
	"github.com/JakeFAU/polite-crawler/internal/storage"
)

type resultEntry struct {
	results []crawler.Result
	expires time.Time
}

type statusEntry struct {
	record  crawler.JobRecord
	expires time.Time
}

// Store keeps results and job records in maps. Entries expire lazily on
// read according to the injected clock.
type Store struct {
	mu        sync.RWMutex
	clock     crawler.Clock
	statusTTL time.Duration
	results   map[string]resultEntry
	statuses  map[string]statusEntry
}

// NewStore constructs a Store. statusTTL <= 0 uses storage.DefaultResultTTL.
func NewStore(clock crawler.Clock, statusTTL time.Duration) *Store {
	if statusTTL <= 0 {
		statusTTL = storage.DefaultResultTTL
	}
	return &Store{
		clock:     clock,
		statusTTL: statusTTL,
		results:   make(map[string]resultEntry),
		statuses:  make(map[string]statusEntry),
	}
}

// SetResults stores a copy of results for ttl.
func (s *Store) SetResults(_ context.Context, jobID string, results []crawler.Result, ttl time.Duration) error {
	out := make([]crawler.Result, len(results))
	copy(out, results)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[jobID] = resultEntry{results: out, expires: s.clock.Now().Add(ttl)}
	return nil
}

// GetResults returns a copy of the stored results.
func (s *Store) GetResults(_ context.Context, jobID string) ([]crawler.Result, bool, error) {
	s.mu.RLock()
	entry, ok := s.results[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !s.clock.Now().Before(entry.expires) {
		s.mu.Lock()
		if current, ok := s.results[jobID]; ok && !s.clock.Now().Before(current.expires) {
			delete(s.results, jobID)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	out := make([]crawler.Result, len(entry.results))
	copy(out, entry.results)
	return out, true, nil
}

// SetStatus upserts a job record.
func (s *Store) SetStatus(_ context.Context, record crawler.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[record.ID] = statusEntry{record: record, expires: s.clock.Now().Add(s.statusTTL)}
	return nil
}

// GetStatus fetches a job record.
func (s *Store) GetStatus(_ context.Context, jobID string) (crawler.JobRecord, bool, error) {
	s.mu.RLock()
	entry, ok := s.statuses[jobID]
	s.mu.RUnlock()
	if !ok || !s.clock.Now().Before(entry.expires) {
		return crawler.JobRecord{}, false, nil
	}
	return entry.record, true, nil
}
