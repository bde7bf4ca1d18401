// Package storage defines the persistence surface shared by the result and
// status store backends.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
)

// DefaultResultTTL is how long finished job results stay retrievable.
const DefaultResultTTL = 24 * time.Hour

// Store persists job results and lifecycle records.
type Store interface {
	crawler.ResultStore
	crawler.StatusStore
}

// EncodeResults serializes results in the API wire shape. A nil slice
// encodes as an empty array.
func EncodeResults(results []crawler.Result) ([]byte, error) {
	if results == nil {
		results = []crawler.Result{}
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("marshal results: %w", err)
	}
	return payload, nil
}

// DecodeResults parses a payload produced by EncodeResults.
func DecodeResults(payload []byte) ([]crawler.Result, error) {
	var results []crawler.Result
	if err := json.Unmarshal(payload, &results); err != nil {
		return nil, fmt.Errorf("unmarshal results: %w", err)
	}
	return results, nil
}

// EncodeStatus serializes a job record.
func EncodeStatus(record crawler.JobRecord) ([]byte, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal job record: %w", err)
	}
	return payload, nil
}

// DecodeStatus parses a payload produced by EncodeStatus.
func DecodeStatus(payload []byte) (crawler.JobRecord, error) {
	var record crawler.JobRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return crawler.JobRecord{}, fmt.Errorf("unmarshal job record: %w", err)
	}
	return record, nil
}

// Ping checks store readiness when the backend supports it.
func Ping(ctx context.Context, store Store) error {
	pinger, ok := store.(crawler.Pinger)
	if !ok {
		return nil
	}
	return pinger.Ping(ctx)
}
