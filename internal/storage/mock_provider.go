package storage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
)

// MockStore is a testify mock implementing Store.
type MockStore struct {
	mock.Mock
}

// SetResults is the mock implementation of crawler.ResultStore.
func (m *MockStore) SetResults(ctx context.Context, jobID string, results []crawler.Result, ttl time.Duration) error {
	args := m.Called(ctx, jobID, results, ttl)
	return args.Error(0) //nolint:wrapcheck
}

// GetResults is the mock implementation of crawler.ResultStore.
func (m *MockStore) GetResults(ctx context.Context, jobID string) ([]crawler.Result, bool, error) {
	args := m.Called(ctx, jobID)
	results, _ := args.Get(0).([]crawler.Result)
	return results, args.Bool(1), args.Error(2) //nolint:wrapcheck
}

// SetStatus is the mock implementation of crawler.StatusStore.
func (m *MockStore) SetStatus(ctx context.Context, record crawler.JobRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0) //nolint:wrapcheck
}

// GetStatus is the mock implementation of crawler.StatusStore.
func (m *MockStore) GetStatus(ctx context.Context, jobID string) (crawler.JobRecord, bool, error) {
	args := m.Called(ctx, jobID)
	record, _ := args.Get(0).(crawler.JobRecord)
	return record, args.Bool(1), args.Error(2) //nolint:wrapcheck
}
