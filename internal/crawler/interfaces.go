package crawler

import (
	"context"
	"time"
)

// Queue provides at-least-once delivery of crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	// Ack removes a delivered item permanently.
	Ack(ctx context.Context, item QueueItem) error
	// Fail re-delivers the item with Attempt+1 once delay has elapsed.
	Fail(ctx context.Context, item QueueItem, delay time.Duration) error
}

// ResultStore persists the ordered results of a finished job.
type ResultStore interface {
	SetResults(ctx context.Context, jobID string, results []Result, ttl time.Duration) error
	GetResults(ctx context.Context, jobID string) ([]Result, bool, error)
}

// StatusStore tracks job lifecycle records.
type StatusStore interface {
	SetStatus(ctx context.Context, record JobRecord) error
	GetStatus(ctx context.Context, jobID string) (JobRecord, bool, error)
}

// Publisher pushes job events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher retrieves the body of a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// LinkExtractor returns the absolute outbound links of a page in document order.
type LinkExtractor interface {
	Extract(pageURL string, body []byte) ([]string, error)
}

// RobotsGate decides whether a URL may be fetched.
type RobotsGate interface {
	Allowed(ctx context.Context, url string) bool
}

// RateLimiter admits requests against the global and per-domain budgets.
type RateLimiter interface {
	// Acquire blocks until a global and a domain permit for host are
	// available. capacity is the per-domain budget for the caller.
	Acquire(ctx context.Context, host string, capacity int) error
}

// Pinger is implemented by backends that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
