package crawler

import (
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the status store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusRetrying  JobStatus = "retrying"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Job is an accepted crawl request. It is immutable once enqueued.
type Job struct {
	ID        string `json:"id"`
	SeedURL   string `json:"url"`
	Recursive bool   `json:"recursive"`
	MaxDepth  int    `json:"depth"`
	// RateLimit is the per-domain requests per second for this job. Zero
	// means the configured default.
	RateLimit int `json:"rate_limit,omitempty"`
}

// Result is the outcome of visiting a single URL. Content is set only when
// the fetch succeeded.
type Result struct {
	URL     string  `json:"url"`
	Content *string `json:"content"`
	Error   bool    `json:"error"`
}

// SucceededResult builds a successful Result.
func SucceededResult(url, content string) Result {
	return Result{URL: url, Content: &content}
}

// FailedResult builds a failed Result without content.
func FailedResult(url string) Result {
	return Result{URL: url, Error: true}
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	Job       Job   `json:"job"`
	Attempt   int   `json:"attempt"`
	Submitted int64 `json:"submitted"`
	// NotBefore is the unix millisecond timestamp before which the item
	// must not be processed.
	NotBefore int64 `json:"not_before,omitempty"`
	// Receipt is the backend delivery handle used by Ack and Fail.
	Receipt any `json:"-"`
}

// JobID is a shorthand for item.Job.ID.
func (q QueueItem) JobID() string {
	return q.Job.ID
}

// Ready reports whether the item may be processed at now.
func (q QueueItem) Ready(now time.Time) bool {
	return q.NotBefore == 0 || now.UnixMilli() >= q.NotBefore
}

// JobRecord tracks the lifecycle of a job for status queries.
type JobRecord struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	ResultCount int       `json:"result_count"`
	Submitted   time.Time `json:"submitted_at"`
	Updated     time.Time `json:"updated_at"`
}

// JobEvent is published when a job attempt finishes.
type JobEvent struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error,omitempty"`
	Results   int       `json:"results"`
	Timestamp time.Time `json:"timestamp"`
}

// FetchResponse contains the outcome of fetching a page.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}
