package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
)

func TestEncodeDecodeDropsReceipt(t *testing.T) {
	t.Parallel()

	item := crawler.QueueItem{
		Job:       crawler.Job{ID: "job-1", SeedURL: "https://a.test/", Recursive: true, MaxDepth: 2, RateLimit: 3},
		Attempt:   2,
		Submitted: 100,
		Receipt:   "raw",
	}
	payload, err := Encode(item)
	require.NoError(t, err)

	got, err := Decode(payload)
	require.NoError(t, err)
	item.Receipt = nil
	require.Equal(t, item, got)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte("{not json"))
	require.Error(t, err)
}

func TestNextAttempt(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_000)
	item := crawler.QueueItem{Job: crawler.Job{ID: "job-1"}, Attempt: 1, Receipt: "r"}
	next := NextAttempt(item, 10*time.Second, now)
	require.Equal(t, 2, next.Attempt)
	require.Equal(t, int64(11_000), next.NotBefore)
	require.Nil(t, next.Receipt)
	require.Equal(t, "job-1", next.JobID())
}
