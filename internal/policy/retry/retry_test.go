package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recordingSleeper(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestBackoffReusesLastScheduleEntry(t *testing.T) {
	t.Parallel()

	p := Default()
	require.Equal(t, 10*time.Second, p.Backoff(1))
	require.Equal(t, 20*time.Second, p.Backoff(2))
	require.Equal(t, 60*time.Second, p.Backoff(3))
	require.Equal(t, 60*time.Second, p.Backoff(4))
	require.Equal(t, 60*time.Second, p.Backoff(9))
	require.Equal(t, 10*time.Second, p.Backoff(0))
	require.Zero(t, New(3, nil).Backoff(1))
}

func TestDoSucceedsOnFourthAttempt(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	p := Default().WithSleeper(recordingSleeper(&delays))

	calls := 0
	err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		require.Equal(t, calls, attempt)
		if attempt < 4 {
			return errors.New("unreachable")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 4, calls)
	require.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 60 * time.Second}, delays)
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	var retried []int
	p := Default().WithSleeper(recordingSleeper(&delays))
	p.OnRetry = func(attempt int, _ time.Duration, _ error) {
		retried = append(retried, attempt)
	}

	boom := errors.New("boom")
	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, ErrExhausted)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 4, calls)
	require.Len(t, delays, 3)
	require.Equal(t, []int{1, 2, 3}, retried)
}

func TestDoStopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := New(4, []time.Duration{time.Hour})

	calls := 0
	err := p.Do(ctx, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestDoRealSleepHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p := New(2, []time.Duration{time.Hour})

	err := p.Do(ctx, func(context.Context, int) error {
		return errors.New("boom")
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := Default()
	require.True(t, p.ShouldRetry(1))
	require.True(t, p.ShouldRetry(3))
	require.False(t, p.ShouldRetry(4))
	require.False(t, New(0, nil).ShouldRetry(1))
}
