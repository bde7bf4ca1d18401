package traversal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
	"github.com/JakeFAU/polite-crawler/internal/links"
	"github.com/JakeFAU/polite-crawler/internal/policy/retry"
)

func TestTraverse_NonRecursiveSinglePage(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages["https://a.test/"] = page("https://b.test/")
	engine := newTestEngine(fetcher, &fakeRobots{}, &fakeLimiter{})

	results, err := engine.Traverse(context.Background(), crawler.Job{
		ID:      "job-1",
		SeedURL: "https://a.test/",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "https://a.test/", results[0].URL)
	require.False(t, results[0].Error)
	require.Equal(t, page("https://b.test/"), *results[0].Content)
	require.Equal(t, 0, fetcher.callCount("https://b.test/"))
}

func TestTraverse_RecursiveDeduplicatesCycles(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages["https://a.test/"] = page("https://b.test/", "https://c.test/")
	fetcher.pages["https://b.test/"] = page("https://a.test/")
	fetcher.pages["https://c.test/"] = page()
	engine := newTestEngine(fetcher, &fakeRobots{}, &fakeLimiter{})

	results, err := engine.Traverse(context.Background(), crawler.Job{
		ID:        "job-2",
		SeedURL:   "https://a.test/",
		Recursive: true,
		MaxDepth:  1,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.test/", "https://b.test/", "https://c.test/"}, urls(results))
	for _, r := range results {
		require.False(t, r.Error)
	}
	require.Equal(t, 1, fetcher.callCount("https://a.test/"))
}

func TestTraverse_DepthFirstOrderAndDepthBound(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages["https://a.test/"] = page("https://b.test/", "https://c.test/")
	fetcher.pages["https://b.test/"] = page("https://d.test/")
	fetcher.pages["https://c.test/"] = page("https://e.test/")
	fetcher.pages["https://d.test/"] = page("https://f.test/")
	fetcher.pages["https://e.test/"] = page()
	fetcher.pages["https://f.test/"] = page()
	engine := newTestEngine(fetcher, &fakeRobots{}, &fakeLimiter{})

	results, err := engine.Traverse(context.Background(), crawler.Job{
		ID:        "job-3",
		SeedURL:   "https://a.test/",
		Recursive: true,
		MaxDepth:  2,
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://a.test/",
		"https://b.test/",
		"https://d.test/",
		"https://c.test/",
		"https://e.test/",
	}, urls(results))
	require.Zero(t, fetcher.callCount("https://f.test/"))
}

func TestTraverse_DepthZeroRecursiveVisitsSeedOnly(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages["https://a.test/"] = page("https://b.test/")
	engine := newTestEngine(fetcher, &fakeRobots{}, &fakeLimiter{})

	results, err := engine.Traverse(context.Background(), crawler.Job{
		SeedURL:   "https://a.test/",
		Recursive: true,
		MaxDepth:  0,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.test/"}, urls(results))
}

func TestTraverse_NormalizesEquivalentLinks(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages["https://a.test/"] = page("https://B.test/#top", "https://b.test/")
	fetcher.pages["https://b.test/"] = page()
	engine := newTestEngine(fetcher, &fakeRobots{}, &fakeLimiter{})

	results, err := engine.Traverse(context.Background(), crawler.Job{
		SeedURL:   "HTTPS://A.test/",
		Recursive: true,
		MaxDepth:  1,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.test/", "https://b.test/"}, urls(results))
}

func TestTraverse_RobotsDenyRecordsFailureWithoutFetch(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages["https://c.test/secret"] = page()
	robots := &fakeRobots{deny: map[string]bool{"https://c.test/secret": true}}
	limiter := &fakeLimiter{}
	engine := newTestEngine(fetcher, robots, limiter)

	results, err := engine.Traverse(context.Background(), crawler.Job{SeedURL: "https://c.test/secret"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, crawler.FailedResult("https://c.test/secret"), results[0])
	require.Zero(t, fetcher.callCount("https://c.test/secret"))
	require.Zero(t, limiter.count())
}

func TestTraverse_RetrySucceedsOnFourthAttempt(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages["https://a.test/"] = page()
	fetcher.failures["https://a.test/"] = 3
	limiter := &fakeLimiter{}
	engine := newTestEngine(fetcher, &fakeRobots{}, limiter)

	results, err := engine.Traverse(context.Background(), crawler.Job{SeedURL: "https://a.test/", RateLimit: 2})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Error)
	require.Equal(t, 4, fetcher.callCount("https://a.test/"))
	require.Equal(t, 4, limiter.count())
	require.Equal(t, []int{2, 2, 2, 2}, limiter.capacities())
	require.Equal(t, []string{"a.test", "a.test", "a.test", "a.test"}, limiter.hostList())
}

func TestTraverse_ExhaustedSeedFailsAttempt(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.failures["https://down.test/"] = -1
	engine := newTestEngine(fetcher, &fakeRobots{}, &fakeLimiter{})

	results, err := engine.Traverse(context.Background(), crawler.Job{SeedURL: "https://down.test/"})
	require.ErrorIs(t, err, ErrFetchFailed)
	require.ErrorIs(t, err, retry.ErrExhausted)
	require.Equal(t, []crawler.Result{crawler.FailedResult("https://down.test/")}, results)
	require.Equal(t, 4, fetcher.callCount("https://down.test/"))
}

func TestTraverse_FailedChildDoesNotStopSiblings(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages["https://a.test/"] = page("https://b.test/", "https://c.test/")
	fetcher.failures["https://b.test/"] = -1
	fetcher.pages["https://c.test/"] = page()
	engine := newTestEngine(fetcher, &fakeRobots{}, &fakeLimiter{})

	results, err := engine.Traverse(context.Background(), crawler.Job{
		SeedURL:   "https://a.test/",
		Recursive: true,
		MaxDepth:  1,
	})
	require.ErrorIs(t, err, ErrFetchFailed)
	require.Contains(t, err.Error(), "https://b.test/")
	require.Equal(t, []string{"https://a.test/", "https://b.test/", "https://c.test/"}, urls(results))
	require.False(t, results[0].Error)
	require.True(t, results[1].Error)
	require.Nil(t, results[1].Content)
	require.False(t, results[2].Error)
}

func TestTraverse_CanceledContext(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages["https://a.test/"] = page()
	engine := newTestEngine(fetcher, &fakeRobots{}, &fakeLimiter{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := engine.Traverse(ctx, crawler.Job{SeedURL: "https://a.test/"})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, results)
}

func TestTraverse_LimiterErrorCountsAsFailedAttempt(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages["https://a.test/"] = page()
	limiter := &fakeLimiter{err: errors.New("limiter down")}
	engine := newTestEngine(fetcher, &fakeRobots{}, limiter)

	results, err := engine.Traverse(context.Background(), crawler.Job{SeedURL: "https://a.test/"})
	require.ErrorIs(t, err, ErrFetchFailed)
	require.Len(t, results, 1)
	require.Zero(t, fetcher.callCount("https://a.test/"))
}

func newTestEngine(fetcher crawler.Fetcher, robots crawler.RobotsGate, limiter crawler.RateLimiter) *Engine {
	policy := retry.Default().WithSleeper(func(context.Context, time.Duration) error { return nil })
	return New(fetcher, links.New(), robots, limiter, policy, zap.NewNop())
}

func page(hrefs ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<a href="%s">link</a>`, h)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func urls(results []crawler.Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.URL)
	}
	return out
}

type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	failures map[string]int
	calls    map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:    map[string]string{},
		failures: map[string]int{},
		calls:    map[string]int{},
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if remaining := f.failures[url]; remaining != 0 {
		if remaining > 0 {
			f.failures[url] = remaining - 1
		}
		return crawler.FetchResponse{}, errors.New("connection refused")
	}
	body, ok := f.pages[url]
	if !ok {
		return crawler.FetchResponse{}, fmt.Errorf("no page for %s", url)
	}
	return crawler.FetchResponse{URL: url, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type fakeRobots struct {
	deny map[string]bool
}

func (r *fakeRobots) Allowed(_ context.Context, url string) bool {
	return !r.deny[url]
}

type fakeLimiter struct {
	mu    sync.Mutex
	hosts []string
	caps  []int
	err   error
}

func (l *fakeLimiter) Acquire(_ context.Context, host string, capacity int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.hosts = append(l.hosts, host)
	l.caps = append(l.caps, capacity)
	return nil
}

func (l *fakeLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}

func (l *fakeLimiter) capacities() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.caps...)
}

func (l *fakeLimiter) hostList() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.hosts...)
}
