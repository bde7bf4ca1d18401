// Package traversal drives a single job's depth-first crawl.
package traversal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
	"github.com/JakeFAU/polite-crawler/internal/metrics"
	"github.com/JakeFAU/polite-crawler/internal/policy/retry"
)

// ErrFetchFailed is wrapped by Traverse when at least one URL could not be
// fetched after all retries.
var ErrFetchFailed = errors.New("fetch failed")

// Engine visits the pages of a job one at a time.
type Engine struct {
	fetcher crawler.Fetcher
	links   crawler.LinkExtractor
	robots  crawler.RobotsGate
	limiter crawler.RateLimiter
	retry   retry.Policy
	logger  *zap.Logger
}

// New constructs an Engine. policy governs per-URL fetch retries.
func New(
	fetcher crawler.Fetcher,
	links crawler.LinkExtractor,
	robots crawler.RobotsGate,
	limiter crawler.RateLimiter,
	policy retry.Policy,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		fetcher: fetcher,
		links:   links,
		robots:  robots,
		limiter: limiter,
		retry:   policy,
		logger:  logger,
	}
}

type frame struct {
	url   string
	depth int
}

// Traverse crawls job depth-first from its seed and returns one result per
// visited URL in visitation order. A URL that still fails after its retries
// is recorded as failed and the crawl continues; the returned error then
// wraps ErrFetchFailed. Results gathered so far are returned alongside any
// error.
func (e *Engine) Traverse(ctx context.Context, job crawler.Job) ([]crawler.Result, error) {
	seed, err := crawler.NormalizeURL(job.SeedURL)
	if err != nil {
		seed = job.SeedURL
	}
	visited := make(map[string]struct{})
	var (
		results  []crawler.Result
		failures []error
	)
	// Children are pushed in reverse so the first link on a page is popped
	// next, matching recursive visitation order.
	stack := []frame{{url: seed, depth: 0}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("traversal canceled: %w", err)
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[top.url]; seen || top.depth > job.MaxDepth {
			continue
		}
		visited[top.url] = struct{}{}
		logger := e.logger.With(
			zap.String("job_id", job.ID),
			zap.String("url", top.url),
			zap.Int("depth", top.depth),
		)

		if !e.robots.Allowed(ctx, top.url) {
			logger.Info("crawling disallowed by robots.txt")
			metrics.ObservePage(top.url, "disallowed")
			results = append(results, crawler.FailedResult(top.url))
			continue
		}

		resp, err := e.fetch(ctx, job, top.url, logger)
		if err != nil {
			if ctx.Err() != nil {
				return results, fmt.Errorf("traversal canceled: %w", ctx.Err())
			}
			logger.Error("fetch failed after retries", zap.Error(err))
			metrics.ObservePage(top.url, "failed")
			results = append(results, crawler.FailedResult(top.url))
			failures = append(failures, fmt.Errorf("%s: %w", top.url, err))
			continue
		}
		metrics.ObservePage(top.url, "ok")
		results = append(results, crawler.SucceededResult(top.url, string(resp.Body)))

		if job.Recursive && top.depth < job.MaxDepth {
			children := e.children(top.url, resp.Body, logger)
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, frame{url: children[i], depth: top.depth + 1})
			}
		}
	}
	if len(failures) > 0 {
		return results, fmt.Errorf("%w: %w", ErrFetchFailed, errors.Join(failures...))
	}
	return results, nil
}

func (e *Engine) fetch(
	ctx context.Context,
	job crawler.Job,
	url string,
	logger *zap.Logger,
) (crawler.FetchResponse, error) {
	host, err := crawler.HostOf(url)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	policy := e.retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.ObserveFetchRetry()
		logger.Warn("fetch attempt failed; retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
	var resp crawler.FetchResponse
	err = policy.Do(ctx, func(ctx context.Context, attempt int) error {
		// Every attempt is an outbound request and spends a permit.
		if err := e.limiter.Acquire(ctx, host, job.RateLimit); err != nil {
			return fmt.Errorf("acquire permit: %w", err)
		}
		logger.Debug("fetching url", zap.Int("attempt", attempt))
		r, err := e.fetcher.Fetch(ctx, url)
		if err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	return resp, nil
}

func (e *Engine) children(pageURL string, body []byte, logger *zap.Logger) []string {
	hrefs, err := e.links.Extract(pageURL, body)
	if err != nil {
		logger.Warn("link extraction failed", zap.Error(err))
		return nil
	}
	out := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		normalized, err := crawler.NormalizeURL(href)
		if err != nil {
			logger.Debug("skipping malformed link", zap.String("href", href), zap.Error(err))
			continue
		}
		out = append(out, normalized)
	}
	return out
}
