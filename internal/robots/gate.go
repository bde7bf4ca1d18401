// Package robots enforces robots.txt directives per host. Failures to
// obtain a policy allow the request and are retried on the next check.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/polite-crawler/internal/cache"
	"github.com/JakeFAU/polite-crawler/internal/metrics"
)

const maxRobotsBytes = 1 << 20

// Config controls the gate.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	CacheSize int
	// Client overrides the HTTP client used for robots.txt fetches.
	Client *http.Client
}

// Gate answers allow/deny for candidate URLs from cached robots policies.
type Gate struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	policies  *cache.Bounded[string, *robotstxt.RobotsData]
	inflight  singleflight.Group
	logger    *zap.Logger
}

// New builds a Gate.
func New(cfg Config, logger *zap.Logger) (*Gate, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10_000
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "NodeCrawler"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	policies, err := cache.New[string, *robotstxt.RobotsData](cfg.CacheSize, nil)
	if err != nil {
		return nil, fmt.Errorf("robots cache: %w", err)
	}
	return &Gate{
		client:    client,
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		policies:  policies,
		logger:    logger,
	}, nil
}

// Allowed reports whether rawURL may be fetched by the crawler user agent.
func (g *Gate) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		// The fetch will fail on its own.
		return true
	}
	data, err := g.load(ctx, parsed)
	if err != nil {
		g.logger.Warn("robots fetch failed; allowing access",
			zap.String("host", parsed.Host),
			zap.Error(err),
		)
		return true
	}
	group := data.FindGroup(g.userAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.RequestURI())
}

func (g *Gate) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Host)
	if data, ok := g.policies.Get(hostKey); ok {
		return data, nil
	}
	v, err, _ := g.inflight.Do(hostKey, func() (any, error) {
		if data, ok := g.policies.Get(hostKey); ok {
			return data, nil
		}
		data, err := g.fetch(ctx, parsed.Scheme, hostKey)
		if err != nil {
			metrics.ObserveRobotsFetch("error")
			return nil, err
		}
		metrics.ObserveRobotsFetch("ok")
		g.policies.Add(hostKey, data)
		return data, nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // already wrapped by fetch
	}
	data, ok := v.(*robotstxt.RobotsData)
	if !ok {
		return nil, fmt.Errorf("robots cache type mismatch: %T", v)
	}
	return data, nil
}

func (g *Gate) fetch(ctx context.Context, scheme, host string) (*robotstxt.RobotsData, error) {
	if scheme == "" {
		scheme = "http"
	}
	robotsURL := url.URL{Scheme: scheme, Host: host, Path: "/robots.txt"}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch robots: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}
