// Package ratelimit admits outbound fetches against a process-wide budget
// and a per-domain budget.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/polite-crawler/internal/cache"
	"github.com/JakeFAU/polite-crawler/internal/metrics"
)

// Mode selects the replenishment model.
type Mode string

const (
	// ModeFixed resets each budget to full capacity at every interval boundary.
	ModeFixed Mode = "fixed"
	// ModeSmooth uses token buckets that refill continuously.
	ModeSmooth Mode = "smooth"
)

// Config holds rate limiter configuration.
type Config struct {
	Global    int
	PerDomain int
	Interval  time.Duration
	Mode      Mode
	// CacheSize bounds the number of resident per-domain budgets.
	CacheSize int
}

// Limiter manages the global and per-domain budgets.
type Limiter struct {
	cfg Config
	now func() time.Time

	global       *window
	domains      *cache.Bounded[string, *window]
	smoothGlobal *rate.Limiter
	smooth       *cache.Bounded[string, *rate.Limiter]
}

// New creates a new Limiter.
func New(cfg Config) (*Limiter, error) {
	if cfg.Global <= 0 {
		return nil, fmt.Errorf("global rate must be > 0")
	}
	if cfg.PerDomain <= 0 {
		return nil, fmt.Errorf("per-domain rate must be > 0")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10_000
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeFixed
	}
	l := &Limiter{cfg: cfg, now: time.Now}
	switch cfg.Mode {
	case ModeFixed:
		domains, err := cache.New[string, *window](cfg.CacheSize, nil)
		if err != nil {
			return nil, fmt.Errorf("domain budgets: %w", err)
		}
		l.global = &window{}
		l.domains = domains
	case ModeSmooth:
		smooth, err := cache.New[string, *rate.Limiter](cfg.CacheSize, nil)
		if err != nil {
			return nil, fmt.Errorf("domain buckets: %w", err)
		}
		l.smoothGlobal = rate.NewLimiter(perInterval(cfg.Global, cfg.Interval), cfg.Global)
		l.smooth = smooth
	default:
		return nil, fmt.Errorf("unknown rate limit mode %q", cfg.Mode)
	}
	return l, nil
}

// Acquire blocks until a global permit and then a domain permit for host are
// available. A capacity of zero or less uses the configured per-domain rate.
// It only returns an error when ctx ends.
func (l *Limiter) Acquire(ctx context.Context, host string, capacity int) error {
	if capacity <= 0 {
		capacity = l.cfg.PerDomain
	}
	start := l.now()
	var err error
	if l.cfg.Mode == ModeSmooth {
		err = l.acquireSmooth(ctx, host, capacity)
	} else {
		err = l.acquireFixed(ctx, host, capacity)
	}
	if err != nil {
		return err
	}
	if waited := l.now().Sub(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) acquireFixed(ctx context.Context, host string, capacity int) error {
	if err := l.waitWindow(ctx, l.global, l.cfg.Global); err != nil {
		return err
	}
	w := l.domains.GetOrCreate(host, func() *window { return &window{} })
	return l.waitWindow(ctx, w, capacity)
}

func (l *Limiter) waitWindow(ctx context.Context, w *window, capacity int) error {
	for {
		delay := w.reserve(l.now(), capacity, l.cfg.Interval)
		if delay <= 0 {
			return nil
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
	}
}

func (l *Limiter) acquireSmooth(ctx context.Context, host string, capacity int) error {
	if err := l.smoothGlobal.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	limit := perInterval(capacity, l.cfg.Interval)
	bucket := l.smooth.GetOrCreate(host, func() *rate.Limiter {
		return rate.NewLimiter(limit, capacity)
	})
	// One bucket per host; the strictest capacity seen while it is
	// resident governs it.
	if limit < bucket.Limit() {
		bucket.SetLimit(limit)
		bucket.SetBurst(capacity)
	}
	if err := bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// window is a fixed-window permit counter aligned to interval boundaries.
type window struct {
	mu    sync.Mutex
	start time.Time
	used  int
}

// reserve consumes a permit when fewer than capacity have been used in the
// current window. Otherwise it returns the time left until the next boundary.
func (w *window) reserve(now time.Time, capacity int, interval time.Duration) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	current := now.Truncate(interval)
	if !current.Equal(w.start) {
		w.start = current
		w.used = 0
	}
	if w.used < capacity {
		w.used++
		return 0
	}
	return w.start.Add(interval).Sub(now)
}

func perInterval(n int, interval time.Duration) rate.Limit {
	return rate.Limit(float64(n) / interval.Seconds())
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
