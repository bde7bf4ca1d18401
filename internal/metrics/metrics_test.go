package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpersInitializeLazily(t *testing.T) {
	ObserveJob("succeeded")
	before := testutil.ToFloat64(crawlerJobsTotal.WithLabelValues("succeeded"))
	ObserveJob("succeeded")
	if got := testutil.ToFloat64(crawlerJobsTotal.WithLabelValues("succeeded")); got != before+1 {
		t.Fatalf("expected job counter to grow by one, got %f -> %f", before, got)
	}

	ObservePage("https://metrics.example/a", "ok")
	if got := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("metrics.example", "ok")); got < 1 {
		t.Fatalf("expected page counter to be observed, got %f", got)
	}

	IncActiveWorkers()
	DecActiveWorkers()
	ObserveFetchRetry()
	ObserveRobotsFetch("ok")
	ObserveRateLimitDelay("metrics.example", 10*time.Millisecond)
	if val := testutil.CollectAndCount(crawlerRateLimitDelaysSeconds); val <= 0 {
		t.Fatalf("expected rate limit histogram to be observed, got %d", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
