package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase host and scheme", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"default port", "http://example.com:80/a", "http://example.com/a"},
		{"fragment", "https://example.com/a#top", "https://example.com/a"},
		{"dot segments", "https://example.com/a/../b", "https://example.com/b"},
		{"query kept", "https://example.com/a?b=2&a=1", "https://example.com/a?b=2&a=1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	host, err := HostOf("https://A.example:8443/x")
	require.NoError(t, err)
	require.Equal(t, "a.example:8443", host)

	_, err = HostOf("/relative")
	require.Error(t, err)
}

func TestIsAbsoluteHTTP(t *testing.T) {
	t.Parallel()

	require.True(t, IsAbsoluteHTTP("http://a.example"))
	require.True(t, IsAbsoluteHTTP("https://a.example/x"))
	require.False(t, IsAbsoluteHTTP("ftp://a.example"))
	require.False(t, IsAbsoluteHTTP("/relative"))
	require.False(t, IsAbsoluteHTTP("not a url"))
}

func TestQueueItemReady(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(10_000)
	require.True(t, QueueItem{}.Ready(now))
	require.True(t, QueueItem{NotBefore: 10_000}.Ready(now))
	require.False(t, QueueItem{NotBefore: 10_001}.Ready(now))
}

func TestResultConstructors(t *testing.T) {
	t.Parallel()

	ok := SucceededResult("https://a.example", "<html></html>")
	require.False(t, ok.Error)
	require.NotNil(t, ok.Content)
	require.Equal(t, "<html></html>", *ok.Content)

	failed := FailedResult("https://b.example")
	require.True(t, failed.Error)
	require.Nil(t, failed.Content)
}
