package cache

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetOrCreateCreatesOnce(t *testing.T) {
	t.Parallel()

	c, err := New[string, int](4, nil)
	require.NoError(t, err)

	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := c.GetOrCreate("a.example", func() int {
				calls.Add(1)
				return 7
			})
			require.Equal(t, 7, v)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 1, c.Len())
}

func TestBoundedEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	var evicted []string
	c, err := New[string, int](2, func(k string, _ int) {
		evicted = append(evicted, k)
	})
	require.NoError(t, err)

	c.Add("a", 1)
	c.Add("b", 2)
	_, ok := c.Get("a")
	require.True(t, ok)
	c.Add("c", 3)

	_, ok = c.Get("b")
	require.False(t, ok)
	require.Equal(t, []string{"b"}, evicted)
	require.Equal(t, 2, c.Len())

	c.Remove("a")
	_, ok = c.Get("a")
	require.False(t, ok)
}

func TestNewRejectsInvalidSize(t *testing.T) {
	t.Parallel()

	_, err := New[string, int](0, nil)
	require.Error(t, err)
}
