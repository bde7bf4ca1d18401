// Package cache provides a bounded, concurrency-safe LRU with atomic
// get-or-create, shared by the robots gate and the rate limiter.
package cache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Bounded is an LRU cache capped at a fixed number of entries.
type Bounded[K comparable, V any] struct {
	mu  sync.Mutex
	lru *lru.Cache[K, V]
}

// New returns a Bounded cache holding at most size entries. onEvict may be nil.
func New[K comparable, V any](size int, onEvict func(K, V)) (*Bounded[K, V], error) {
	var (
		c   *lru.Cache[K, V]
		err error
	)
	if onEvict != nil {
		c, err = lru.NewWithEvict[K, V](size, onEvict)
	} else {
		c, err = lru.New[K, V](size)
	}
	if err != nil {
		return nil, fmt.Errorf("new lru cache: %w", err)
	}
	return &Bounded[K, V]{lru: c}, nil
}

// GetOrCreate returns the cached value for key, creating and inserting it
// with create when absent. Concurrent callers for one key observe a single
// create call.
func (b *Bounded[K, V]) GetOrCreate(key K, create func() V) V {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.lru.Get(key); ok {
		return v
	}
	v := create()
	b.lru.Add(key, v)
	return v
}

// Get returns the cached value and marks it recently used.
func (b *Bounded[K, V]) Get(key K) (V, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lru.Get(key)
}

// Add inserts or replaces a value.
func (b *Bounded[K, V]) Add(key K, value V) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lru.Add(key, value)
}

// Remove drops key if present.
func (b *Bounded[K, V]) Remove(key K) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lru.Remove(key)
}

// Len reports the number of resident entries.
func (b *Bounded[K, V]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lru.Len()
}
