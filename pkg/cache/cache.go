// Package cache provides a bounded in-memory store with per-entry expiry.
// Entries are dropped when their TTL elapses or, once the capacity is
// reached, in least-recently-used order.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

type Cache[K comparable, V any] struct {
	items *lru.Cache[K, entry[V]]
	ttl   time.Duration
	now   func() time.Time
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// Replaces the clock used to compute expiry
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New[K comparable, V any](size int, ttl time.Duration, opts ...Option) (*Cache[K, V], error) {
	if ttl <= 0 {
		return nil, errors.Errorf("invalid cache ttl: %s", ttl)
	}

	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	items, err := lru.New[K, entry[V]](size)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create cache of size %d", size)
	}

	return &Cache[K, V]{items: items, ttl: ttl, now: o.now}, nil
}

func (c *Cache[K, V]) expired(e entry[V]) bool {
	return !c.now().Before(e.expires)
}

// Returns the value stored under key. Expired entries are removed and
// reported as absent. A hit refreshes the recency of the entry.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V

	e, ok := c.items.Get(key)
	if !ok {
		return zero, false
	}
	if c.expired(e) {
		c.items.Remove(key)
		return zero, false
	}
	return e.value, true
}

func (c *Cache[K, V]) Set(key K, value V) {
	c.SetTTL(key, value, c.ttl)
}

func (c *Cache[K, V]) SetTTL(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.items.Add(key, entry[V]{value: value, expires: c.now().Add(ttl)})
}

// Like Get, but does not touch the recency of the entry
func (c *Cache[K, V]) Has(key K) bool {
	e, ok := c.items.Peek(key)
	if !ok {
		return false
	}
	if c.expired(e) {
		c.items.Remove(key)
		return false
	}
	return true
}

func (c *Cache[K, V]) Delete(key K) {
	c.items.Remove(key)
}

func (c *Cache[K, V]) Clear() {
	c.items.Purge()
}

// Number of stored entries, expired ones included until touched
func (c *Cache[K, V]) Len() int {
	return c.items.Len()
}

func (c *Cache[K, V]) GetOrCompute(key K, compute func() (V, error)) (V, error) {
	return c.GetOrComputeTTL(key, c.ttl, compute)
}

// Returns the cached value or stores the result of compute. Concurrent
// misses on the same key each run compute; the last one to finish wins.
// Errors are returned to the caller and never stored.
func (c *Cache[K, V]) GetOrComputeTTL(key K, ttl time.Duration, compute func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}
	c.SetTTL(key, v, ttl)
	return v, nil
}
