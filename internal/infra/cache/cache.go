package cache

import (
	"net/url"
	"sync"
	"time"
)

// entry is a cached value with the time it was stored and its lifetime
type entry[V any] struct {
	data     V
	storedAt time.Time
	ttl      time.Duration
}

// ResponseCache is a TTL map for remote lookups.
// Expired entries are removed lazily on Get.
type ResponseCache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	now     func() time.Time
}

// New creates an empty cache using the wall clock
func New[V any]() *ResponseCache[V] {
	return NewWithClock[V](time.Now)
}

// NewWithClock creates an empty cache with an injected clock (tests)
func NewWithClock[V any](now func() time.Time) *ResponseCache[V] {
	return &ResponseCache[V]{
		entries: make(map[string]entry[V]),
		now:     now,
	}
}

// Set stores value under key for ttl
func (c *ResponseCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{data: value, storedAt: c.now(), ttl: ttl}
}

// Get returns the value if it has not outlived its ttl.
func (c *ResponseCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.storedAt) > e.ttl {
		delete(c.entries, key)
		return zero, false
	}
	return e.data, true
}

// Clear removes all entries
func (c *ResponseCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of stored entries, expired ones included
func (c *ResponseCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Key builds a cache key from an endpoint and its query parameters.
// url.Values.Encode sorts by key, so parameter order does not matter.
func Key(endpoint string, params url.Values) string {
	if len(params) == 0 {
		return endpoint
	}
	return endpoint + "?" + params.Encode()
}
