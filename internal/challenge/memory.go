// ABOUTME: Thread-safe in-process TTL cache for challenge keys
// ABOUTME: Size-limited with insertion-order eviction and a background expiry sweep

package challenge

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// memoryEntry stores the expiry and list element for a cached key.
type memoryEntry struct {
	expiresAt time.Time
	element   *list.Element
}

// MemoryCache is an in-process Cache. Uses a doubly-linked list to maintain
// insertion order for O(1) eviction once maxSize is reached.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[string]*memoryEntry
	order    *list.List // keys in insertion order (oldest at front)
	maxSize  int
	now      func() time.Time
	interval time.Duration
	done     chan struct{}
	closed   bool
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock replaces time.Now, for tests that move time forward.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) { c.now = now }
}

// WithSweepInterval sets how often expired entries are purged.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(c *MemoryCache) { c.interval = d }
}

// NewMemoryCache creates a cache holding at most maxSize keys.
// A background goroutine periodically removes expired entries until Close.
func NewMemoryCache(maxSize int, opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		entries:  make(map[string]*memoryEntry),
		order:    list.New(),
		maxSize:  maxSize,
		now:      time.Now,
		interval: time.Minute,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxSize <= 0 {
		c.maxSize = 10000
	}
	go c.sweep()
	return c
}

// Set stores key until ttl elapses. If the cache is at capacity, expired
// entries are dropped first and the oldest live entry is evicted only when
// that frees nothing.
func (c *MemoryCache) Set(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)

	if entry, exists := c.entries[key]; exists {
		entry.expiresAt = expiresAt
		c.order.MoveToBack(entry.element)
		return nil
	}

	if len(c.entries) >= c.maxSize {
		c.purgeExpiredLocked()
	}
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &memoryEntry{expiresAt: expiresAt, element: elem}
	return nil
}

// Get reports whether key is present and unexpired.
func (c *MemoryCache) Get(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return c.now().Before(entry.expiresAt), nil
}

// Delete removes key if present.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
	return nil
}

// Take removes key and reports whether it was live. An expired key is
// removed too but reported as absent.
func (c *MemoryCache) Take(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	live := c.now().Before(entry.expiresAt)
	c.removeLocked(key)
	return live, nil
}

// Len returns the number of stored keys, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) removeLocked(key string) {
	if entry, ok := c.entries[key]; ok {
		c.order.Remove(entry.element)
		delete(c.entries, key)
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *MemoryCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

func (c *MemoryCache) sweep() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.done:
			return
		}
	}
}

// purgeExpired removes all expired entries.
func (c *MemoryCache) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeExpiredLocked()
}

func (c *MemoryCache) purgeExpiredLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
	return nil
}
