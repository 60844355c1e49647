package debrid

import (
	"sync"
	"time"
)

// DefaultResolutionTTL is how long a resolved URL is served without asking the provider again.
const DefaultResolutionTTL = time.Hour

// ResolutionCache maps a magnet identity to a playable URL with a bounded lifetime.
type ResolutionCache interface {
	Get(identity string) (string, bool)
	Put(identity, url string)
	Clear()
	Len() int
}

type cacheEntry struct {
	url      string
	storedAt time.Time
}

// MemoryCache is an in-process ResolutionCache. Expired entries are dropped lazily on Get.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

var _ ResolutionCache = (*MemoryCache)(nil)

// NewMemoryCache creates a cache; a non-positive ttl uses DefaultResolutionTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultResolutionTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// WithClock swaps the time source (used by tests).
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

// Get returns the URL when it was stored less than ttl ago.
func (c *MemoryCache) Get(identity string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[identity]
	if !ok {
		return "", false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, identity)
		return "", false
	}
	return entry.url, true
}

// Put stores or replaces the URL for identity. Empty values are ignored.
func (c *MemoryCache) Put(identity, url string) {
	if identity == "" || url == "" {
		return
	}
	c.mu.Lock()
	c.entries[identity] = cacheEntry{url: url, storedAt: c.now()}
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len counts stored entries, including expired ones not yet evicted.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
