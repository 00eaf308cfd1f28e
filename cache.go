package main

import (
	"sync"
	"time"
)

type cachedContent struct {
	content   string
	fetchedAt time.Time
}

// ContentCache is a thread-safe TTL cache for fetched URL content, keyed by
// URL. Shared across all requests.
type ContentCache struct {
	mu      sync.RWMutex
	entries map[string]cachedContent
	ttl     time.Duration
}

// NewContentCache creates a content cache with the specified TTL.
func NewContentCache(ttl time.Duration) *ContentCache {
	return &ContentCache{
		entries: make(map[string]cachedContent),
		ttl:     ttl,
	}
}

// Get retrieves cached content for a URL if not expired.
func (c *ContentCache) Get(url string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[url]
	if !ok {
		return "", false
	}

	if time.Since(entry.fetchedAt) > c.ttl {
		return "", false
	}

	return entry.content, true
}

// Set stores content for a URL.
func (c *ContentCache) Set(url, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[url] = cachedContent{
		content:   content,
		fetchedAt: time.Now(),
	}
}

// Clear removes all cached entries.
func (c *ContentCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cachedContent)
}

// Size returns the number of cached entries, expired ones included.
func (c *ContentCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
