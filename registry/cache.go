package registry

import (
	"strings"
	"sync"
	"time"

	trigger "github.com/goliatone/go-trigger"
)

const (
	// DefaultCacheTTL bounds how long a per-event-type entry is served
	// before a store refresh.
	DefaultCacheTTL = 300 * time.Second
	// DefaultCacheCapacity bounds the number of cached event types.
	DefaultCacheCapacity = 10_000
)

type cacheEntry struct {
	actions   []*trigger.Action
	fetchedAt time.Time
}

// eventCache maps event type to its candidate action list. All access
// happens under a single mutex; on overflow the entry with the oldest
// fetchedAt is evicted.
type eventCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]cacheEntry
}

func newEventCache(ttl time.Duration, capacity int) *eventCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &eventCache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]cacheEntry),
	}
}

func (c *eventCache) get(eventType string, now time.Time) ([]*trigger.Action, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[eventType]
	if !ok {
		return nil, false
	}
	if now.Sub(entry.fetchedAt) > c.ttl {
		delete(c.entries, eventType)
		return nil, false
	}
	return entry.actions, true
}

func (c *eventCache) set(eventType string, actions []*trigger.Action, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[eventType]; !exists && len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[eventType] = cacheEntry{actions: actions, fetchedAt: now}
}

// evictOldest removes the entry with the oldest fetchedAt. Caller holds the
// lock.
func (c *eventCache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.fetchedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.fetchedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

// invalidate drops entries for the given event type patterns. A literal type
// drops its own entry; `*` drops everything; `prefix.*` drops every cached
// type under the prefix.
func (c *eventCache) invalidate(eventTypes []string) {
	if len(eventTypes) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pattern := range eventTypes {
		if pattern == "*" {
			c.entries = make(map[string]cacheEntry)
			return
		}
		if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
			for key := range c.entries {
				if strings.HasPrefix(key, prefix+".") {
					delete(c.entries, key)
				}
			}
			continue
		}
		delete(c.entries, pattern)
	}
}

func (c *eventCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
