package resolve

import (
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is used when a Cache is built with ttl <= 0.
const DefaultCacheTTL = 5 * time.Minute

type cacheKey struct {
	typ   MappingType
	scope string
	value string
}

type cacheEntry struct {
	outcome Outcome
	expires time.Time
}

// Cache memoizes resolution outcomes for a fixed TTL. It is safe for
// concurrent use. Entries expire lazily on Get.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

// NewCache returns a Cache. A nil clock means time.Now.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, now: now, entries: make(map[cacheKey]cacheEntry)}
}

func keyOf(t MappingType, scope, value string) cacheKey {
	return cacheKey{typ: t, scope: strings.ToUpper(scope), value: value}
}

// Get returns a live entry.
func (c *Cache) Get(t MappingType, scope, value string) (Outcome, bool) {
	k := keyOf(t, scope, value)

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		return Outcome{}, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, k)
		return Outcome{}, false
	}
	return e.outcome, true
}

// Put stores o until now+ttl.
func (c *Cache) Put(t MappingType, scope, value string, o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[keyOf(t, scope, value)] = cacheEntry{outcome: o, expires: c.now().Add(c.ttl)}
}

// Purge drops every entry for t, in all scopes.
func (c *Cache) Purge(t MappingType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.typ == t {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
