package doh

import (
	"net/netip"
	"slices"
	"sync"
	"time"
)

// maxCacheEntries bounds the answer cache. When it is reached, expired
// entries are evicted, or else the entry expiring first.
const maxCacheEntries = 1000

// cache holds lookup answers until the smaller of their TTL and maxTTL
// expires. A zero maxTTL disables caching.
type cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	maxTTL  time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	addrs     []netip.Addr
	expiresAt time.Time
}

func newCache(maxTTL time.Duration) *cache {
	return &cache{
		entries: make(map[string]cacheEntry),
		maxTTL:  maxTTL,
		now:     time.Now,
	}
}

func (c *cache) get(name string) ([]netip.Addr, bool) {
	if c.maxTTL <= 0 {
		return nil, false
	}

	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, name)
		c.mu.Unlock()
		return nil, false
	}

	return slices.Clone(entry.addrs), true
}

func (c *cache) set(name string, addrs []netip.Addr, ttl time.Duration) {
	if c.maxTTL <= 0 || ttl <= 0 {
		return
	}

	ttl = min(ttl, c.maxTTL)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[name]; !ok && len(c.entries) >= maxCacheEntries {
		c.evict()
	}

	c.entries[name] = cacheEntry{
		addrs:     slices.Clone(addrs),
		expiresAt: c.now().Add(ttl),
	}
}

// evict removes expired entries, or the entry closest to expiry when none
// has expired. c.mu must be held.
func (c *cache) evict() {
	var (
		now    = c.now()
		oldest string
		first  time.Time
	)

	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			continue
		}

		if first.IsZero() || entry.expiresAt.Before(first) {
			oldest, first = key, entry.expiresAt
		}
	}

	if len(c.entries) >= maxCacheEntries {
		delete(c.entries, oldest)
	}
}
