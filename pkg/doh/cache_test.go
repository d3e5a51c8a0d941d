package doh

import (
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheBounded(t *testing.T) {
	now := time.Unix(0, 0)

	c := newCache(DefaultCacheTTL)
	c.now = func() time.Time { return now }

	addrs := []netip.Addr{netip.MustParseAddr("127.0.0.1")}

	// Entry i expires after i+1 seconds, so "host-0.test" expires first.
	for i := range maxCacheEntries {
		c.set(fmt.Sprintf("host-%d.test", i), addrs, time.Duration(i+1)*time.Second)
	}
	require.Len(t, c.entries, maxCacheEntries)

	t.Run("live entries", func(t *testing.T) {
		c.set("new.test", addrs, time.Minute)

		assert.Len(t, c.entries, maxCacheEntries)
		assert.NotContains(t, c.entries, "host-0.test")
		assert.Contains(t, c.entries, "new.test")
	})

	t.Run("overwrite", func(t *testing.T) {
		c.set("new.test", addrs, 2*time.Minute)

		assert.Len(t, c.entries, maxCacheEntries)
		assert.Contains(t, c.entries, "host-1.test")
	})

	t.Run("expired entries", func(t *testing.T) {
		now = now.Add(10*time.Second + time.Millisecond)

		c.set("later.test", addrs, time.Minute)

		// host-1 through host-9 expired.
		assert.Len(t, c.entries, maxCacheEntries-9+1)
		assert.NotContains(t, c.entries, "host-9.test")
		assert.Contains(t, c.entries, "host-10.test")
		assert.Contains(t, c.entries, "later.test")
	})
}
