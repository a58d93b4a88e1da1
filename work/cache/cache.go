package cache

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Cache is the in-memory merged-playlist cache, keyed by subscriber
// identity. Entries expire after the configured duration but are only
// evicted lazily: a stale entry is reported absent on Get and overwritten by
// the next Put. Keys are per-subscriber, so the map stays small and a
// background sweep is not worth its complexity.
//
// The store is an xsync map so concurrent requests for different subscribers
// never contend on a single lock.
type Cache struct {
	entries  *xsync.MapOf[string, entry]
	duration time.Duration
}

type entry struct {
	text      string
	timestamp time.Time
}

// New creates a Cache whose entries are valid for the given duration.
func New(duration time.Duration) *Cache {
	return &Cache{
		entries:  xsync.NewMapOf[string, entry](),
		duration: duration,
	}
}

// Get returns the cached text for a key when the entry exists and has not
// aged past the TTL.
func (c *Cache) Get(key string) (string, bool) {
	e, exists := c.entries.Load(key)
	if !exists || time.Since(e.timestamp) > c.duration {
		return "", false
	}
	return e.text, true
}

// Put stores text under the key with the current timestamp, overwriting any
// prior entry.
func (c *Cache) Put(key, text string) {
	c.entries.Store(key, entry{
		text:      text,
		timestamp: time.Now(),
	})
}

// Flush drops every entry. Used by the admin API after source changes.
func (c *Cache) Flush() {
	c.entries.Clear()
}

// Len reports the number of stored entries, stale ones included.
func (c *Cache) Len() int {
	return c.entries.Size()
}
