// Package cache memoizes normalized source data by exact source name.
package cache

import (
	"sort"
	"sync"
)

// #region record

// Record is one cached fetch. RowCount is the raw row count returned by the
// provider; ApproxChars is the rune length of Data.
type Record struct {
	Data        string
	RowCount    int
	ApproxChars int
}

// #endregion record

// #region cache

// Cache is a concurrency-safe name → Record map. Entries are never evicted
// and never overwritten: the first successful Put for a name wins.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Record
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]Record)}
}

// Get returns the record for name, if present.
func (c *Cache) Get(name string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[name]
	return r, ok
}

// Put stores r under name unless name is already present. It reports whether
// the record was stored.
func (c *Cache) Put(name string, r Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; ok {
		return false
	}
	c.entries[name] = r
	return true
}

// Len returns the number of cached sources.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns cached source names in sorted order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// #endregion cache
