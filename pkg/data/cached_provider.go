package data

import (
	"sync"
	"time"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
)

type cacheEntry struct {
	modTime time.Time
	result  *backtest.Result
}

// MemoryCache implements ResultCache with an in-memory map
type MemoryCache struct {
	entries map[string]cacheEntry
	mutex   sync.RWMutex
}

// NewMemoryCache creates a new in-memory result cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached result when the stored modification time matches
func (c *MemoryCache) Get(path string, modTime time.Time) (*backtest.Result, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	e, ok := c.entries[path]
	if !ok || !e.modTime.Equal(modTime) {
		return nil, false
	}
	return e.result, true
}

// Set stores a parsed result
func (c *MemoryCache) Set(path string, modTime time.Time, result *backtest.Result) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries[path] = cacheEntry{modTime: modTime, result: result}
}
