package cache

import (
	"sync"

	"github.com/ajitpratap0/hass-timeline/internal/models"
)

// MemoryCache is a process-local Cache without expiry.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[Key][]models.Event
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[Key][]models.Event),
	}
}

// Get returns a copy of the timeline stored for key.
func (c *MemoryCache) Get(key Key) ([]models.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	events, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return clone(events), true
}

// Set stores a copy of events under key.
func (c *MemoryCache) Set(key Key, events []models.Event) {
	stored := clone(events)
	if stored == nil {
		stored = []models.Event{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = stored
}

// Len returns the number of cached timelines.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
