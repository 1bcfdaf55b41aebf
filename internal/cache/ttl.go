package cache

import (
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v2"

	"github.com/ajitpratap0/hass-timeline/internal/models"
)

// TTLCache is a Cache whose entries expire ttl after they were written.
type TTLCache struct {
	store *ttlcache.Cache
}

// NewTTLCache creates a TTLCache. Reads do not extend an entry's lifetime.
func NewTTLCache(ttl time.Duration) (*TTLCache, error) {
	store := ttlcache.NewCache()
	if err := store.SetTTL(ttl); err != nil {
		return nil, fmt.Errorf("setting cache ttl: %w", err)
	}
	store.SkipTTLExtensionOnHit(true)
	return &TTLCache{store: store}, nil
}

// Get returns a copy of the timeline stored for key.
func (c *TTLCache) Get(key Key) ([]models.Event, bool) {
	v, err := c.store.Get(key.String())
	if err != nil {
		return nil, false
	}
	events, ok := v.([]models.Event)
	if !ok {
		return nil, false
	}
	return clone(events), true
}

// Set stores a copy of events under key, restarting its ttl.
func (c *TTLCache) Set(key Key, events []models.Event) {
	stored := clone(events)
	if stored == nil {
		stored = []models.Event{}
	}
	_ = c.store.Set(key.String(), stored)
}

// Len returns the number of live entries.
func (c *TTLCache) Len() int {
	return c.store.Count()
}

// Close stops the expiry goroutine.
func (c *TTLCache) Close() error {
	return c.store.Close()
}
