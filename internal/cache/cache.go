// Package cache stores the last computed timeline per entity set, time window
// and language.
package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ajitpratap0/hass-timeline/internal/models"
)

// Cache holds filtered timelines. Reads and writes of a single key are atomic;
// different keys are independent. Implementations copy values on the way in
// and out.
type Cache interface {
	// Get returns the timeline stored for key.
	Get(key Key) ([]models.Event, bool)

	// Set replaces the timeline stored for key.
	Set(key Key, events []models.Event)
}

// Key identifies one cached timeline.
type Key struct {
	Entities string  `json:"entities"`
	Hours    float64 `json:"hours"`
	Language string  `json:"language"`
}

// String renders the key in the form used by the backing stores.
func (k Key) String() string {
	return k.Entities + "|" + strconv.FormatFloat(k.Hours, 'f', -1, 64) + "|" + k.Language
}

// NewKey builds a key from the configured rules. Any change to the rules,
// including presentation overrides, yields a different key.
func NewKey(rules []models.EntityRule, hours float64, language string) (Key, error) {
	digest, err := EntitySetKey(rules)
	if err != nil {
		return Key{}, err
	}
	return Key{Entities: digest, Hours: hours, Language: language}, nil
}

// EntitySetKey returns a stable digest of the rule list.
func EntitySetKey(rules []models.EntityRule) (string, error) {
	if rules == nil {
		rules = []models.EntityRule{}
	}
	b, err := json.Marshal(rules)
	if err != nil {
		return "", fmt.Errorf("encoding entity rules: %w", err)
	}
	return strconv.FormatUint(xxhash.Sum64(b), 16), nil
}

// New returns a MemoryCache when ttl is zero and a TTLCache otherwise.
func New(ttl time.Duration) (Cache, error) {
	if ttl <= 0 {
		return NewMemoryCache(), nil
	}
	return NewTTLCache(ttl)
}

func clone(events []models.Event) []models.Event {
	if events == nil {
		return nil
	}
	out := make([]models.Event, len(events))
	copy(out, events)
	return out
}
