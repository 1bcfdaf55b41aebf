package models

import "strings"

// State is a Home Assistant entity state as returned by /api/states and
// /api/history/period.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged string         `json:"last_changed"`
	LastUpdated string         `json:"last_updated,omitempty"`
}

// History is the raw history payload: one slice of states per entity.
type History [][]State

// HAConfig is the subset of /api/config the timeline needs.
type HAConfig struct {
	Language     string `json:"language"`
	TimeZone     string `json:"time_zone"`
	Version      string `json:"version"`
	LocationName string `json:"location_name"`
}

// Attr returns the string attribute key, or "" when absent or not a string.
func (s State) Attr(key string) string {
	if s.Attributes == nil {
		return ""
	}
	v, ok := s.Attributes[key].(string)
	if !ok {
		return ""
	}
	return v
}

// Domain returns the entity domain, e.g. "light" for "light.kitchen".
func Domain(entityID string) string {
	domain, _, ok := strings.Cut(entityID, ".")
	if !ok {
		return ""
	}
	return domain
}
