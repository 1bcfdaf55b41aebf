package models

import "time"

// Event is one normalized state change of an entity, ready for display.
// Name, State, Icon and IconColor are presentation payload; the history
// pipeline only reads ID, RawState and Time.
type Event struct {
	ID        string `json:"id"`
	RawState  string `json:"raw_state"`
	Time      int64  `json:"time"` // epoch milliseconds; <= 0 means unknown
	Name      string `json:"name"`
	State     string `json:"state"`
	Icon      string `json:"icon"`
	IconColor string `json:"icon_color"`
}

// HasTime reports whether the event carries an orderable timestamp.
func (e Event) HasTime() bool {
	return e.Time > 0
}

// EpochMillis converts t to the millisecond representation used by Event.Time.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// GlobalOptions holds timeline-wide defaults that entity rules may override.
type GlobalOptions struct {
	CollapseDuplicates *bool `json:"collapse_duplicates,omitempty"`
}

// Bool returns a pointer to b. Handy for optional config flags.
func Bool(b bool) *bool {
	return &b
}
