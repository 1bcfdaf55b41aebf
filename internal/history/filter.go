// Package history turns a flat list of state changes into a display timeline:
// filter, sort newest first, collapse per-entity duplicates and truncate.
package history

import (
	"slices"

	"github.com/ajitpratap0/hass-timeline/internal/models"
)

// Stats counts how many events each pipeline stage removed.
type Stats struct {
	Input     int `json:"input"`
	Filtered  int `json:"filtered"`
	Collapsed int `json:"collapsed"`
	Truncated int `json:"truncated"`
	Output    int `json:"output"`
}

// Filter runs the pipeline and returns a new newest-first slice of at most
// limit events. events is not modified.
func Filter(events []models.Event, rules []models.EntityRule, limit int, global models.GlobalOptions) []models.Event {
	out, _ := FilterWithStats(events, rules, limit, global)
	return out
}

// FilterWithStats is Filter plus per-stage drop counts.
func FilterWithStats(events []models.Event, rules []models.EntityRule, limit int, global models.GlobalOptions) ([]models.Event, Stats) {
	rs := NewRuleSet(rules, global)
	stats := Stats{Input: len(events)}

	kept := make([]models.Event, 0, len(events))
	for i := range events {
		if rs.Lookup(events[i].ID).Allows(events[i].RawState) {
			kept = append(kept, events[i])
		}
	}
	stats.Filtered = len(events) - len(kept)

	sortNewestFirst(kept)

	collapsed := CollapseDuplicates(kept, func(ev models.Event) bool {
		return rs.Lookup(ev.ID).CollapseDuplicates
	})
	stats.Collapsed = len(kept) - len(collapsed)

	if limit < 0 {
		limit = 0
	}
	if len(collapsed) > limit {
		stats.Truncated = len(collapsed) - limit
		collapsed = collapsed[:limit]
	}
	stats.Output = len(collapsed)
	return collapsed, stats
}

// sortNewestFirst orders by time descending. The sort is stable so events with
// equal times keep their input order. Events without a time sort last.
func sortNewestFirst(events []models.Event) {
	slices.SortStableFunc(events, func(a, b models.Event) int {
		switch {
		case !a.HasTime() && !b.HasTime():
			return 0
		case !a.HasTime():
			return 1
		case !b.HasTime():
			return -1
		case a.Time > b.Time:
			return -1
		case a.Time < b.Time:
			return 1
		}
		return 0
	})
}

// CollapseDuplicates walks a newest-first list oldest first and keeps the
// oldest event of every run of equal raw states per entity, even when other
// entities' events are interleaved. enabled decides per event whether it may
// be dropped. The tracker is updated for every kept event, including events
// for which collapsing is disabled. The result is newest first.
func CollapseDuplicates(events []models.Event, enabled func(models.Event) bool) []models.Event {
	last := make(map[string]string)
	reversed := make([]models.Event, 0, len(events))

	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		prev, seen := last[ev.ID]
		if seen && prev == ev.RawState && enabled(ev) {
			continue
		}
		reversed = append(reversed, ev)
		last[ev.ID] = ev.RawState
	}

	slices.Reverse(reversed)
	return reversed
}
