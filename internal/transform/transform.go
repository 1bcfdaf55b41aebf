// Package transform flattens Home Assistant history into timeline events.
package transform

import (
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/hass-timeline/internal/models"
)

// StateTranslator translates raw entity states for display.
type StateTranslator interface {
	State(domain, raw, deviceClass string) string
}

// Default icon colours.
const (
	ColorActive   = "#ffc107"
	ColorInactive = "#9e9e9e"
)

var domainIcons = map[string]string{
	"alarm_control_panel": "mdi:shield-home",
	"automation":          "mdi:robot",
	"binary_sensor":       "mdi:checkbox-blank-circle-outline",
	"climate":             "mdi:thermostat",
	"cover":               "mdi:window-shutter",
	"device_tracker":      "mdi:account",
	"fan":                 "mdi:fan",
	"input_boolean":       "mdi:toggle-switch-outline",
	"light":               "mdi:lightbulb",
	"lock":                "mdi:lock",
	"media_player":        "mdi:cast",
	"person":              "mdi:account",
	"sensor":              "mdi:eye",
	"switch":              "mdi:toggle-switch",
}

var activeStates = map[string]bool{
	"on": true, "open": true, "opening": true, "unlocked": true, "home": true, "playing": true,
}

// Result is the transform output together with the number of dropped records.
type Result struct {
	Events    []models.Event
	Malformed int
}

// History flattens raw into events in input order. Records without an entity
// id or with an unparsable last_changed are dropped and counted as malformed.
func History(raw models.History, rules []models.EntityRule, states map[string]models.State, tr StateTranslator) Result {
	byEntity := make(map[string]*models.EntityRule, len(rules))
	for i := range rules {
		if _, ok := byEntity[rules[i].Entity]; !ok {
			byEntity[rules[i].Entity] = &rules[i]
		}
	}

	var res Result
	for _, series := range raw {
		// Home Assistant only sends attributes on the first entry of a
		// series when minimal responses are enabled.
		var seriesAttrs models.State
		for _, st := range series {
			if st.Attributes != nil {
				seriesAttrs = st
				break
			}
		}
		for _, st := range series {
			if st.EntityID == "" {
				st.EntityID = series[0].EntityID
			}
			ms, ok := parseTime(st.LastChanged)
			if st.EntityID == "" || !ok {
				res.Malformed++
				continue
			}
			res.Events = append(res.Events, event(st, seriesAttrs, byEntity[st.EntityID], states[st.EntityID], tr, ms))
		}
	}
	if res.Events == nil {
		res.Events = []models.Event{}
	}
	return res
}

func event(st, seriesAttrs models.State, rule *models.EntityRule, current models.State, tr StateTranslator, ms int64) models.Event {
	domain := models.Domain(st.EntityID)
	attr := func(key string) string {
		for _, s := range []models.State{st, current, seriesAttrs} {
			if v := s.Attr(key); v != "" {
				return v
			}
		}
		return ""
	}

	ev := models.Event{
		ID:       st.EntityID,
		RawState: st.State,
		Time:     ms,
	}

	switch {
	case rule != nil && rule.Name != "":
		ev.Name = rule.Name
	case current.Attr("friendly_name") != "":
		ev.Name = current.Attr("friendly_name")
	case attr("friendly_name") != "":
		ev.Name = attr("friendly_name")
	default:
		ev.Name = st.EntityID
	}

	ev.State = displayState(domain, st.State, attr("device_class"), attr("unit_of_measurement"), tr)

	switch {
	case rule != nil && rule.Icon != "":
		ev.Icon = rule.Icon
	case attr("icon") != "":
		ev.Icon = attr("icon")
	default:
		ev.Icon = domainIcons[domain]
		if ev.Icon == "" {
			ev.Icon = "mdi:bookmark"
		}
	}

	switch {
	case rule != nil && rule.IconColor != "":
		ev.IconColor = rule.IconColor
	case activeStates[st.State]:
		ev.IconColor = ColorActive
	default:
		ev.IconColor = ColorInactive
	}
	return ev
}

func displayState(domain, raw, deviceClass, unit string, tr StateTranslator) string {
	if _, err := strconv.ParseFloat(raw, 64); err == nil && unit != "" {
		return raw + " " + unit
	}
	if tr == nil {
		return raw
	}
	return tr.State(domain, raw, deviceClass)
}

func parseTime(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, false
	}
	ms := models.EpochMillis(t)
	if ms <= 0 {
		return 0, false
	}
	return ms, true
}
