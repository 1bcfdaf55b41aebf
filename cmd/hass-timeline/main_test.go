package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/hass-timeline/internal/config"
	"github.com/ajitpratap0/hass-timeline/internal/history"
	"github.com/ajitpratap0/hass-timeline/internal/i18n"
	"github.com/ajitpratap0/hass-timeline/internal/models"
)

func testApp(t *testing.T, view config.TimelineConfig) *app {
	t.Helper()
	tr, err := i18n.New("en")
	require.NoError(t, err)
	return &app{translator: tr, location: time.UTC, view: view}
}

func sampleEvents() []models.Event {
	at := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	return []models.Event{
		{ID: "binary_sensor.door", Name: "Front door", State: "Open", Icon: "mdi:door-open", Time: at.UnixMilli()},
		{ID: "light.kitchen", Name: "Kitchen", State: "Off", Icon: "mdi:lightbulb-off"},
	}
}

func TestPrintTimeline_AllColumns(t *testing.T) {
	a := testApp(t, config.TimelineConfig{Title: "Downstairs", ShowNames: true, ShowStates: true, ShowIcons: true})

	var buf bytes.Buffer
	a.printTimeline(&buf, sampleEvents())

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Downstairs", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "Mar 1, 10:05"), lines[1])
	assert.Contains(t, lines[1], "mdi:door-open")
	assert.Contains(t, lines[1], "Front door")
	assert.True(t, strings.HasSuffix(lines[1], "Open"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "-"), "unknown time renders as a dash")
}

func TestPrintTimeline_HiddenColumns(t *testing.T) {
	a := testApp(t, config.TimelineConfig{ShowStates: true})

	var buf bytes.Buffer
	a.printTimeline(&buf, sampleEvents())

	out := buf.String()
	assert.NotContains(t, out, "mdi:")
	assert.NotContains(t, out, "Front door")
	assert.Contains(t, out, "Open")
	assert.Equal(t, 2, strings.Count(out, "\n"), "no title line when title is empty")
}

func TestPrintTimeline_Empty(t *testing.T) {
	a := testApp(t, config.TimelineConfig{Title: "Garage"})

	var buf bytes.Buffer
	a.printTimeline(&buf, nil)

	assert.Equal(t, "Garage\nNo events in this time range.\n", buf.String())
}

func TestFormatTime_Relative(t *testing.T) {
	a := testApp(t, config.TimelineConfig{RelativeTime: true})
	ms := time.Now().Add(-3 * time.Hour).UnixMilli()
	assert.Equal(t, "3 hours ago", a.formatTime(ms))

	a.view.RelativeTime = false
	assert.Equal(t, time.UnixMilli(ms).UTC().Format("Jan 2, 15:04"), a.formatTime(ms))
}

func TestDescribePolicy(t *testing.T) {
	rules := []models.EntityRule{
		{Entity: "light.kitchen", IncludeStates: []string{"on", "off"}},
		{Entity: "sensor.temp", ExcludeStates: []string{"unavailable"}, CollapseDuplicates: models.Bool(false)},
	}
	global := models.GlobalOptions{CollapseDuplicates: models.Bool(true)}

	assert.Equal(t, "light.kitchen: include on,off, collapse_duplicates=true",
		describePolicy("light.kitchen", history.Resolve("light.kitchen", rules, global)))
	assert.Equal(t, "sensor.temp: exclude unavailable, collapse_duplicates=false",
		describePolicy("sensor.temp", history.Resolve("sensor.temp", rules, global)))
	assert.Equal(t, "switch.fan: all states, collapse_duplicates=true",
		describePolicy("switch.fan", history.Resolve("switch.fan", rules, global)))
}
