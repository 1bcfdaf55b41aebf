// Package metrics provides Prometheus collectors for timeline refreshes.
// Collectors register on the default registry and are served by the API
// server on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh modes and results used as label values.
const (
	ModeForeground = "foreground"
	ModeBackground = "background"

	ResultUpdated   = "updated"
	ResultUnchanged = "unchanged"
	ResultError     = "error"
	ResultPanic     = "panic"
	ResultCacheHit  = "hit"
	ResultCacheMiss = "miss"

	StageFiltered  = "filtered"
	StageCollapsed = "collapsed"
	StageTruncated = "truncated"
	StageMalformed = "malformed"
)

var (
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hass_timeline_refresh_total",
		Help: "Timeline refreshes by mode and result",
	}, []string{"mode", "result"})

	RefreshDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hass_timeline_refresh_duration_seconds",
		Help:    "Duration of fetch, transform and filter",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hass_timeline_cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hass_timeline_events_dropped_total",
		Help: "Events removed by pipeline stage",
	}, []string{"stage"})

	TimelineSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hass_timeline_displayed_events",
		Help: "Number of events in the most recently displayed timeline",
	})
)
