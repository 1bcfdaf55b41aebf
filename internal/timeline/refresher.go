// Package timeline keeps a displayed timeline fresh: serve the cached timeline
// at once, recompute in the background and only publish a changed result.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ajitpratap0/hass-timeline/internal/cache"
	"github.com/ajitpratap0/hass-timeline/internal/history"
	"github.com/ajitpratap0/hass-timeline/internal/metrics"
	"github.com/ajitpratap0/hass-timeline/internal/models"
)

// Source produces the unfiltered events for the configured entities.
type Source interface {
	Events(ctx context.Context) ([]models.Event, error)
}

// NotifyFunc receives every timeline the Refresher publishes.
type NotifyFunc func(events []models.Event)

// Config holds the dependencies and timeline settings of a Refresher.
type Config struct {
	Logger   *slog.Logger
	Source   Source
	Cache    cache.Cache
	Rules    []models.EntityRule
	Global   models.GlobalOptions
	Limit    int
	Hours    float64
	Language string
	Notify   NotifyFunc
}

// Validate checks required fields and fills optional ones.
func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Source == nil {
		return errors.New("source is required")
	}
	if cfg.Cache == nil {
		return errors.New("cache is required")
	}
	if cfg.Limit < 0 {
		return errors.New("limit must be >= 0")
	}
	if cfg.Hours <= 0 {
		return errors.New("hours must be greater than 0")
	}
	if cfg.Notify == nil {
		cfg.Notify = func([]models.Event) {}
	}
	return nil
}

// Refresher owns the displayed timeline of one viewer.
type Refresher struct {
	id  string
	cfg Config
	key cache.Key
	log *slog.Logger

	flight singleflight.Group
	wg     sync.WaitGroup

	mu        sync.Mutex
	displayed []models.Event
	loaded    bool
}

// NewRefresher validates cfg and derives the cache key from it.
func NewRefresher(cfg Config) (*Refresher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	key, err := cache.NewKey(cfg.Rules, cfg.Hours, cfg.Language)
	if err != nil {
		return nil, fmt.Errorf("building cache key: %w", err)
	}
	id := uuid.NewString()
	return &Refresher{
		id:  id,
		cfg: cfg,
		key: key,
		log: cfg.Logger.With("refresher", id),
	}, nil
}

// ID identifies this refresher in logs.
func (r *Refresher) ID() string {
	return r.id
}

// Key returns the cache key of this refresher's timeline.
func (r *Refresher) Key() cache.Key {
	return r.key
}

// Load returns the cached timeline immediately and revalidates it in the
// background. Without a cached timeline it refreshes in the foreground.
func (r *Refresher) Load(ctx context.Context) ([]models.Event, error) {
	if cached, ok := r.cfg.Cache.Get(r.key); ok {
		metrics.CacheLookups.WithLabelValues(metrics.ResultCacheHit).Inc()
		r.log.Debug("serving cached timeline", "events", len(cached))
		r.mu.Lock()
		r.setDisplayedLocked(cached)
		r.mu.Unlock()
		r.notify(cached)
		r.RefreshInBackground(ctx)
		return cached, nil
	}
	metrics.CacheLookups.WithLabelValues(metrics.ResultCacheMiss).Inc()
	return r.RefreshInForeground(ctx)
}

// RefreshInForeground fetches, filters, caches and publishes a new timeline.
// On failure the cache and the displayed timeline are left untouched.
func (r *Refresher) RefreshInForeground(ctx context.Context) ([]models.Event, error) {
	items, err := r.compute(ctx, metrics.ModeForeground)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues(metrics.ModeForeground, metrics.ResultError).Inc()
		return nil, fmt.Errorf("refreshing timeline: %w", err)
	}

	r.mu.Lock()
	r.cfg.Cache.Set(r.key, items)
	r.setDisplayedLocked(items)
	r.mu.Unlock()

	metrics.RefreshTotal.WithLabelValues(metrics.ModeForeground, metrics.ResultUpdated).Inc()
	r.notify(items)
	return slices.Clone(items), nil
}

// RefreshInBackground starts a refresh without blocking the caller. The result
// is published only when it differs from the displayed timeline. Failures are
// logged and leave the displayed timeline in place. Cancelling ctx does not
// abort a refresh that already started.
func (r *Refresher) RefreshInBackground(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.refreshBackground(context.WithoutCancel(ctx))
	}()
}

// Revalidate is the synchronous form of RefreshInBackground. It reports
// whether a changed timeline was published.
func (r *Refresher) Revalidate(ctx context.Context) (bool, error) {
	items, err := r.compute(ctx, metrics.ModeBackground)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues(metrics.ModeBackground, metrics.ResultError).Inc()
		return false, fmt.Errorf("revalidating timeline: %w", err)
	}

	r.mu.Lock()
	if r.loaded && slices.Equal(items, r.displayed) {
		r.mu.Unlock()
		metrics.RefreshTotal.WithLabelValues(metrics.ModeBackground, metrics.ResultUnchanged).Inc()
		r.log.Debug("background refresh unchanged; skipping update", "events", len(items))
		return false, nil
	}
	r.cfg.Cache.Set(r.key, items)
	r.setDisplayedLocked(items)
	r.mu.Unlock()

	metrics.RefreshTotal.WithLabelValues(metrics.ModeBackground, metrics.ResultUpdated).Inc()
	r.notify(items)
	return true, nil
}

func (r *Refresher) refreshBackground(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			metrics.RefreshTotal.WithLabelValues(metrics.ModeBackground, metrics.ResultPanic).Inc()
			r.log.Error("background refresh panicked", "panic", p)
		}
	}()
	if _, err := r.Revalidate(ctx); err != nil {
		r.log.Warn("background refresh failed; keeping displayed timeline", "error", err)
	}
}

// Wait blocks until all background refreshes started so far have finished.
func (r *Refresher) Wait() {
	r.wg.Wait()
}

// Current returns the displayed timeline and whether one has been loaded.
func (r *Refresher) Current() ([]models.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.displayed), r.loaded
}

// compute runs fetch, transform and filter. Concurrent calls share one
// in-flight computation, which is detached from every caller's cancellation;
// each caller still stops waiting when its own ctx is done.
func (r *Refresher) compute(ctx context.Context, mode string) ([]models.Event, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := r.flight.DoChan(r.key.String(), func() (v any, err error) {
		// DoChan re-panics on a fresh goroutine, which nothing could recover.
		defer func() {
			if p := recover(); p != nil {
				metrics.RefreshTotal.WithLabelValues(mode, metrics.ResultPanic).Inc()
				err = fmt.Errorf("refresh panicked: %v", p)
			}
		}()

		start := time.Now()
		defer func() {
			metrics.RefreshDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
		}()

		events, err := r.cfg.Source.Events(flightCtx)
		if err != nil {
			return nil, err
		}
		items, stats := history.FilterWithStats(events, r.cfg.Rules, r.cfg.Limit, r.cfg.Global)
		metrics.EventsDropped.WithLabelValues(metrics.StageFiltered).Add(float64(stats.Filtered))
		metrics.EventsDropped.WithLabelValues(metrics.StageCollapsed).Add(float64(stats.Collapsed))
		metrics.EventsDropped.WithLabelValues(metrics.StageTruncated).Add(float64(stats.Truncated))
		r.log.Debug("timeline computed", "mode", mode, "input", stats.Input, "output", stats.Output,
			"filtered", stats.Filtered, "collapsed", stats.Collapsed, "truncated", stats.Truncated)
		return items, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			r.log.Debug("joined in-flight refresh", "mode", mode)
		}
		return slices.Clone(res.Val.([]models.Event)), nil
	}
}

func (r *Refresher) setDisplayedLocked(items []models.Event) {
	r.displayed = slices.Clone(items)
	if r.displayed == nil {
		r.displayed = []models.Event{}
	}
	r.loaded = true
}

func (r *Refresher) notify(items []models.Event) {
	metrics.TimelineSize.Set(float64(len(items)))
	r.cfg.Notify(slices.Clone(items))
}
