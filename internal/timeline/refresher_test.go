package timeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/hass-timeline/internal/cache"
	"github.com/ajitpratap0/hass-timeline/internal/metrics"
	"github.com/ajitpratap0/hass-timeline/internal/models"
	"github.com/ajitpratap0/hass-timeline/internal/timeline"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource returns whatever events/err are currently set. When gate is
// non-nil every call blocks until it is closed.
type fakeSource struct {
	mu     sync.Mutex
	events []models.Event
	err    error
	gate   chan struct{}
	calls  atomic.Int32
}

func (f *fakeSource) set(events []models.Event, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events, f.err = events, err
}

func (f *fakeSource) Events(ctx context.Context) ([]models.Event, error) {
	f.calls.Add(1)
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Event(nil), f.events...), f.err
}

// recorder collects notifications.
type recorder struct {
	mu    sync.Mutex
	calls [][]models.Event
}

func (r *recorder) notify(events []models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, events)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) last() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

var rules = []models.EntityRule{
	{Entity: "binary_sensor.door", CollapseDuplicates: models.Bool(true)},
	{Entity: "light.kitchen", ExcludeStates: []string{"unavailable"}},
}

func backendEvents() []models.Event {
	return []models.Event{
		{ID: "binary_sensor.door", RawState: "on", Time: 1000},
		{ID: "binary_sensor.door", RawState: "on", Time: 2000},
		{ID: "light.kitchen", RawState: "unavailable", Time: 2500},
		{ID: "binary_sensor.door", RawState: "off", Time: 3000},
		{ID: "light.kitchen", RawState: "on", Time: 4000},
	}
}

func filteredBackendEvents() []models.Event {
	return []models.Event{
		{ID: "light.kitchen", RawState: "on", Time: 4000},
		{ID: "binary_sensor.door", RawState: "off", Time: 3000},
		{ID: "binary_sensor.door", RawState: "on", Time: 1000},
	}
}

func newRefresher(t *testing.T, src timeline.Source, c cache.Cache, rec *recorder) *timeline.Refresher {
	t.Helper()
	r, err := timeline.NewRefresher(timeline.Config{
		Logger:   newTestLogger(),
		Source:   src,
		Cache:    c,
		Rules:    rules,
		Limit:    10,
		Hours:    24,
		Language: "en",
		Notify:   rec.notify,
	})
	require.NoError(t, err)
	return r
}

func TestRefresher_CacheMissLoadsInForeground(t *testing.T) {
	src := &fakeSource{}
	src.set(backendEvents(), nil)
	c := cache.NewMemoryCache()
	rec := &recorder{}
	r := newRefresher(t, src, c, rec)

	got, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filteredBackendEvents(), got)

	cached, ok := c.Get(r.Key())
	require.True(t, ok)
	assert.Equal(t, filteredBackendEvents(), cached)

	assert.Equal(t, 1, rec.count())
	current, loaded := r.Current()
	assert.True(t, loaded)
	assert.Equal(t, got, current)
}

func TestRefresher_CacheHitSuppressesIdenticalUpdate(t *testing.T) {
	src := &fakeSource{}
	src.set(backendEvents(), nil)
	c := cache.NewMemoryCache()
	rec := &recorder{}

	first := newRefresher(t, src, c, &recorder{})
	_, err := first.Load(context.Background())
	require.NoError(t, err)

	unchanged := metrics.RefreshTotal.WithLabelValues(metrics.ModeBackground, metrics.ResultUnchanged)
	before := testutil.ToFloat64(unchanged)

	r := newRefresher(t, src, c, rec)
	got, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filteredBackendEvents(), got)
	r.Wait()

	assert.Equal(t, 1, rec.count(), "only the cached render, no second update")
	assert.InDelta(t, before+1, testutil.ToFloat64(unchanged), 0)
	assert.Equal(t, int32(2), src.calls.Load(), "background refresh still ran")
}

func TestRefresher_CacheHitPublishesChangedTimeline(t *testing.T) {
	src := &fakeSource{}
	src.set(backendEvents(), nil)
	c := cache.NewMemoryCache()
	rec := &recorder{}
	r := newRefresher(t, src, c, rec)

	_, err := r.Load(context.Background())
	require.NoError(t, err)

	changed := append(backendEvents(), models.Event{ID: "light.kitchen", RawState: "off", Time: 5000})
	src.set(changed, nil)

	got, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filteredBackendEvents(), got, "load returns the cached timeline")
	r.Wait()

	require.Equal(t, 3, rec.count())
	assert.Equal(t, "off", rec.last()[0].RawState)
	cached, _ := c.Get(r.Key())
	assert.Equal(t, rec.last(), cached)
}

func TestRefresher_LoadDoesNotWaitForBackgroundRefresh(t *testing.T) {
	src := &fakeSource{}
	src.set(backendEvents(), nil)
	c := cache.NewMemoryCache()
	r := newRefresher(t, src, c, &recorder{})
	_, err := r.Load(context.Background())
	require.NoError(t, err)

	gate := make(chan struct{})
	src.mu.Lock()
	src.gate = gate
	src.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Load(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Load blocked on the background refresh")
	}
	close(gate)
	r.Wait()
}

func TestRefresher_ForegroundFailureLeavesCacheUntouched(t *testing.T) {
	src := &fakeSource{}
	src.set(nil, errors.New("connection refused"))
	c := cache.NewMemoryCache()
	rec := &recorder{}
	r := newRefresher(t, src, c, rec)

	_, err := r.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	_, ok := c.Get(r.Key())
	assert.False(t, ok)
	_, loaded := r.Current()
	assert.False(t, loaded)
	assert.Zero(t, rec.count())
}

func TestRefresher_BackgroundFailureKeepsStaleTimeline(t *testing.T) {
	src := &fakeSource{}
	src.set(backendEvents(), nil)
	c := cache.NewMemoryCache()
	rec := &recorder{}
	r := newRefresher(t, src, c, rec)
	_, err := r.Load(context.Background())
	require.NoError(t, err)

	src.set(nil, errors.New("502 bad gateway"))
	got, err := r.Load(context.Background())
	require.NoError(t, err)
	r.Wait()

	assert.Equal(t, filteredBackendEvents(), got)
	current, _ := r.Current()
	assert.Equal(t, filteredBackendEvents(), current)
	cached, _ := c.Get(r.Key())
	assert.Equal(t, filteredBackendEvents(), cached)
	assert.Equal(t, 2, rec.count())
}

func TestRefresher_RevalidateReportsChange(t *testing.T) {
	src := &fakeSource{}
	src.set(backendEvents(), nil)
	r := newRefresher(t, src, cache.NewMemoryCache(), &recorder{})

	updated, err := r.Revalidate(context.Background())
	require.NoError(t, err)
	assert.True(t, updated, "nothing displayed yet")

	updated, err = r.Revalidate(context.Background())
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestRefresher_BackgroundIgnoresCallerCancellation(t *testing.T) {
	src := &fakeSource{}
	src.set(backendEvents(), nil)
	rec := &recorder{}
	r := newRefresher(t, src, cache.NewMemoryCache(), rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.RefreshInBackground(ctx)
	r.Wait()

	assert.Equal(t, 1, rec.count())
}

func TestRefresher_CoalescesConcurrentRefreshes(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{gate: gate}
	src.set(backendEvents(), nil)
	rec := &recorder{}
	r := newRefresher(t, src, cache.NewMemoryCache(), rec)

	r.RefreshInBackground(context.Background())
	r.RefreshInBackground(context.Background())
	require.Eventually(t, func() bool { return src.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(gate)
	r.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, 1, rec.count(), "identical coalesced results publish once")
}

func TestRefresher_LimitZero(t *testing.T) {
	src := &fakeSource{}
	src.set(backendEvents(), nil)
	r, err := timeline.NewRefresher(timeline.Config{
		Logger: newTestLogger(),
		Source: src,
		Cache:  cache.NewMemoryCache(),
		Limit:  0,
		Hours:  1,
	})
	require.NoError(t, err)

	got, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewRefresher_Validates(t *testing.T) {
	valid := func() timeline.Config {
		return timeline.Config{
			Logger: newTestLogger(),
			Source: &fakeSource{},
			Cache:  cache.NewMemoryCache(),
			Limit:  5,
			Hours:  24,
		}
	}

	tests := []struct {
		name   string
		mutate func(*timeline.Config)
		want   string
	}{
		{name: "logger", mutate: func(c *timeline.Config) { c.Logger = nil }, want: "logger"},
		{name: "source", mutate: func(c *timeline.Config) { c.Source = nil }, want: "source"},
		{name: "cache", mutate: func(c *timeline.Config) { c.Cache = nil }, want: "cache"},
		{name: "limit", mutate: func(c *timeline.Config) { c.Limit = -1 }, want: "limit"},
		{name: "hours", mutate: func(c *timeline.Config) { c.Hours = 0 }, want: "hours"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			_, err := timeline.NewRefresher(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := timeline.NewRefresher(valid())
	assert.NoError(t, err)
}

func TestRefresher_JoinedBackgroundSurvivesForegroundCancellation(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{gate: gate}
	src.set(backendEvents(), nil)
	rec := &recorder{}
	c := cache.NewMemoryCache()
	r := newRefresher(t, src, c, rec)

	ctx, cancel := context.WithCancel(context.Background())
	fgErr := make(chan error, 1)
	go func() {
		_, err := r.RefreshInForeground(ctx)
		fgErr <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() >= 1 }, time.Second, time.Millisecond)

	r.RefreshInBackground(context.Background())
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-fgErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("foreground refresh ignored its cancellation")
	}

	close(gate)
	r.Wait()

	current, loaded := r.Current()
	require.True(t, loaded, "background refresh must publish")
	assert.Equal(t, filteredBackendEvents(), current)
	cached, ok := c.Get(r.Key())
	require.True(t, ok)
	assert.Equal(t, filteredBackendEvents(), cached)
	assert.Equal(t, 1, rec.count())
}

type panicSource struct{}

func (panicSource) Events(context.Context) ([]models.Event, error) {
	panic("decoder bug")
}

func TestRefresher_SourcePanicBecomesError(t *testing.T) {
	rec := &recorder{}
	r := newRefresher(t, panicSource{}, cache.NewMemoryCache(), rec)

	_, err := r.RefreshInForeground(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoder bug")

	r.RefreshInBackground(context.Background())
	r.Wait()
	assert.Zero(t, rec.count())
	_, loaded := r.Current()
	assert.False(t, loaded)
}
