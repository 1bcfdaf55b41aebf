// Package scheduler keeps a timeline fresh by revalidating it on an interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ajitpratap0/hass-timeline/internal/metrics"
	"github.com/ajitpratap0/hass-timeline/internal/models"
)

// Target is the part of timeline.Refresher the Poller drives.
type Target interface {
	Load(ctx context.Context) ([]models.Event, error)
	Revalidate(ctx context.Context) (bool, error)
}

// Report summarizes the results of a polling run.
type Report struct {
	Runs     int `json:"runs"`
	Updates  int `json:"updates"`
	Failures int `json:"failures"`
}

// Config configures a Poller.
type Config struct {
	Logger   *slog.Logger
	Target   Target
	Interval time.Duration
	Clock    clockwork.Clock
}

// Validate checks required fields and fills optional ones.
func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Target == nil {
		return errors.New("target is required")
	}
	if cfg.Interval <= 0 {
		return errors.New("interval must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Poller loads the timeline once and revalidates it every interval.
type Poller struct {
	cfg    Config
	log    *slog.Logger
	report Report
}

// NewPoller creates a new Poller.
func NewPoller(cfg Config) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Poller{cfg: cfg, log: cfg.Logger}, nil
}

// Run blocks until ctx is done and returns what happened meanwhile. A failed
// initial load is retried on the next tick.
func (p *Poller) Run(ctx context.Context) Report {
	p.log.Info("starting refresh loop", "interval", p.cfg.Interval)

	p.safeRun(ctx, func(ctx context.Context) (bool, error) {
		_, err := p.cfg.Target.Load(ctx)
		return err == nil, err
	})

	ticker := p.cfg.Clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.log.Info("refresh loop stopped", "runs", p.report.Runs, "updates", p.report.Updates, "failures", p.report.Failures)
			return p.report
		case <-ticker.Chan():
			p.safeRun(ctx, p.cfg.Target.Revalidate)
		}
	}
}

// safeRun keeps the loop alive when a refresh panics.
func (p *Poller) safeRun(ctx context.Context, fn func(context.Context) (bool, error)) {
	p.report.Runs++
	defer func() {
		if r := recover(); r != nil {
			p.report.Failures++
			metrics.RefreshTotal.WithLabelValues(metrics.ModeBackground, metrics.ResultPanic).Inc()
			p.log.Error("refresh panicked", "panic", r)
		}
	}()

	updated, err := fn(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.report.Failures++
		p.log.Warn("refresh failed; keeping displayed timeline", "error", err)
		return
	}
	if updated {
		p.report.Updates++
	}
}
