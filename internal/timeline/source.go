package timeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/hass-timeline/internal/metrics"
	"github.com/ajitpratap0/hass-timeline/internal/models"
	"github.com/ajitpratap0/hass-timeline/internal/transform"
)

// HistoryClient is the part of the Home Assistant client a HASource needs.
type HistoryClient interface {
	History(ctx context.Context, entityIDs []string, hours float64) (models.History, error)
	States(ctx context.Context) (map[string]models.State, error)
}

// HASource fetches history and current states from Home Assistant and
// flattens them into events.
type HASource struct {
	client     HistoryClient
	rules      []models.EntityRule
	hours      float64
	translator transform.StateTranslator
	logger     *slog.Logger
}

// NewHASource creates a Source for the entities in rules.
func NewHASource(client HistoryClient, rules []models.EntityRule, hours float64, tr transform.StateTranslator, logger *slog.Logger) *HASource {
	return &HASource{
		client:     client,
		rules:      rules,
		hours:      hours,
		translator: tr,
		logger:     logger,
	}
}

// Events fetches history and states concurrently and transforms them.
func (s *HASource) Events(ctx context.Context) ([]models.Event, error) {
	var (
		raw    models.History
		states map[string]models.State
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		raw, err = s.client.History(gctx, models.EntityIDs(s.rules), s.hours)
		return err
	})
	g.Go(func() error {
		var err error
		states, err = s.client.States(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	res := transform.History(raw, s.rules, states, s.translator)
	if res.Malformed > 0 {
		metrics.EventsDropped.WithLabelValues(metrics.StageMalformed).Add(float64(res.Malformed))
		s.logger.Warn("dropped malformed history records", "count", res.Malformed)
	}
	return res.Events, nil
}
