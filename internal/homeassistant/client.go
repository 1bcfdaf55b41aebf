// Package homeassistant is a small client for the Home Assistant REST API.
package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ajitpratap0/hass-timeline/internal/models"
)

// ErrUnauthorized is returned when Home Assistant rejects the access token.
var ErrUnauthorized = errors.New("home assistant rejected the access token")

// Client talks to one Home Assistant instance.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	clock   clockwork.Clock
	logger  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithClock sets the clock used to compute the history window.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// NewClient creates a client for baseURL authenticating with a long-lived
// access token.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		clock:   clockwork.NewRealClock(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// History returns the state changes of entityIDs over the last hours.
func (c *Client) History(ctx context.Context, entityIDs []string, hours float64) (models.History, error) {
	if len(entityIDs) == 0 {
		return models.History{}, nil
	}
	end := c.clock.Now().UTC()
	start := end.Add(-time.Duration(hours * float64(time.Hour)))

	q := url.Values{}
	q.Set("filter_entity_id", strings.Join(entityIDs, ","))
	q.Set("end_time", end.Format(time.RFC3339))
	path := "/api/history/period/" + url.PathEscape(start.Format(time.RFC3339)) + "?" + q.Encode()

	var hist models.History
	if err := c.getJSON(ctx, path, &hist); err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	c.logger.Debug("fetched history", "entities", len(entityIDs), "series", len(hist), "hours", hours)
	return hist, nil
}

// States returns the current state of every entity keyed by entity id.
func (c *Client) States(ctx context.Context) (map[string]models.State, error) {
	var states []models.State
	if err := c.getJSON(ctx, "/api/states", &states); err != nil {
		return nil, fmt.Errorf("fetching states: %w", err)
	}
	out := make(map[string]models.State, len(states))
	for _, s := range states {
		out[s.EntityID] = s
	}
	return out, nil
}

// Config returns the instance configuration.
func (c *Client) Config(ctx context.Context) (*models.HAConfig, error) {
	var cfg models.HAConfig
	if err := c.getJSON(ctx, "/api/config", &cfg); err != nil {
		return nil, fmt.Errorf("fetching config: %w", err)
	}
	return &cfg, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling Home Assistant API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("home assistant API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
