package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ajitpratap0/hass-timeline/internal/history"
	"github.com/ajitpratap0/hass-timeline/internal/homeassistant"
	"github.com/ajitpratap0/hass-timeline/internal/models"
)

// Timeline is the part of timeline.Refresher the server exposes.
type Timeline interface {
	Load(ctx context.Context) ([]models.Event, error)
	RefreshInForeground(ctx context.Context) ([]models.Event, error)
}

// Formatter renders an event time for display.
type Formatter func(ms int64) string

// Server is an HTTP API server that exposes the timeline.
type Server struct {
	timeline  Timeline
	rules     []models.EntityRule
	global    models.GlobalOptions
	limit     int
	format    Formatter
	logger    *slog.Logger
	authToken string // empty = no auth required
}

// Option configures a Server.
type Option func(*Server)

// WithFormatter adds a formatted "when" field to every returned event.
func WithFormatter(f Formatter) Option {
	return func(s *Server) { s.format = f }
}

// WithAuthToken requires a Bearer token on all /v1 routes.
func WithAuthToken(token string) Option {
	return func(s *Server) { s.authToken = token }
}

// NewServer creates a new Server. rules, global and limit are the defaults
// for POST /v1/filter.
func NewServer(tl Timeline, rules []models.EntityRule, global models.GlobalOptions, limit int, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		timeline: tl,
		rules:    rules,
		global:   global,
		limit:    limit,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check and metrics, no auth required.
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/timeline", s.auth(s.handleTimeline))
	mux.HandleFunc("POST /v1/timeline/refresh", s.auth(s.handleRefresh))
	mux.HandleFunc("POST /v1/filter", s.auth(s.handleFilter))

	return mux
}

// --- middleware ---

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// entry is an event as returned by the API.
type entry struct {
	models.Event
	When string `json:"when,omitempty"`
}

// timelineResponse is returned by the timeline endpoints.
type timelineResponse struct {
	Events []entry `json:"events"`
	Count  int     `json:"count"`
}

// handleTimeline serves the cached timeline at once and revalidates it in
// the background. Only a cache miss waits for Home Assistant.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	limit := -1
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	events, err := s.timeline.Load(r.Context())
	if err != nil {
		s.writeFetchError(w, "failed to load timeline", err)
		return
	}
	if limit >= 0 && limit < len(events) {
		events = events[:limit]
	}

	s.writeJSON(w, http.StatusOK, s.response(events))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	events, err := s.timeline.RefreshInForeground(r.Context())
	if err != nil {
		s.writeFetchError(w, "failed to refresh timeline", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.response(events))
}

// filterRequest is the body accepted by POST /v1/filter. Omitted fields fall
// back to the server's configuration.
type filterRequest struct {
	Events             []models.Event `json:"events"`
	Rules              any            `json:"rules"`
	Limit              *int           `json:"limit"`
	CollapseDuplicates *bool          `json:"collapse_duplicates"`
}

// filterResponse is returned by POST /v1/filter.
type filterResponse struct {
	Events   []models.Event `json:"events"`
	Stats    history.Stats  `json:"stats"`
	Warnings []string       `json:"warnings,omitempty"`
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 4<<20) // 4 MB limit
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rules := s.rules
	var warnings []string
	if req.Rules != nil {
		var err error
		rules, warnings, err = models.NormalizeEntities(req.Rules)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid rules: "+err.Error())
			return
		}
	}

	limit := s.limit
	if req.Limit != nil {
		if *req.Limit < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = *req.Limit
	}
	global := s.global
	if req.CollapseDuplicates != nil {
		global.CollapseDuplicates = req.CollapseDuplicates
	}

	events, stats := history.FilterWithStats(req.Events, rules, limit, global)
	s.writeJSON(w, http.StatusOK, filterResponse{Events: events, Stats: stats, Warnings: warnings})
}

// --- helpers ---

func (s *Server) response(events []models.Event) timelineResponse {
	out := make([]entry, 0, len(events))
	for i := range events {
		e := entry{Event: events[i]}
		if s.format != nil && events[i].HasTime() {
			e.When = s.format(events[i].Time)
		}
		out = append(out, e)
	}
	return timelineResponse{Events: out, Count: len(out)}
}

// writeFetchError reports a failed Home Assistant fetch as 502.
func (s *Server) writeFetchError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	if errors.Is(err, homeassistant.ErrUnauthorized) {
		s.writeError(w, http.StatusBadGateway, "home assistant rejected the access token")
		return
	}
	s.writeError(w, http.StatusBadGateway, msg)
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
// This is a convenience helper used by the serve command.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
