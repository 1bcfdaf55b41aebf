package homeassistant_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/hass-timeline/internal/homeassistant"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_History(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)

	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("filter_entity_id")
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "2026-03-01T12:00:00Z", r.URL.Query().Get("end_time"))
		_, _ = io.WriteString(w, `[[{"entity_id":"light.kitchen","state":"on","last_changed":"2026-03-01T11:00:00Z","attributes":{"friendly_name":"Kitchen"}}],
			[{"entity_id":"binary_sensor.door","state":"off","last_changed":"2026-03-01T10:30:00Z"}]]`)
	}))
	defer srv.Close()

	c := homeassistant.NewClient(srv.URL+"/", "secret", time.Second, newTestLogger(), homeassistant.WithClock(clock))
	hist, err := c.History(context.Background(), []string{"light.kitchen", "binary_sensor.door"}, 6)
	require.NoError(t, err)

	assert.Equal(t, "/api/history/period/2026-03-01T06:00:00Z", gotPath)
	assert.Equal(t, "light.kitchen,binary_sensor.door", gotQuery)
	assert.Equal(t, "Bearer secret", gotAuth)
	require.Len(t, hist, 2)
	assert.Equal(t, "Kitchen", hist[0][0].Attr("friendly_name"))
	assert.Equal(t, "off", hist[1][0].State)
}

func TestClient_HistoryNoEntities(t *testing.T) {
	c := homeassistant.NewClient("http://127.0.0.1:1", "t", time.Second, newTestLogger())
	hist, err := c.History(context.Background(), nil, 24)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestClient_States(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/states", r.URL.Path)
		_, _ = io.WriteString(w, `[{"entity_id":"light.kitchen","state":"on"},{"entity_id":"sensor.temp","state":"21.5"}]`)
	}))
	defer srv.Close()

	c := homeassistant.NewClient(srv.URL, "t", time.Second, newTestLogger())
	states, err := c.States(context.Background())
	require.NoError(t, err)
	assert.Len(t, states, 2)
	assert.Equal(t, "21.5", states["sensor.temp"].State)
}

func TestClient_Config(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"language":"de","time_zone":"Europe/Berlin","version":"2026.3.0"}`)
	}))
	defer srv.Close()

	c := homeassistant.NewClient(srv.URL, "t", time.Second, newTestLogger())
	cfg, err := c.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "de", cfg.Language)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: "rejected the access token"},
		{name: "server error", status: http.StatusInternalServerError, body: "boom", wantErr: "returned 500: boom"},
		{name: "bad json", status: http.StatusOK, body: "{not json", wantErr: "decoding response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := homeassistant.NewClient(srv.URL, "t", time.Second, newTestLogger())
			_, err := c.States(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
