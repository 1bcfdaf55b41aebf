package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/hass-timeline/internal/cache"
	"github.com/ajitpratap0/hass-timeline/internal/config"
	"github.com/ajitpratap0/hass-timeline/internal/homeassistant"
	"github.com/ajitpratap0/hass-timeline/internal/i18n"
	"github.com/ajitpratap0/hass-timeline/internal/models"
	"github.com/ajitpratap0/hass-timeline/internal/timeline"
	"github.com/ajitpratap0/hass-timeline/pkg/timefmt"
)

var (
	cfg        *config.Config
	configPath string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:   "hass-timeline",
		Short: "hass-timeline: Home Assistant history as a compact, newest-first timeline",
		Long:  "Fetches entity history from Home Assistant, filters and collapses it per entity and keeps the result fresh with a stale-while-revalidate cache.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// godotenv does not override variables that are already set.
			_ = godotenv.Load()

			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger := newLogger()
			for _, w := range cfg.Warnings {
				logger.Warn("config", "warning", w)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ~/.hass-timeline/config.yaml or ./config.yaml)")

	rootCmd.AddCommand(
		showCmd(),
		serveCmd(),
		mcpCmd(),
		healthCmd(),
		filterCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil && cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var w io.Writer = os.Stderr
	if cfg != nil {
		switch cfg.Logging.Format {
		case "json":
			return slog.New(slog.NewJSONHandler(w, opts))
		case "pretty":
			return slog.New(tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen}))
		}
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newClient(logger *slog.Logger) *homeassistant.Client {
	return homeassistant.NewClient(
		cfg.HomeAssistant.BaseURL,
		cfg.HomeAssistant.Token,
		cfg.HomeAssistant.Timeout,
		logger,
	)
}

// app bundles what every timeline-serving command needs.
type app struct {
	client     *homeassistant.Client
	cache      cache.Cache
	translator *i18n.Translator
	location   *time.Location
	refresher  *timeline.Refresher
	view       config.TimelineConfig
}

// newApp resolves language and time zone, falling back to the Home Assistant
// instance's settings, and wires a Refresher over a fresh cache.
func newApp(ctx context.Context, logger *slog.Logger, notify timeline.NotifyFunc) (*app, error) {
	client := newClient(logger)

	lang := cfg.Timeline.Language
	location := time.Local
	haCfg, err := client.Config(ctx)
	if err != nil {
		logger.Warn("could not read Home Assistant settings; using local defaults", "error", err)
	} else {
		if lang == "" {
			lang = haCfg.Language
		}
		if haCfg.TimeZone != "" {
			if loc, locErr := time.LoadLocation(haCfg.TimeZone); locErr == nil {
				location = loc
			}
		}
	}

	tr, err := i18n.New(i18n.ResolveLanguage(lang, os.Getenv("LANG")))
	if err != nil {
		return nil, fmt.Errorf("loading translations: %w", err)
	}

	c, err := cache.New(cfg.Cache.TTL)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	src := timeline.NewHASource(client, cfg.Timeline.Entities, cfg.Timeline.Hours, tr, logger)
	ref, err := timeline.NewRefresher(timeline.Config{
		Logger:   logger,
		Source:   src,
		Cache:    c,
		Rules:    cfg.Timeline.Entities,
		Global:   cfg.Timeline.Global(),
		Limit:    cfg.Timeline.Limit,
		Hours:    cfg.Timeline.Hours,
		Language: tr.Code(),
		Notify:   notify,
	})
	if err != nil {
		return nil, fmt.Errorf("creating refresher: %w", err)
	}

	return &app{
		client:     client,
		cache:      c,
		translator: tr,
		location:   location,
		refresher:  ref,
		view:       cfg.Timeline,
	}, nil
}

// formatTime renders ms according to timeline.relative_time.
func (a *app) formatTime(ms int64) string {
	if a.view.RelativeTime {
		return timefmt.Relative(ms, time.Now(), a.translator)
	}
	return timefmt.Absolute(ms, a.translator.Code(), a.location)
}

func (a *app) close() {
	if c, ok := a.cache.(io.Closer); ok {
		_ = c.Close()
	}
}

// printTimeline writes the title and one line per event. Columns follow the
// show_icons, show_names and show_states settings.
func (a *app) printTimeline(w io.Writer, events []models.Event) {
	if a.view.Title != "" {
		fmt.Fprintln(w, a.view.Title)
	}
	if len(events) == 0 {
		fmt.Fprintln(w, a.translator.T("empty"))
		return
	}
	for i := range events {
		ev := events[i]
		when := "-"
		if ev.HasTime() {
			when = a.formatTime(ev.Time)
		}
		cols := []string{fmt.Sprintf("%-20s", when)}
		if a.view.ShowIcons {
			cols = append(cols, fmt.Sprintf("%-36s", ev.Icon))
		}
		if a.view.ShowNames {
			cols = append(cols, fmt.Sprintf("%-30s", truncate(ev.Name, 30)))
		}
		if a.view.ShowStates {
			cols = append(cols, ev.State)
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(cols, " "), " "))
	}
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
