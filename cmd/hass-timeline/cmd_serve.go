package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/hass-timeline/internal/api"
	"github.com/ajitpratap0/hass-timeline/internal/models"
	"github.com/ajitpratap0/hass-timeline/internal/scheduler"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/JSON API server and keep the timeline fresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := newApp(ctx, logger, func(events []models.Event) {
				logger.Debug("timeline published", "events", len(events))
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.close()
			logger.Info("timeline ready", "refresher", a.refresher.ID(), "cache_key", a.refresher.Key().String(), "cache_ttl", cfg.Cache.TTL)

			poller, err := scheduler.NewPoller(scheduler.Config{
				Logger:   logger,
				Target:   a.refresher,
				Interval: cfg.Refresh.Interval,
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			pollDone := make(chan scheduler.Report, 1)
			go func() { pollDone <- poller.Run(ctx) }()

			srv := api.NewServer(a.refresher, cfg.Timeline.Entities, cfg.Timeline.Global(), cfg.Timeline.Limit, logger,
				api.WithAuthToken(cfg.API.AuthToken),
				api.WithFormatter(a.formatTime),
			)

			if cfg.API.AuthToken == "" {
				logger.Warn("HTTP API: auth is DISABLED; set HASS_TIMELINE_API_AUTH_TOKEN or cfg.api.auth_token for production use")
			}

			httpSrv := &http.Server{
				Addr:              cfg.API.ListenAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("HTTP API server starting", "addr", cfg.API.ListenAddr)
				if listenErr := httpSrv.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
					errCh <- fmt.Errorf("serve: HTTP server: %w", listenErr)
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case startErr := <-errCh:
				if startErr != nil {
					return startErr
				}
				return nil
			}

			const shutdownTimeout = 10 * time.Second
			if shutdownErr := api.Shutdown(httpSrv, shutdownTimeout); shutdownErr != nil {
				return fmt.Errorf("serve: graceful shutdown: %w", shutdownErr)
			}

			report := <-pollDone
			a.refresher.Wait()
			logger.Info("refresh loop finished", "runs", report.Runs, "updates", report.Updates, "failures", report.Failures)

			// Drain the errCh in case ListenAndServe returned after Shutdown.
			if startErr := <-errCh; startErr != nil {
				return startErr
			}

			return nil
		},
	}
	return cmd
}
