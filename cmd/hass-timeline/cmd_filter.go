package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/hass-timeline/internal/history"
	"github.com/ajitpratap0/hass-timeline/internal/models"
)

func filterCmd() *cobra.Command {
	var (
		limit    int
		collapse bool
	)

	cmd := &cobra.Command{
		Use:   "filter [file]",
		Short: "Run the filter pipeline over a JSON file of events using the configured entities",
		Long:  "Reads a JSON array of events from file (or stdin when file is - or omitted) and prints the filtered timeline as JSON.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			var r io.Reader = os.Stdin
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("filter: %w", err)
				}
				defer func() { _ = f.Close() }()
				r = f
			}

			var events []models.Event
			if err := json.NewDecoder(r).Decode(&events); err != nil {
				return fmt.Errorf("filter: decoding events: %w", err)
			}

			if !cmd.Flags().Changed("limit") {
				limit = cfg.Timeline.Limit
			}
			global := cfg.Timeline.Global()
			if cmd.Flags().Changed("collapse") {
				global.CollapseDuplicates = models.Bool(collapse)
			}

			out, stats := history.FilterWithStats(events, cfg.Timeline.Entities, limit, global)
			logger.Debug("filtered events", "input", stats.Input, "filtered", stats.Filtered,
				"collapsed", stats.Collapsed, "truncated", stats.Truncated, "output", stats.Output)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of events (default: timeline.limit)")
	cmd.Flags().BoolVar(&collapse, "collapse", false, "Collapse duplicates for entities without their own setting")
	return cmd
}
