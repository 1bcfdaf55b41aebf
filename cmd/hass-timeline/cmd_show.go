package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func showCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Fetch the timeline once and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			a, err := newApp(cmd.Context(), logger, nil)
			if err != nil {
				return fmt.Errorf("show: %w", err)
			}
			defer a.close()

			if _, err := a.refresher.Load(cmd.Context()); err != nil {
				return fmt.Errorf("show: %w", err)
			}
			// A cache hit revalidates in the background; print what it settled on.
			a.refresher.Wait()
			events, _ := a.refresher.Current()

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}
			a.printTimeline(os.Stdout, events)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON")
	return cmd
}
