package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/hass-timeline/internal/history"
	"github.com/ajitpratap0/hass-timeline/internal/homeassistant"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check connectivity to Home Assistant and the configured entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			allOK := true

			fmt.Printf("Config: OK (%s, %d entities)\n", cfg.HomeAssistant, len(cfg.Timeline.Entities))

			client := newClient(logger)

			// Check Home Assistant
			haCfg, err := client.Config(ctx)
			switch {
			case errors.Is(err, homeassistant.ErrUnauthorized):
				fmt.Println("Home Assistant: FAIL (token rejected)")
				return fmt.Errorf("one or more health checks failed")
			case err != nil:
				fmt.Printf("Home Assistant: FAIL (%v)\n", err)
				return fmt.Errorf("one or more health checks failed")
			default:
				fmt.Printf("Home Assistant: OK (version %s, language %s, time zone %s)\n",
					haCfg.Version, haCfg.Language, haCfg.TimeZone)
			}

			// Check configured entities exist
			states, err := client.States(ctx)
			if err != nil {
				fmt.Printf("Entities: FAIL (%v)\n", err)
				allOK = false
			} else {
				for i := range cfg.Timeline.Entities {
					id := cfg.Timeline.Entities[i].Entity
					if _, ok := states[id]; !ok {
						fmt.Printf("Entity %s: FAIL (unknown to Home Assistant)\n", id)
						allOK = false
					}
				}
				if allOK {
					fmt.Println("Entities: OK")
				}
			}

			global := cfg.Timeline.Global()
			for i := range cfg.Timeline.Entities {
				id := cfg.Timeline.Entities[i].Entity
				fmt.Printf("  %s\n", describePolicy(id, history.Resolve(id, cfg.Timeline.Entities, global)))
			}

			if !allOK {
				return fmt.Errorf("one or more health checks failed")
			}
			return nil
		},
	}
}

// describePolicy summarizes the effective filter policy for one entity.
func describePolicy(id string, r history.Resolved) string {
	var filter string
	switch {
	case len(r.IncludeStates) > 0:
		filter = "include " + strings.Join(r.IncludeStates, ",")
	case len(r.ExcludeStates) > 0:
		filter = "exclude " + strings.Join(r.ExcludeStates, ",")
	default:
		filter = "all states"
	}
	return fmt.Sprintf("%s: %s, collapse_duplicates=%t", id, filter, r.CollapseDuplicates)
}
