package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	timelinemcp "github.com/ajitpratap0/hass-timeline/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout remains exclusively MCP protocol traffic.

Tools exposed:
  timeline  current timeline, loaded on first use
  refresh   fetch history from Home Assistant now
  filter    run the filter pipeline over posted events

If Home Assistant is unreachable at startup the server still starts;
the timeline and refresh tools return MCP error responses on failure.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()

			var tl timelinemcp.Timeline
			a, err := newApp(cmd.Context(), logger, nil)
			if err != nil {
				// Tool calls needing Home Assistant will return per-call errors.
				logger.Error("mcp: failed to set up timeline; timeline tools will fail", "error", err)
			} else {
				defer a.close()
				tl = a.refresher
			}

			srv := timelinemcp.NewServer(tl, cfg.Timeline.Entities, cfg.Timeline.Global(), cfg.Timeline.Limit, logger)

			// Use a standard log.Logger pointing at stderr for the mcp-go error logger.
			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)

			logger.Info("mcp: hass-timeline MCP server starting", "transport", "stdio")

			return mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
		},
	}

	return cmd
}
