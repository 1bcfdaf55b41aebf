// Package mcp implements the Model Context Protocol server for hass-timeline.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ajitpratap0/hass-timeline/internal/history"
	"github.com/ajitpratap0/hass-timeline/internal/models"
)

// Timeline is the part of timeline.Refresher the tools use.
type Timeline interface {
	Load(ctx context.Context) ([]models.Event, error)
	RefreshInForeground(ctx context.Context) ([]models.Event, error)
}

// Server wraps an MCPServer with the timeline and its configured rules.
type Server struct {
	mcp    *mcpserver.MCPServer
	tl     Timeline
	rules  []models.EntityRule
	global models.GlobalOptions
	limit  int
	logger *slog.Logger
}

// NewServer creates a new MCP server. If tl is nil the timeline and refresh
// tools return an error response instead of panicking; filter still works.
func NewServer(tl Timeline, rules []models.EntityRule, global models.GlobalOptions, limit int, logger *slog.Logger) *Server {
	s := &Server{
		tl:     tl,
		rules:  rules,
		global: global,
		limit:  limit,
		logger: logger,
	}

	mcpSrv := mcpserver.NewMCPServer(
		"hass-timeline",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(buildTimelineTool(), s.handleTimeline)
	mcpSrv.AddTool(buildRefreshTool(), s.handleRefresh)
	mcpSrv.AddTool(buildFilterTool(), s.handleFilter)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// HandleTimeline is the exported handler for the "timeline" tool.
// It is exposed for direct testing without the mcp-go transport layer.
func (s *Server) HandleTimeline(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleTimeline(ctx, req)
}

// HandleRefresh is the exported handler for the "refresh" tool.
func (s *Server) HandleRefresh(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleRefresh(ctx, req)
}

// HandleFilter is the exported handler for the "filter" tool.
func (s *Server) HandleFilter(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleFilter(ctx, req)
}

// --- helpers ---

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// --- tool definitions ---

func buildTimelineTool() mcpgo.Tool {
	return mcpgo.NewTool("timeline",
		mcpgo.WithDescription("Get the Home Assistant history timeline, newest event first. Served from cache when possible and refreshed in the background."),
		mcpgo.WithNumber("limit",
			mcpgo.Description("Maximum number of events to return (default: all displayed events)"),
		),
	)
}

func buildRefreshTool() mcpgo.Tool {
	return mcpgo.NewTool("refresh",
		mcpgo.WithDescription("Fetch history from Home Assistant now and return the updated timeline."),
	)
}

func buildFilterTool() mcpgo.Tool {
	return mcpgo.NewTool("filter",
		mcpgo.WithDescription("Run the timeline filter pipeline over a JSON list of events without contacting Home Assistant."),
		mcpgo.WithString("events",
			mcpgo.Required(),
			mcpgo.Description(`JSON array of events: [{"id": "light.kitchen", "raw_state": "on", "time": 1700000000000}]`),
		),
		mcpgo.WithString("rules",
			mcpgo.Description("JSON array of entity ids or entity rule objects (default: configured entities)"),
		),
		mcpgo.WithNumber("limit",
			mcpgo.Description("Maximum number of events (default: configured limit)"),
		),
		mcpgo.WithBoolean("collapse_duplicates",
			mcpgo.Description("Collapse consecutive equal states per entity for entities without their own setting"),
		),
	)
}

// --- tool handlers ---

// handleTimeline returns the cached timeline and revalidates it in the
// background. Only a cache miss waits for Home Assistant.
func (s *Server) handleTimeline(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.tl == nil {
		return mcpgo.NewToolResultError("timeline is unavailable"), nil
	}

	events, err := s.tl.Load(ctx)
	if err != nil {
		return mcpgo.NewToolResultErrorf("loading timeline failed: %s", err.Error()), nil
	}

	if limit := req.GetInt("limit", -1); limit >= 0 && limit < len(events) {
		events = events[:limit]
	}

	result := map[string]any{
		"events": events,
		"count":  len(events),
	}
	return toolResultJSON(result)
}

// handleRefresh runs a foreground refresh.
func (s *Server) handleRefresh(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.tl == nil {
		return mcpgo.NewToolResultError("timeline is unavailable"), nil
	}

	events, err := s.tl.RefreshInForeground(ctx)
	if err != nil {
		return mcpgo.NewToolResultErrorf("refresh failed: %s", err.Error()), nil
	}

	s.logger.Info("mcp: refreshed timeline", "events", len(events))

	result := map[string]any{
		"events": events,
		"count":  len(events),
	}
	return toolResultJSON(result)
}

// handleFilter decodes events and rules and runs the pipeline.
func (s *Server) handleFilter(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	raw := req.GetString("events", "")
	if strings.TrimSpace(raw) == "" {
		return mcpgo.NewToolResultError("events is required and must not be empty"), nil
	}
	var events []models.Event
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return mcpgo.NewToolResultErrorf("invalid events: %s", err.Error()), nil
	}

	rules := s.rules
	var warnings []string
	if rawRules := req.GetString("rules", ""); strings.TrimSpace(rawRules) != "" {
		var decoded any
		if err := json.Unmarshal([]byte(rawRules), &decoded); err != nil {
			return mcpgo.NewToolResultErrorf("invalid rules: %s", err.Error()), nil
		}
		var err error
		rules, warnings, err = models.NormalizeEntities(decoded)
		if err != nil {
			return mcpgo.NewToolResultErrorf("invalid rules: %s", err.Error()), nil
		}
	}

	limit := req.GetInt("limit", s.limit)
	if limit < 0 {
		return mcpgo.NewToolResultError("limit must be a non-negative integer"), nil
	}
	global := s.global
	if _, ok := req.GetArguments()["collapse_duplicates"]; ok {
		global.CollapseDuplicates = models.Bool(req.GetBool("collapse_duplicates", false))
	}

	out, stats := history.FilterWithStats(events, rules, limit, global)

	result := map[string]any{
		"events": out,
		"stats":  stats,
	}
	if len(warnings) > 0 {
		result["warnings"] = warnings
	}
	return toolResultJSON(result)
}
