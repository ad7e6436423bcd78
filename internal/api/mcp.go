package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/dayplan/internal/memory"
	"github.com/kalambet/dayplan/internal/storage"
	"github.com/kalambet/dayplan/internal/task"
)

// mcpSession is the session identifier shared by all MCP tool calls;
// MCP clients manage their own conversation state.
const mcpSession = "mcp"

// TaskParser turns free text into a structured task.
type TaskParser interface {
	Extract(ctx context.Context, input string, history []memory.Turn) (task.ProcessedTask, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Parser   TaskParser
	Executor ActionRunner
}

// NewMCPServer creates an MCP server exposing the scheduling tools and
// the recent-sessions resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"dayplan",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("dayplan — conversational task scheduling against Google Calendar."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("parse_task",
			mcp.WithDescription("Extract a structured task (title, start, end, confidence) from a natural-language request."),
			mcp.WithString("text", mcp.Description("The request to parse"), mcp.Required()),
		),
		mcpParseTask(deps),
	)

	s.AddTool(
		mcp.NewTool("check_calendar",
			mcp.WithDescription("List the user's Google Calendar events for a timeframe."),
			mcp.WithString("timeframe", mcp.Description("One of: today, tomorrow, week"), mcp.Required()),
			mcp.WithString("access_token", mcp.Description("Google OAuth access token"), mcp.Required()),
		),
		mcpCheckCalendar(deps),
	)

	s.AddTool(
		mcp.NewTool("schedule_event",
			mcp.WithDescription("Create an event on the user's Google Calendar."),
			mcp.WithString("title", mcp.Description("Event title"), mcp.Required()),
			mcp.WithString("description", mcp.Description("Optional event details")),
			mcp.WithString("start_time", mcp.Description("Event start in ISO 8601 format with timezone offset"), mcp.Required()),
			mcp.WithNumber("duration", mcp.Description("Event length in minutes (default 60)")),
			mcp.WithString("access_token", mcp.Description("Google OAuth access token"), mcp.Required()),
		),
		mcpScheduleEvent(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"dayplan://sessions/recent",
			"Recent Sessions",
			mcp.WithResourceDescription("Last 10 conversation sessions with their turn counts"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSessions(deps),
	)

	return s
}

func mcpParseTask(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		parsed, err := deps.Parser.Extract(ctx, text, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("parse failed: %v", err)), nil
		}

		b, err := json.Marshal(parsed)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal task: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCheckCalendar(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		timeframe, err := req.RequireString("timeframe")
		if err != nil {
			return mcpError("timeframe is required"), nil
		}
		token, err := req.RequireString("access_token")
		if err != nil {
			return mcpError("access_token is required"), nil
		}

		fc := functionCall(task.FuncCheckCalendar, map[string]any{"timeframe": timeframe})
		result := deps.Executor.Execute(ctx, mcpSession, token, fc)
		return mcpText(result.Response.Message), nil
	}
}

func mcpScheduleEvent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		startTime, err := req.RequireString("start_time")
		if err != nil {
			return mcpError("start_time is required"), nil
		}
		token, err := req.RequireString("access_token")
		if err != nil {
			return mcpError("access_token is required"), nil
		}

		fc := functionCall(task.FuncScheduleEvent, map[string]any{
			"title":       title,
			"description": req.GetString("description", ""),
			"startTime":   startTime,
			"duration":    req.GetFloat("duration", 60),
		})
		result := deps.Executor.Execute(ctx, mcpSession, token, fc)
		return mcpText(result.Response.Message), nil
	}
}

func mcpResourceSessions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sessions, turnCounts, err := deps.Store.RecentSessions(10)
		if err != nil {
			return nil, fmt.Errorf("failed to load sessions: %w", err)
		}

		type sessionSummary struct {
			ID           string `json:"id"`
			LastActiveAt string `json:"last_active_at"`
			Turns        int    `json:"turns"`
		}

		summaries := make([]sessionSummary, len(sessions))
		for i, s := range sessions {
			summaries[i] = sessionSummary{
				ID:           s.ID,
				LastActiveAt: s.LastActiveAt.Format(time.RFC3339),
				Turns:        turnCounts[s.ID],
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sessions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func functionCall(name string, args map[string]any) task.FunctionCall {
	raw := make(map[string]json.RawMessage, len(args))
	for k, v := range args {
		b, _ := json.Marshal(v)
		raw[k] = b
	}
	return task.FunctionCall{Name: name, Arguments: raw}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
