// Package mcp adapts quotabar-d to the Model Context Protocol so
// agents can check their own remaining quota before spending it.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quotabar/quotabar/pkg/api"
	"github.com/quotabar/quotabar/pkg/client"
	"github.com/quotabar/quotabar/pkg/provider"
)

// Server adapts quotabar-d to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance talking to the daemon at
// apiURL.
func NewServer(apiURL string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"quotabar",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL),
	}
	s.registerResources()
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		"quotabar://usage",
		"Provider Usage",
		mcp.WithResourceDescription("Latest known usage windows for every configured provider"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadUsage)

	s.mcpServer.AddResource(mcp.NewResource(
		"quotabar://events",
		"Quotabar Event Log",
		mcp.WithResourceDescription("Recent usage observations, fetch failures, and gate transitions"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadEvents)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"get_usage",
		mcp.WithDescription("Get the latest known usage for a provider without triggering a fetch."),
		mcp.WithString("provider", mcp.Required(), mcp.Description("Provider id: claude, codex, gemini, or copilot")),
	), s.handleGetUsage)

	s.mcpServer.AddTool(mcp.NewTool(
		"refresh_provider",
		mcp.WithDescription("Trigger a fetch for a provider and return the fresh result."),
		mcp.WithString("provider", mcp.Required(), mcp.Description("Provider id: claude, codex, gemini, or copilot")),
		mcp.WithString("mode", mcp.Description("Source mode: auto (default), cli, oauth, web, or api")),
	), s.handleRefreshProvider)
}

func (s *Server) handleReadUsage(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	usage, err := s.apiClient.Usage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch usage: %w", err)
	}
	return jsonResource(request.Params.URI, usage)
}

func (s *Server) handleReadEvents(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	events, err := s.apiClient.Events(ctx, "", 50)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	return jsonResource(request.Params.URI, events)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleGetUsage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := provider.ID(mcp.ParseString(request, "provider", ""))
	if !id.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown provider: %s", id)), nil
	}

	usage, err := s.apiClient.ProviderUsage(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return usageResult(usage), nil
}

func (s *Server) handleRefreshProvider(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := provider.ID(mcp.ParseString(request, "provider", ""))
	if !id.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown provider: %s", id)), nil
	}
	mode := provider.SourceMode(mcp.ParseString(request, "mode", string(provider.ModeAuto)))
	if !mode.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown mode: %s", mode)), nil
	}

	usage, err := s.apiClient.Refresh(ctx, id, mode)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return usageResult(usage), nil
}

// usageResult renders a usage response as readable text: one line per
// window, or the failure with its attempt trail.
func usageResult(u *api.UsageResponse) *mcp.CallToolResult {
	if u.Error != "" {
		msg := fmt.Sprintf("Fetch failed (%s): %s", u.ErrorKind, u.Error)
		for _, a := range u.Attempts {
			msg += fmt.Sprintf("\n  %s: %s", a.Strategy, a.Error)
		}
		return mcp.NewToolResultError(msg)
	}
	if u.Snapshot == nil {
		return mcp.NewToolResultText(fmt.Sprintf("No data yet for %s", u.Provider))
	}

	msg := fmt.Sprintf("%s (via %s)", u.Provider, u.Source)
	for _, w := range u.Snapshot.Windows {
		line := fmt.Sprintf("\n  %s: %.1f%% used", w.Label, w.UsedPercent)
		if !w.ResetsAt.IsZero() {
			line += fmt.Sprintf(", resets %s", w.ResetsAt.Format("2006-01-02 15:04 MST"))
		}
		msg += line
	}
	return mcp.NewToolResultText(msg)
}
