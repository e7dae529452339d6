package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/ichiba/internal/model"
	"github.com/ashita-ai/ichiba/internal/service/reports"
)

const (
	uriLeaderboard  = "ichiba://leaderboard"
	uriRecentEpochs = "ichiba://epochs/recent"
	agentURIPrefix  = "ichiba://agents/"
)

const recentEpochsLimit = 10

func (s *Server) registerResources() {
	// ichiba://leaderboard — every agent ranked by balance.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriLeaderboard,
			"Leaderboard",
			mcplib.WithResourceDescription("All agents ranked by balance with solvency classification"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleLeaderboardResource,
	)

	// ichiba://epochs/recent — latest epoch headers.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriRecentEpochs,
			"Recent Epochs",
			mcplib.WithResourceDescription("The most recent committed epochs, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentEpochs,
	)

	// ichiba://agents/{id} — one agent's read model.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			agentURIPrefix+"{id}",
			"Agent",
			mcplib.WithTemplateDescription("Balance, history and trading partners of one agent"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleAgentResource,
	)
}

func (s *Server) handleLeaderboardResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: leaderboard: %w", err)
	}
	return jsonResource(uriLeaderboard, reports.Leaderboard(agents, 0))
}

func (s *Server) handleRecentEpochs(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	epochs, err := s.store.ListEpochs(ctx, recentEpochsLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent epochs: %w", err)
	}
	out := make([]map[string]any, len(epochs))
	for i, e := range epochs {
		out[i] = compactEpoch(e)
	}
	return jsonResource(uriRecentEpochs, out)
}

func (s *Server) handleAgentResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	id, err := parseAgentURI(uri)
	if err != nil {
		return nil, err
	}
	d, err := reports.AgentDetail(ctx, s.store, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: agent %s: %w", id, err)
	}
	return jsonResource(uri, d)
}

// parseAgentURI extracts the agent id from ichiba://agents/{id}.
func parseAgentURI(uri string) (string, error) {
	id, ok := strings.CutPrefix(uri, agentURIPrefix)
	if !ok {
		return "", fmt.Errorf("mcp: invalid agent URI: %q", uri)
	}
	if err := model.ValidateAgentID(id); err != nil {
		return "", fmt.Errorf("mcp: invalid agent URI %q: %w", uri, err)
	}
	return id, nil
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
