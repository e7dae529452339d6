package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/ichiba/internal/model"
	"github.com/ashita-ai/ichiba/internal/service/reports"
	"github.com/ashita-ai/ichiba/internal/storage"
)

func (s *Server) registerTools() {
	// ichiba_leaderboard — agents ranked by balance.
	s.mcpServer.AddTool(
		mcplib.NewTool("ichiba_leaderboard",
			mcplib.WithDescription(`Rank agents in the ichiba economy by balance.

Each row carries the agent's live solvency classification: active, warning
(below 10), bailout_request (below 5) or bankrupt (retired for good).`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of agents to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(15),
			),
		),
		s.handleLeaderboard,
	)

	// ichiba_stats — economy-wide aggregates.
	s.mcpServer.AddTool(
		mcplib.NewTool("ichiba_stats",
			mcplib.WithDescription("Economy-wide totals: agents alive and bankrupt, money in circulation, survival rate, epochs and transactions."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleStats,
	)

	// ichiba_agent — one agent's position and trading history.
	s.mcpServer.AddTool(
		mcplib.NewTool("ichiba_agent",
			mcplib.WithDescription("Show one agent: balance, classification, recent transactions, top trading partners, skills traded and per-epoch balance history."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent_id",
				mcplib.Description("Agent identifier, e.g. trader or spy"),
				mcplib.Required(),
			),
		),
		s.handleAgent,
	)

	// ichiba_epoch — one epoch and its ledger entries.
	s.mcpServer.AddTool(
		mcplib.NewTool("ichiba_epoch",
			mcplib.WithDescription("Show a committed epoch: market event, volume, bankruptcies and every transaction in sequence order. Omit epoch for the latest."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("epoch",
				mcplib.Description("Epoch number (1-based)"),
				mcplib.Min(1),
			),
		),
		s.handleEpoch,
	)

	// ichiba_verify_anchor — recompute and compare an epoch's anchor.
	s.mcpServer.AddTool(
		mcplib.NewTool("ichiba_verify_anchor",
			mcplib.WithDescription(`Recompute an epoch's SHA-256 anchor from committed data and compare it with the stored hash.

valid=true means the stored transactions and post-epoch balances are exactly
what was anchored. An unanchored epoch reports anchored=false with the hash it
would receive.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("epoch",
				mcplib.Description("Epoch number (1-based)"),
				mcplib.Required(),
				mcplib.Min(1),
			),
		),
		s.handleVerifyAnchor,
	)

	// ichiba_ledger_root — Merkle root over all anchors.
	s.mcpServer.AddTool(
		mcplib.NewTool("ichiba_ledger_root",
			mcplib.WithDescription("Merkle root over every anchored epoch, in epoch order, plus the epochs still waiting for an anchor."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleLedgerRoot,
	)
}

func (s *Server) handleLeaderboard(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := request.GetInt("limit", 15)
	if limit < 1 || limit > 100 {
		return errorResult("limit must be between 1 and 100"), nil
	}
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return s.internalError("leaderboard", err), nil
	}
	rows := reports.Leaderboard(agents, limit)
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		m := compactAgent(r.Agent, r.Classification)
		m["rank"] = r.Rank
		out[i] = m
	}
	return jsonResult(map[string]any{"agents": out, "total": len(agents)})
}

func (s *Server) handleStats(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return s.internalError("stats", err), nil
	}
	return jsonResult(stats)
}

func (s *Server) handleAgent(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := request.GetString("agent_id", "")
	if err := model.ValidateAgentID(id); err != nil {
		return errorResult(err.Error()), nil
	}
	d, err := reports.AgentDetail(ctx, s.store, id)
	if errors.Is(err, storage.ErrNotFound) {
		return errorResult(fmt.Sprintf("agent %q not found", id)), nil
	}
	if err != nil {
		return s.internalError("agent", err), nil
	}
	txs := make([]map[string]any, len(d.Transactions))
	for i, t := range d.Transactions {
		txs[i] = compactTransaction(t)
	}
	return jsonResult(map[string]any{
		"agent":        compactAgent(d.Agent, d.Classification),
		"earned":       model.FormatMoney(d.Agent.TotalEarned),
		"spent":        model.FormatMoney(d.Agent.TotalSpent),
		"transactions": txs,
		"top_partners": d.TopPartners,
		"skills":       d.Skills,
		"history":      d.History,
	})
}

func (s *Server) handleEpoch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	n := request.GetInt("epoch", 0)
	if n == 0 {
		last, err := s.store.LastEpochNumber(ctx)
		if err != nil {
			return s.internalError("epoch", err), nil
		}
		if last == 0 {
			return errorResult("no epochs have run yet"), nil
		}
		n = last
	}
	if n < 1 {
		return errorResult("epoch must be a positive number"), nil
	}
	d, err := reports.EpochDetail(ctx, s.store, n)
	if errors.Is(err, storage.ErrNotFound) {
		return errorResult(fmt.Sprintf("epoch %d not found", n)), nil
	}
	if err != nil {
		return s.internalError("epoch", err), nil
	}
	txs := make([]map[string]any, len(d.Transactions))
	for i, t := range d.Transactions {
		txs[i] = compactTransaction(t)
	}
	head := compactEpoch(d.Epoch)
	head["description"] = d.Epoch.EventDescription
	head["fees_burned"] = model.FormatMoney(d.Epoch.TotalFees)
	return jsonResult(map[string]any{"epoch": head, "transactions": txs})
}

func (s *Server) handleVerifyAnchor(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	n := request.GetInt("epoch", 0)
	if n < 1 {
		return errorResult("epoch is required and must be positive"), nil
	}
	v, err := s.verifier.VerifyEpoch(ctx, n)
	if errors.Is(err, storage.ErrNotFound) {
		return errorResult(fmt.Sprintf("epoch %d not found", n)), nil
	}
	if err != nil {
		return s.internalError("verify anchor", err), nil
	}
	return jsonResult(v)
}

func (s *Server) handleLedgerRoot(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	root, err := s.verifier.LedgerRoot(ctx)
	if err != nil {
		return s.internalError("ledger root", err), nil
	}
	return jsonResult(root)
}

// internalError logs err and returns a tool error that does not leak it.
func (s *Server) internalError(op string, err error) *mcplib.CallToolResult {
	s.logger.Error("mcp: "+op, "error", err)
	return errorResult(op + " failed")
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
