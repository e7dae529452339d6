package mcp

import (
	"context"
	"fmt"
	"strconv"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// explain-epoch — walk through what happened in one epoch.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("explain-epoch",
			mcplib.WithPromptDescription("Explain what happened in one epoch of the market"),
			mcplib.WithArgument("epoch",
				mcplib.ArgumentDescription("Epoch number to explain"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleExplainEpochPrompt,
	)

	// audit-ledger — verify anchors and the ledger root.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("audit-ledger",
			mcplib.WithPromptDescription("Audit the integrity of the committed ledger"),
		),
		s.handleAuditLedgerPrompt,
	)
}

func (s *Server) handleExplainEpochPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	raw := request.Params.Arguments["epoch"]
	if raw == "" {
		return nil, fmt.Errorf("epoch argument is required")
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return nil, fmt.Errorf("epoch argument must be a positive integer, got %q", raw)
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Explain epoch %d", n),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Explain what happened in epoch %d of the ichiba market.

1. CALL ichiba_epoch with epoch=%d. Note the market event and its price
   multiplier, the trade count, volume and the fees burned (5%% of every trade
   leaves circulation for good).

2. For each transaction, say who bought which skill from whom and at what
   price. Direct trades matched a buyer's bid to a seller's ask; supplementary
   trades were arranged by the market. A bankruptcy entry means the agent fell
   below 1.00 and was retired.

3. CALL ichiba_verify_anchor with epoch=%d and report whether the stored
   anchor still matches the committed data.

4. Finish with who gained, who lost and anyone drifting toward the warning
   (10) or bailout (5) floors.`, n, n, n),
				},
			},
		},
	}, nil
}

func (s *Server) handleAuditLedgerPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "Audit the ichiba ledger",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `Audit the integrity of the ichiba ledger.

1. CALL ichiba_ledger_root. List any unanchored epochs; they were committed
   but their anchor write failed and is still pending backfill.

2. For the latest few anchored epochs, CALL ichiba_verify_anchor. Any
   valid=false result means committed transactions or post-epoch balances no
   longer match what was anchored. Report it prominently.

3. CALL ichiba_stats and check that the money in circulation never exceeds
   the seed balances: every trade burns a fee and nothing mints new money.`,
				},
			},
		},
	}, nil
}
