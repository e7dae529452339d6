package mcp

import (
	"github.com/ashita-ai/ichiba/internal/model"
)

const maxCompactNarrative = 160

// compactTransaction returns a minimal representation of a ledger entry for
// MCP responses. Drops the id and timestamp and trims the narrative.
func compactTransaction(t model.Transaction) map[string]any {
	m := map[string]any{
		"epoch":  t.Epoch,
		"seq":    t.Seq,
		"kind":   t.Kind,
		"buyer":  t.BuyerID,
		"skill":  t.SkillType,
		"amount": model.FormatMoney(t.Amount),
	}
	if t.SellerID != "" {
		m["seller"] = t.SellerID
	}
	if t.Kind == model.KindTrade {
		m["phase"] = t.Phase
		m["fee"] = model.FormatMoney(t.Fee)
	}
	if t.Narrative != "" {
		m["narrative"] = truncate(t.Narrative, maxCompactNarrative)
	}
	return m
}

// compactAgent drops timestamps and lifetime totals.
func compactAgent(a model.Agent, class model.AgentStatus) map[string]any {
	return map[string]any{
		"id":             a.ID,
		"name":           a.Name,
		"personality":    a.Personality,
		"balance":        model.FormatMoney(a.Balance),
		"status":         a.Status,
		"classification": class,
	}
}

// compactEpoch is the epoch header without fee and description detail.
func compactEpoch(e model.Epoch) map[string]any {
	m := map[string]any{
		"epoch":         e.Number,
		"event":         e.EventType,
		"trades":        e.TradeCount,
		"volume":        model.FormatMoney(e.TotalVolume),
		"active_agents": e.ActiveAgents,
		"bankruptcies":  e.Bankruptcies,
		"anchored":      e.Anchored(),
		"created_at":    e.CreatedAt,
	}
	if e.TopEarner != "" {
		m["top_earner"] = e.TopEarner
	}
	return m
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
