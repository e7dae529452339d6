package oracle

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/ichiba/internal/model"
)

// systemPrompt frames every request.
const systemPrompt = `You are an autonomous economic agent in a simulated city economy. ` +
	`You answer with a single JSON object and nothing else.`

// BuildPrompt renders req as the user message sent to a language model.
func BuildPrompt(req Request) string {
	a := req.Agent
	prof := a.Personality.Profile()

	var b strings.Builder
	fmt.Fprintf(&b, "You are %q (id %s), an AI economic agent in a simulated city.\n", a.Name, a.ID)
	fmt.Fprintf(&b, "Strategy: %s\n", a.Strategy)
	fmt.Fprintf(&b, "Personality: %s. Trading style: %s. Risk tolerance: %s.\n", prof.Temperament, prof.Style, prof.Risk)
	fmt.Fprintf(&b, "Balance: $%s\n", model.FormatMoney(a.Balance))
	if a.Balance.LessThan(model.WarningFloor) {
		fmt.Fprintf(&b, "WARNING: your balance is critically low. Below $%s you are bankrupt and leave the market for good.\n",
			model.BankruptcyFloor.StringFixed(2))
	}
	fmt.Fprintf(&b, "Market: %s (price multiplier: %sx)\n", req.Event.Description, req.Event.PriceMultiplier.String())

	b.WriteString("\nOther agents:\n")
	for _, p := range req.Peers {
		flag := ""
		if p.Balance.LessThan(model.WarningFloor) {
			flag = " (at risk)"
		}
		fmt.Fprintf(&b, "- %s [%s]: $%s%s\n", p.Name, p.ID, p.Balance.StringFixed(2), flag)
	}

	b.WriteString("\nSkills:\n")
	for _, s := range req.Skills {
		fmt.Fprintf(&b, "- %s: $%s base\n", s.Type, s.BasePrice.String())
	}

	b.WriteString(`
Respond ONLY with valid JSON:
{"action":"SELL"|"BUY"|"WAIT","skill":"skill_type","price":number,"target":"agent_id","reason":"one or two sentences"}

Rules:
- skill must be one of the listed skill types
- price is adjusted by the market multiplier
- a BUY price cannot exceed your balance
- the reason should show your personality
`)
	return b.String()
}
