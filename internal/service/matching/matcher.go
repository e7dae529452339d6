// Package matching pairs buyers with sellers for one epoch.
//
// Matching runs in two fixed phases. Phase A pairs each BUY, in roster order,
// with the first unconsumed SELL of the same skill. Phase B adds up to three
// random supplementary pairings among all active agents so sparse epochs still
// trade. A seller is consumed only by a committed transfer and can sell at
// most once per epoch across both phases.
package matching

import (
	"fmt"
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"github.com/ashita-ai/ichiba/internal/model"
)

// maxSupplementary bounds the random extra pairings drawn in Phase B
// (exclusive, before the dead-epoch bonus).
const maxSupplementary = 3

// Matcher produces proposed transfers. It is not safe for concurrent use.
type Matcher struct {
	rng    *rand.Rand
	skills []model.Skill
}

// New creates a Matcher drawing Phase B randomness from rng.
func New(rng *rand.Rand) *Matcher {
	return &Matcher{rng: rng, skills: model.Skills()}
}

// book tracks projected balances and consumed sellers while matching.
type book struct {
	projected map[string]decimal.Decimal
	names     map[string]string
	consumed  map[string]bool
	out       []model.ProposedTransfer
}

func newBook(roster []model.Agent) *book {
	b := &book{
		projected: make(map[string]decimal.Decimal, len(roster)),
		names:     make(map[string]string, len(roster)),
		consumed:  make(map[string]bool),
	}
	for _, a := range roster {
		b.projected[a.ID] = a.Balance
		b.names[a.ID] = a.Name
	}
	return b
}

// commit records a transfer if its balance-clamped amount clears the dust
// floor. It reports whether the transfer was kept.
func (b *book) commit(buyer, seller, skill string, price decimal.Decimal, phase model.Phase) bool {
	amount := model.Round(decimal.Min(price, b.projected[buyer]))
	if !amount.GreaterThan(model.DustFloor) {
		return false
	}
	fee := model.Fee(amount)
	b.projected[buyer] = model.Round(b.projected[buyer].Sub(amount))
	b.projected[seller] = model.Round(b.projected[seller].Add(amount.Sub(fee)))
	b.consumed[seller] = true
	b.out = append(b.out, model.ProposedTransfer{
		BuyerID:   buyer,
		SellerID:  seller,
		Skill:     skill,
		Amount:    amount,
		Fee:       fee,
		Phase:     phase,
		Narrative: narrative(b.names[buyer], b.names[seller], skill, amount, phase),
	})
	return true
}

// Match runs both phases over the active agents of roster, which must be in
// roster order. Agents without an entry in decisions are treated as WAIT.
func (m *Matcher) Match(roster []model.Agent, decisions map[string]model.Decision, event model.MarketEvent) []model.ProposedTransfer {
	active := make([]model.Agent, 0, len(roster))
	for _, a := range roster {
		if a.Active() {
			active = append(active, a)
		}
	}
	b := newBook(active)

	direct := m.matchDirect(b, active, decisions, event)
	m.matchSupplementary(b, active, event, direct == 0)
	return b.out
}

// matchDirect is Phase A. It returns the number of committed transfers.
func (m *Matcher) matchDirect(b *book, active []model.Agent, decisions map[string]model.Decision, event model.MarketEvent) int {
	var sellers []model.Agent
	for _, a := range active {
		if decisions[a.ID].Action == model.ActionSell {
			sellers = append(sellers, a)
		}
	}

	committed := 0
	for _, buyer := range active {
		bd := decisions[buyer.ID]
		if bd.Action != model.ActionBuy {
			continue
		}
		for _, seller := range sellers {
			sd := decisions[seller.ID]
			if sd.Skill != bd.Skill || seller.ID == buyer.ID || b.consumed[seller.ID] {
				continue
			}
			price := model.Round(decimal.Min(bd.Price, sd.Price).Mul(event.PriceMultiplier))
			if b.commit(buyer.ID, seller.ID, bd.Skill, price, model.PhaseDirect) {
				committed++
			}
			break
		}
	}
	return committed
}

// matchSupplementary is Phase B.
func (m *Matcher) matchSupplementary(b *book, active []model.Agent, event model.MarketEvent, dead bool) {
	if len(active) < 2 {
		return
	}
	attempts := m.rng.IntN(maxSupplementary)
	if dead {
		attempts++
	}
	for range attempts {
		if m.rng.Float64() >= event.TradeProbability {
			continue
		}
		buyer := active[m.rng.IntN(len(active))]

		candidates := make([]model.Agent, 0, len(active))
		for _, a := range active {
			if a.ID != buyer.ID && !b.consumed[a.ID] {
				candidates = append(candidates, a)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		seller := candidates[m.rng.IntN(len(candidates))]

		skill := m.skills[m.rng.IntN(len(m.skills))]
		factor := decimal.NewFromFloat(0.5 + m.rng.Float64())
		price := model.Round(skill.BasePrice.Mul(event.PriceMultiplier).Mul(factor))
		b.commit(buyer.ID, seller.ID, skill.Type, price, model.PhaseSupplementary)
	}
}

func narrative(buyer, seller, skill string, amount decimal.Decimal, phase model.Phase) string {
	s := fmt.Sprintf("%s bought %s from %s for $%s", buyer, skill, seller, amount.StringFixed(2))
	if phase == model.PhaseSupplementary {
		s += " (market match)"
	}
	return s
}
