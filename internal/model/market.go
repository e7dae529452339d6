package model

import "github.com/shopspring/decimal"

// EventType identifies a market regime.
type EventType string

const (
	EventBoom        EventType = "boom"
	EventRecession   EventType = "recession"
	EventOpportunity EventType = "opportunity"
	EventNormal      EventType = "normal"
)

// MarketEvent is the regime active for one epoch. Every trade in the epoch
// sees the same multiplier.
type MarketEvent struct {
	Type             EventType       `json:"type"`
	Description      string          `json:"description"`
	PriceMultiplier  decimal.Decimal `json:"price_multiplier"`
	TradeProbability float64         `json:"trade_probability"`
}

// MarketEvents is the fixed catalog drawn from once per epoch.
func MarketEvents() []MarketEvent {
	return []MarketEvent{
		{Type: EventBoom, Description: "Boom! Trading volume surges", PriceMultiplier: decimal.New(15, -1), TradeProbability: 0.8},
		{Type: EventRecession, Description: "Recession. Spending dries up", PriceMultiplier: decimal.New(6, -1), TradeProbability: 0.3},
		{Type: EventOpportunity, Description: "A rare opportunity appears. High returns possible", PriceMultiplier: decimal.NewFromInt(2), TradeProbability: 0.6},
		{Type: EventNormal, Description: "An ordinary market day", PriceMultiplier: decimal.NewFromInt(1), TradeProbability: 0.5},
	}
}

// LookupEvent returns the catalog entry for t.
func LookupEvent(t EventType) (MarketEvent, bool) {
	for _, e := range MarketEvents() {
		if e.Type == t {
			return e, true
		}
	}
	return MarketEvent{}, false
}

// Skill is a tradeable service.
type Skill struct {
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	BasePrice decimal.Decimal `json:"base_price"`
}

var skills = []Skill{
	{"translation", "Translation", decimal.NewFromInt(3)},
	{"analysis", "Data analysis", decimal.NewFromInt(8)},
	{"coding", "Coding", decimal.NewFromInt(10)},
	{"writing", "Writing", decimal.NewFromInt(5)},
	{"research", "Research", decimal.NewFromInt(6)},
	{"security_audit", "Security audit", decimal.NewFromInt(12)},
	{"education", "Education and mentoring", decimal.NewFromInt(7)},
	{"marketing", "Marketing", decimal.NewFromInt(6)},
	{"consulting", "Management consulting", decimal.NewFromInt(15)},
	{"design", "Design", decimal.NewFromInt(8)},
	{"brokerage", "Brokerage", decimal.NewFromInt(2)},
	{"insurance", "Insurance", decimal.NewFromInt(4)},
	{"intelligence", "Market intelligence", decimal.NewFromInt(9)},
}

// Skills returns the tradeable skill catalog.
func Skills() []Skill {
	out := make([]Skill, len(skills))
	copy(out, skills)
	return out
}

// LookupSkill returns the catalog entry for skill type t.
func LookupSkill(t string) (Skill, bool) {
	for _, s := range skills {
		if s.Type == t {
			return s, true
		}
	}
	return Skill{}, false
}
