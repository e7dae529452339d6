package oracle

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ashita-ai/ichiba/internal/model"
)

// riskProfile maps risk tolerance to behavior of the offline oracle.
type riskProfile struct {
	waitProb   float64 // probability of doing nothing
	spendShare float64 // largest share of balance a BUY may stake
}

var riskProfiles = map[model.RiskTolerance]riskProfile{
	model.RiskVeryLow:  {waitProb: 0.5, spendShare: 0.05},
	model.RiskLow:      {waitProb: 0.35, spendShare: 0.10},
	model.RiskMedium:   {waitProb: 0.25, spendShare: 0.20},
	model.RiskHigh:     {waitProb: 0.15, spendShare: 0.35},
	model.RiskVeryHigh: {waitProb: 0.10, spendShare: 0.60},
}

// RandomOracle decides offline from the agent's personality. It needs no
// network and is the default when no model credentials are configured.
type RandomOracle struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom creates an offline oracle drawing from rng.
func NewRandom(rng *rand.Rand) *RandomOracle {
	return &RandomOracle{rng: rng}
}

// Decide draws an action. It never fails unless ctx is already done.
func (o *RandomOracle) Decide(ctx context.Context, req Request) (model.Decision, error) {
	if err := ctx.Err(); err != nil {
		return model.Decision{}, err
	}
	prof := req.Agent.Personality.Profile()
	rp, ok := riskProfiles[prof.Risk]
	if !ok {
		rp = riskProfiles[model.RiskMedium]
	}
	skills := req.Skills
	if len(skills) == 0 {
		skills = model.Skills()
	}

	o.mu.Lock()
	roll := o.rng.Float64()
	skill := skills[o.rng.IntN(len(skills))]
	factor := 0.5 + o.rng.Float64()
	o.mu.Unlock()

	if roll < rp.waitProb {
		return model.Wait(fmt.Sprintf("%s, sitting this one out", prof.Temperament)), nil
	}

	price := model.Round(skill.BasePrice.Mul(req.Event.PriceMultiplier).Mul(decimal.NewFromFloat(factor)))
	if roll < rp.waitProb+(1-rp.waitProb)/2 {
		return model.Decision{
			Action: model.ActionSell,
			Skill:  skill.Type,
			Price:  price,
			Reason: prof.Style,
		}, nil
	}

	budget := model.Round(req.Agent.Balance.Mul(decimal.NewFromFloat(rp.spendShare)))
	if price.GreaterThan(budget) {
		price = budget
	}
	if !price.IsPositive() {
		return model.Wait("cannot afford anything"), nil
	}
	return model.Decision{
		Action: model.ActionBuy,
		Skill:  skill.Type,
		Price:  price,
		Reason: prof.Style,
	}, nil
}
