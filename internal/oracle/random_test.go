package oracle

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/ichiba/internal/model"
)

func TestRandomOracle_ProducesValidDecisions(t *testing.T) {
	o := NewRandom(rand.New(rand.NewPCG(42, 1)))
	req := testRequest()
	actions := map[model.Action]int{}

	for range 300 {
		d, err := o.Decide(context.Background(), req)
		require.NoError(t, err)
		require.NoError(t, d.Validate(req.Agent.Balance), "decision %+v", d)
		actions[d.Action]++
	}
	assert.Positive(t, actions[model.ActionBuy])
	assert.Positive(t, actions[model.ActionSell])
	assert.Positive(t, actions[model.ActionWait])
}

func TestRandomOracle_BuyWithinRiskBudget(t *testing.T) {
	o := NewRandom(rand.New(rand.NewPCG(9, 9)))
	req := testRequest()
	req.Agent.Personality = model.PersonalitySaver
	budget := decimal.NewFromInt(40).Mul(decimal.NewFromFloat(0.05))

	for range 200 {
		d, err := o.Decide(context.Background(), req)
		require.NoError(t, err)
		if d.Action == model.ActionBuy {
			assert.True(t, d.Price.LessThanOrEqual(budget), "price %s over budget %s", d.Price, budget)
		}
	}
}

func TestRandomOracle_CancelledContext(t *testing.T) {
	o := NewRandom(rand.New(rand.NewPCG(1, 1)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Decide(ctx, testRequest())
	assert.ErrorIs(t, err, context.Canceled)
}
