package model_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/ichiba/internal/model"
)

func TestParseAction(t *testing.T) {
	a, ok := model.ParseAction(" buy ")
	assert.True(t, ok)
	assert.Equal(t, model.ActionBuy, a)

	a, ok = model.ParseAction("SELL")
	assert.True(t, ok)
	assert.Equal(t, model.ActionSell, a)

	_, ok = model.ParseAction("HODL")
	assert.False(t, ok)
}

func TestDecisionValidate(t *testing.T) {
	balance := decimal.NewFromInt(20)
	tests := []struct {
		name    string
		d       model.Decision
		wantErr error
	}{
		{"wait", model.Wait("resting"), nil},
		{"wait ignores fields", model.Decision{Action: model.ActionWait, Skill: "nope", Price: decimal.NewFromInt(-1)}, nil},
		{"buy ok", model.Decision{Action: model.ActionBuy, Skill: "coding", Price: decimal.NewFromInt(20)}, nil},
		{"sell above balance ok", model.Decision{Action: model.ActionSell, Skill: "coding", Price: decimal.NewFromInt(500)}, nil},
		{"buy above balance", model.Decision{Action: model.ActionBuy, Skill: "coding", Price: decimal.NewFromInt(21)}, model.ErrInsufficientFunds},
		{"unknown skill", model.Decision{Action: model.ActionSell, Skill: "alchemy", Price: decimal.NewFromInt(1)}, model.ErrUnknownSkill},
		{"missing skill", model.Decision{Action: model.ActionBuy, Price: decimal.NewFromInt(1)}, model.ErrUnknownSkill},
		{"zero price", model.Decision{Action: model.ActionSell, Skill: "design"}, model.ErrNonPositivePrice},
		{"negative price", model.Decision{Action: model.ActionBuy, Skill: "design", Price: decimal.NewFromInt(-3)}, model.ErrNonPositivePrice},
		{"unknown action", model.Decision{Action: "LEND", Skill: "design", Price: decimal.NewFromInt(3)}, model.ErrUnknownAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate(balance)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSanitize_CoercesToWait(t *testing.T) {
	d := model.Sanitize(model.Decision{Action: model.ActionBuy, Skill: "coding", Price: decimal.NewFromInt(50)}, decimal.NewFromInt(10))
	assert.Equal(t, model.ActionWait, d.Action)
	assert.Contains(t, d.Reason, "invalid decision")
	assert.True(t, d.Price.IsZero())
}

func TestSanitize_RoundsPrice(t *testing.T) {
	d := model.Sanitize(model.Decision{Action: model.ActionSell, Skill: "coding", Price: decimal.RequireFromString("9.876543")}, decimal.Zero)
	assert.Equal(t, model.ActionSell, d.Action)
	assert.Equal(t, "9.8765", model.FormatMoney(d.Price))
}

func TestCatalogs(t *testing.T) {
	assert.Len(t, model.Skills(), 13)
	s, ok := model.LookupSkill("consulting")
	assert.True(t, ok)
	assert.True(t, s.BasePrice.Equal(decimal.NewFromInt(15)))

	assert.Len(t, model.MarketEvents(), 4)
	e, ok := model.LookupEvent(model.EventBoom)
	assert.True(t, ok)
	assert.Equal(t, "1.5", e.PriceMultiplier.String())
	assert.InDelta(t, 0.8, e.TradeProbability, 1e-9)
}
