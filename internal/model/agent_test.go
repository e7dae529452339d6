package model_test

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/ichiba/internal/model"
)

func TestValidateAgentID_Valid(t *testing.T) {
	valid := []string{
		"analyst",
		"agent-7",
		"agent.v2",
		"Agent_01",
		strings.Repeat("a", model.MaxAgentIDLen),
	}
	for _, id := range valid {
		require.NoError(t, model.ValidateAgentID(id), "expected valid: %q", id)
	}
}

func TestValidateAgentID_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"has space",
		"slash/agent",
		strings.Repeat("a", model.MaxAgentIDLen+1),
	}
	for _, id := range invalid {
		assert.Error(t, model.ValidateAgentID(id), "expected invalid: %q", id)
	}
}

func TestParsePersonality(t *testing.T) {
	tests := []struct {
		in   string
		want model.Personality
	}{
		{"gambler", model.PersonalityGambler},
		{"spy", model.PersonalitySpy},
		{"balanced", model.PersonalityBalanced},
		{"unknown-thing", model.PersonalityBalanced},
		{"", model.PersonalityBalanced},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, model.ParsePersonality(tt.in))
		})
	}
}

func TestPersonalityProfile_DefaultForUnknown(t *testing.T) {
	prof := model.Personality("nobody").Profile()
	assert.Equal(t, model.RiskMedium, prof.Risk)
	assert.Equal(t, model.PersonalityBalanced.Profile(), prof)

	assert.Equal(t, model.RiskVeryHigh, model.PersonalityGambler.Profile().Risk)
	assert.Equal(t, model.RiskVeryLow, model.PersonalitySaver.Profile().Risk)
}

func TestSeedPersonalities_AllKnown(t *testing.T) {
	seen := map[model.Personality]bool{}
	for _, p := range model.SeedPersonalities() {
		assert.Equal(t, p, model.ParsePersonality(string(p)))
		assert.False(t, seen[p], "duplicate personality %q", p)
		seen[p] = true
	}
	assert.Len(t, seen, 15)
}

func TestAgentStatus_Persisted(t *testing.T) {
	assert.True(t, model.StatusActive.Persisted())
	assert.True(t, model.StatusBankrupt.Persisted())
	assert.False(t, model.StatusWarning.Persisted())
	assert.False(t, model.StatusBailoutRequest.Persisted())
}

func TestMoneyRounding(t *testing.T) {
	assert.Equal(t, "1.2346", model.FormatMoney(model.Round(decimal.RequireFromString("1.23456"))))
	assert.Equal(t, "1.2345", model.FormatMoney(model.Round(decimal.RequireFromString("1.23454"))))
	assert.Equal(t, "0.7500", model.FormatMoney(model.Fee(decimal.NewFromInt(15))))
	assert.Equal(t, "100.0000", model.FormatMoney(model.SeedBalance))
}

func TestParseMoney(t *testing.T) {
	d, err := model.ParseMoney("12.345678")
	require.NoError(t, err)
	assert.Equal(t, "12.3457", model.FormatMoney(d))

	_, err = model.ParseMoney("twelve")
	assert.Error(t, err)
}
