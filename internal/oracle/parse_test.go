package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/ichiba/internal/model"
)

func TestParseDecision_Valid(t *testing.T) {
	d, err := ParseDecision(`{"action":"BUY","skill":"coding","price":12.5,"target":"coder","reason":"need code"}`)
	require.NoError(t, err)
	assert.Equal(t, model.ActionBuy, d.Action)
	assert.Equal(t, "coding", d.Skill)
	assert.Equal(t, "12.5", d.Price.String())
	assert.Equal(t, "coder", d.Target)
	assert.Equal(t, "need code", d.Reason)
}

func TestParseDecision_ToleratesProse(t *testing.T) {
	text := "Sure! Here is my move:\n```json\n{\"action\":\"sell\",\"skill\":\"design\",\"price\":8}\n```\nGood luck."
	d, err := ParseDecision(text)
	require.NoError(t, err)
	assert.Equal(t, model.ActionSell, d.Action)
	assert.Equal(t, "8", d.Price.String())
}

func TestParseDecision_NestedBracesInReason(t *testing.T) {
	d, err := ParseDecision(`{"action":"WAIT","reason":"the market is {weird}"}`)
	require.NoError(t, err)
	assert.Equal(t, model.ActionWait, d.Action)
	assert.Equal(t, "the market is {weird}", d.Reason)
}

func TestParseDecision_Rejects(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{"empty", "", ErrNoPayload},
		{"no object", "I will wait.", ErrNoPayload},
		{"truncated", `{"action":"BUY","skill":"cod`, ErrBadPayload},
		{"unknown field", `{"action":"BUY","skill":"coding","price":3,"quantity":2}`, ErrBadPayload},
		{"missing action", `{"skill":"coding","price":3}`, ErrBadPayload},
		{"unknown action", `{"action":"SHORT","skill":"coding","price":3}`, ErrBadPayload},
		{"price string", `{"action":"BUY","skill":"coding","price":"3"}`, ErrBadPayload},
		{"price bool", `{"action":"BUY","skill":"coding","price":true}`, ErrBadPayload},
		{"skill number", `{"action":"BUY","skill":7,"price":3}`, ErrBadPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDecision(tt.text)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseDecision_NullPrice(t *testing.T) {
	d, err := ParseDecision(`{"action":"WAIT","price":null}`)
	require.NoError(t, err)
	assert.True(t, d.Price.IsZero())
}
