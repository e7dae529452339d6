package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ashita-ai/ichiba/internal/model"
)

// payload is the only accepted reply shape.
type payload struct {
	Action *string          `json:"action"`
	Skill  string           `json:"skill"`
	Price  *json.RawMessage `json:"price"`
	Target string           `json:"target"`
	Reason string           `json:"reason"`
}

// ParseDecision extracts the first JSON object from an oracle reply and
// decodes it strictly. Unknown fields, a missing or unknown action, and a
// non-numeric price are all rejected. Surrounding prose and code fences are
// tolerated. The result is not yet validated against the agent's balance.
func ParseDecision(text string) (model.Decision, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return model.Decision{}, ErrNoPayload
	}

	dec := json.NewDecoder(strings.NewReader(text[start:]))
	dec.DisallowUnknownFields()
	var p payload
	if err := dec.Decode(&p); err != nil {
		return model.Decision{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	if p.Action == nil {
		return model.Decision{}, fmt.Errorf("%w: action is required", ErrBadPayload)
	}
	action, ok := model.ParseAction(*p.Action)
	if !ok {
		return model.Decision{}, fmt.Errorf("%w: unknown action %q", ErrBadPayload, *p.Action)
	}

	d := model.Decision{
		Action: action,
		Skill:  strings.TrimSpace(p.Skill),
		Target: p.Target,
		Reason: p.Reason,
	}
	if p.Price != nil {
		raw := bytes.TrimSpace(*p.Price)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			return d, nil
		}
		if raw[0] != '-' && (raw[0] < '0' || raw[0] > '9') {
			return model.Decision{}, fmt.Errorf("%w: price must be a number", ErrBadPayload)
		}
		price, err := decimal.NewFromString(string(raw))
		if err != nil {
			return model.Decision{}, fmt.Errorf("%w: price: %v", ErrBadPayload, err)
		}
		d.Price = price
	}
	return d, nil
}
