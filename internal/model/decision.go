package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Action is what an agent chose to do this epoch.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionWait Action = "WAIT"
)

// ParseAction normalizes an action string. Unknown values return false.
func ParseAction(s string) (Action, bool) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell, ActionWait:
		return a, true
	default:
		return "", false
	}
}

// Reasons attached to decisions the engine substituted.
const (
	ReasonOracleError = "oracle error"
	ReasonNoDecision  = "no decision"
)

// Decision is an agent's proposed action for one epoch. Decisions are never
// persisted.
type Decision struct {
	Action Action          `json:"action"`
	Skill  string          `json:"skill,omitempty"`
	Price  decimal.Decimal `json:"price"`
	Target string          `json:"target,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// Wait returns a WAIT decision carrying reason.
func Wait(reason string) Decision {
	return Decision{Action: ActionWait, Reason: reason}
}

// Validation errors.
var (
	ErrUnknownAction     = errors.New("unknown action")
	ErrUnknownSkill      = errors.New("unknown skill")
	ErrNonPositivePrice  = errors.New("price must be positive")
	ErrInsufficientFunds = errors.New("price exceeds balance")
)

// Validate checks d against the acting agent's balance. WAIT is always valid.
func (d Decision) Validate(balance decimal.Decimal) error {
	switch d.Action {
	case ActionWait:
		return nil
	case ActionBuy, ActionSell:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, d.Action)
	}
	if _, ok := LookupSkill(d.Skill); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSkill, d.Skill)
	}
	if !d.Price.IsPositive() {
		return ErrNonPositivePrice
	}
	if d.Action == ActionBuy && d.Price.GreaterThan(balance) {
		return fmt.Errorf("%w: %s > %s", ErrInsufficientFunds, FormatMoney(d.Price), FormatMoney(balance))
	}
	return nil
}

// Sanitize returns d with its price rounded, or a WAIT if d does not validate.
func Sanitize(d Decision, balance decimal.Decimal) Decision {
	d.Price = Round(d.Price)
	if err := d.Validate(balance); err != nil {
		return Wait("invalid decision: " + err.Error())
	}
	if d.Action == ActionWait {
		return Decision{Action: ActionWait, Reason: d.Reason}
	}
	return d
}
