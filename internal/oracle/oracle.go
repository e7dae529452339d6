// Package oracle is the boundary to the external decision-making capability
// consulted once per agent per epoch.
//
// Oracle replies are untrusted. ParseDecision accepts exactly one strict
// payload shape and fails closed; callers turn any error into a WAIT.
package oracle

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/ashita-ai/ichiba/internal/model"
)

// Oracle proposes an action for one agent. Implementations must honor ctx
// cancellation and be safe for concurrent use.
type Oracle interface {
	Decide(ctx context.Context, req Request) (model.Decision, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, req Request) (model.Decision, error)

// Decide calls f.
func (f Func) Decide(ctx context.Context, req Request) (model.Decision, error) { return f(ctx, req) }

// Request is everything the oracle is told about one agent's situation.
type Request struct {
	Epoch  int
	Agent  model.Agent
	Peers  []Peer
	Event  model.MarketEvent
	Skills []model.Skill
}

// Peer is the redacted view of another active agent: no strategy, no totals.
type Peer struct {
	ID      string
	Name    string
	Balance decimal.Decimal
}

// Errors returned by oracle implementations and the payload parser.
var (
	ErrEmptyResponse = errors.New("oracle: empty response")
	ErrNoPayload     = errors.New("oracle: no JSON object in response")
	ErrBadPayload    = errors.New("oracle: payload violates schema")
)
