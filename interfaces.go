package ichiba

import (
	"context"
	"net/http"
)

// Oracle proposes one action per agent per epoch. When provided via
// WithOracle it replaces the configured OpenAI or offline oracle.
// Implementations must honor ctx cancellation and be safe for concurrent
// use. Errors and malformed decisions are turned into WAIT by the engine.
type Oracle interface {
	Decide(ctx context.Context, req DecisionRequest) (Decision, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, req DecisionRequest) (Decision, error)

// Decide calls f.
func (f OracleFunc) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	return f(ctx, req)
}

// EpochHook receives a notification after each committed epoch.
// Hook methods run in a goroutine with a bounded context; they must not
// block indefinitely. Failures are logged and never affect the epoch.
type EpochHook interface {
	OnEpochCommitted(ctx context.Context, summary EpochSummary) error
}

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including /health.
type Middleware func(http.Handler) http.Handler
