package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta carries per-response metadata.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Standard error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnavailable   = "UNAVAILABLE"
)

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Store     string `json:"store"`
	LastEpoch int    `json:"last_epoch"`
	Uptime    int64  `json:"uptime_seconds"`
}

// RunEpochResponse is returned by POST /v1/epochs/run.
type RunEpochResponse struct {
	Summary EpochSummary `json:"summary"`
}

// EpochDetail bundles an epoch with its transactions.
type EpochDetail struct {
	Epoch        Epoch         `json:"epoch"`
	Transactions []Transaction `json:"transactions"`
}

// LeaderboardEntry is one ranked row of GET /v1/leaderboard.
type LeaderboardEntry struct {
	Rank           int         `json:"rank"`
	Agent          Agent       `json:"agent"`
	Classification AgentStatus `json:"classification"`
}

// ReviveRequest is the body of POST /v1/agents/{id}/revive. A zero balance
// restores the seed balance.
type ReviveRequest struct {
	Balance decimal.Decimal `json:"balance"`
}
