package model

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// AgentStatus is the solvency status of an agent. Only StatusActive and
// StatusBankrupt are ever persisted; StatusWarning and StatusBailoutRequest
// are advisory classifications recomputed every epoch.
type AgentStatus string

const (
	StatusActive         AgentStatus = "active"
	StatusWarning        AgentStatus = "warning"
	StatusBailoutRequest AgentStatus = "bailout_request"
	StatusBankrupt       AgentStatus = "bankrupt"
)

// Persisted reports whether s is a status the store may hold.
func (s AgentStatus) Persisted() bool {
	return s == StatusActive || s == StatusBankrupt
}

// Agent is a participant in the economy.
type Agent struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Strategy    string          `json:"strategy"`
	Personality Personality     `json:"personality"`
	Balance     decimal.Decimal `json:"balance"`
	TotalEarned decimal.Decimal `json:"total_earned"`
	TotalSpent  decimal.Decimal `json:"total_spent"`
	Status      AgentStatus     `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Active reports whether the agent takes part in epochs.
func (a Agent) Active() bool { return a.Status == StatusActive }

// agentIDPattern allows alphanumeric, hyphens, underscores and dots.
var agentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// MaxAgentIDLen bounds agent identifiers.
const MaxAgentIDLen = 64

// ValidateAgentID checks that an agent_id is well-formed.
func ValidateAgentID(id string) error {
	if id == "" {
		return fmt.Errorf("agent_id is required")
	}
	if len(id) > MaxAgentIDLen {
		return fmt.Errorf("agent_id exceeds maximum length of %d characters", MaxAgentIDLen)
	}
	if !agentIDPattern.MatchString(id) {
		return fmt.Errorf("agent_id contains invalid characters (allowed: alphanumeric, '.', '-', '_')")
	}
	return nil
}

// AgentSnapshot is an agent's post-epoch ledger position.
type AgentSnapshot struct {
	AgentID string          `json:"agent_id"`
	Balance decimal.Decimal `json:"balance"`
	Status  AgentStatus     `json:"status"`
}

// Snapshot returns the agent's current position.
func (a Agent) Snapshot() AgentSnapshot {
	return AgentSnapshot{AgentID: a.ID, Balance: a.Balance, Status: a.Status}
}

// BalancePoint is one entry of an agent's per-epoch balance history.
type BalancePoint struct {
	Epoch   int             `json:"epoch"`
	Balance decimal.Decimal `json:"balance"`
	Status  AgentStatus     `json:"status"`
}
