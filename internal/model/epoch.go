package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Epoch is the persisted record of one completed epoch. It is written once;
// only AnchorHash may be attached later.
type Epoch struct {
	Number           int             `json:"epoch"`
	TotalVolume      decimal.Decimal `json:"total_volume"`
	TotalFees        decimal.Decimal `json:"total_fees"`
	TradeCount       int             `json:"trade_count"`
	ActiveAgents     int             `json:"active_agents"`
	Bankruptcies     int             `json:"bankruptcies"`
	TopEarner        string          `json:"top_earner,omitempty"`
	EventType        EventType       `json:"event_type"`
	EventDescription string          `json:"event_description"`
	AnchorHash       *string         `json:"anchor_hash,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Anchored reports whether an anchor hash has been attached.
func (e Epoch) Anchored() bool { return e.AnchorHash != nil && *e.AnchorHash != "" }

// StatusChange is one solvency classification produced after settlement.
// Only a change to StatusBankrupt is persisted.
type StatusChange struct {
	AgentID string          `json:"agent_id"`
	Name    string          `json:"name"`
	Status  AgentStatus     `json:"status"`
	Balance decimal.Decimal `json:"balance"`
}

// AdvisoryKind classifies epoch summary events.
type AdvisoryKind string

const (
	AdvisoryBankruptcy     AdvisoryKind = "bankruptcy"
	AdvisoryBailoutRequest AdvisoryKind = "bailout_request"
	AdvisoryWarning        AdvisoryKind = "warning"
	AdvisorySurge          AdvisoryKind = "surge"
)

// Advisory is a reportable event from an epoch. Nothing is persisted for it.
type Advisory struct {
	Kind    AdvisoryKind    `json:"kind"`
	AgentID string          `json:"agent_id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

// EpochCommit is everything one epoch writes, applied atomically by the store.
type EpochCommit struct {
	Epoch        Epoch
	Transactions []Transaction
	// Agents holds the post-epoch state of every agent that took part.
	Agents    []Agent
	Snapshots []AgentSnapshot
}

// EpochSummary is returned by a completed epoch run.
type EpochSummary struct {
	Epoch        Epoch           `json:"epoch"`
	Event        MarketEvent     `json:"event"`
	Trades       int             `json:"trades"`
	Volume       decimal.Decimal `json:"volume"`
	Fees         decimal.Decimal `json:"fees"`
	Bankruptcies int             `json:"bankruptcies"`
	Fallbacks    int             `json:"oracle_fallbacks"`
	Advisories   []Advisory      `json:"advisories"`
	Leaderboard  []Agent         `json:"leaderboard"`
	AnchorHash   string          `json:"anchor_hash,omitempty"`
}

// Stats aggregates the whole economy.
type Stats struct {
	TotalAgents       int             `json:"total_agents"`
	ActiveAgents      int             `json:"active_agents"`
	BankruptAgents    int             `json:"bankrupt_agents"`
	TotalBalance      decimal.Decimal `json:"total_balance"`
	SurvivalRate      float64         `json:"survival_rate"`
	TotalEpochs       int             `json:"total_epochs"`
	TotalTransactions int             `json:"total_transactions"`
	TotalVolume       decimal.Decimal `json:"total_volume"`
}

// Partner is a counterparty aggregate in an agent's trading history.
type Partner struct {
	AgentID string          `json:"agent_id"`
	Trades  int             `json:"trades"`
	Volume  decimal.Decimal `json:"volume"`
}

// SkillVolume aggregates an agent's trades per skill.
type SkillVolume struct {
	Skill  string          `json:"skill"`
	Bought int             `json:"bought"`
	Sold   int             `json:"sold"`
	Volume decimal.Decimal `json:"volume"`
}

// AgentDetail is the read model served for a single agent.
type AgentDetail struct {
	Agent          Agent          `json:"agent"`
	Classification AgentStatus    `json:"classification"`
	Transactions   []Transaction  `json:"transactions"`
	TopPartners    []Partner      `json:"top_partners"`
	Skills         []SkillVolume  `json:"skills"`
	History        []BalancePoint `json:"history"`
}

// AnchorVerification reports an epoch's anchor alongside a fresh recomputation.
type AnchorVerification struct {
	Epoch          int             `json:"epoch"`
	Anchored       bool            `json:"anchored"`
	AnchorHash     string          `json:"anchor_hash,omitempty"`
	RecomputedHash string          `json:"recomputed_hash"`
	Valid          bool            `json:"valid"`
	Event          EventType       `json:"event"`
	TotalVolume    decimal.Decimal `json:"total_volume"`
	ActiveAgents   int             `json:"active_agents"`
	Bankruptcies   int             `json:"bankruptcies"`
}

// EpochAnchor pairs an epoch number with its anchor hash, empty if unanchored.
type EpochAnchor struct {
	Epoch      int    `json:"epoch"`
	AnchorHash string `json:"anchor_hash,omitempty"`
}

// LedgerRoot is a Merkle root over every anchored epoch, in epoch order.
type LedgerRoot struct {
	Root       string `json:"root"`
	Epochs     int    `json:"epochs"`
	Anchored   int    `json:"anchored"`
	Unanchored []int  `json:"unanchored"`
	FirstEpoch int    `json:"first_epoch,omitempty"`
	LastEpoch  int    `json:"last_epoch,omitempty"`
}
