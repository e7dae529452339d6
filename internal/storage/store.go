package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ashita-ai/ichiba/internal/model"
)

// Store is the persistence contract shared by the PostgreSQL and SQLite
// backends. Agent lists are ordered by balance descending then id.
type Store interface {
	Kind() string
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateAgent(ctx context.Context, agent model.Agent) (model.Agent, error)
	GetAgent(ctx context.Context, id string) (model.Agent, error)
	ListAgents(ctx context.Context) ([]model.Agent, error)
	ListActiveAgents(ctx context.Context) ([]model.Agent, error)
	// ReviveAgent is the administrative bankrupt to active override. The
	// epoch engine never calls it.
	ReviveAgent(ctx context.Context, id string, balance decimal.Decimal) (model.Agent, error)

	LastEpochNumber(ctx context.Context) (int, error)
	CommitEpoch(ctx context.Context, c model.EpochCommit) error
	GetEpoch(ctx context.Context, number int) (model.Epoch, error)
	ListEpochs(ctx context.Context, limit, offset int) ([]model.Epoch, error)
	ListEpochTransactions(ctx context.Context, number int) ([]model.Transaction, error)
	ListEpochSnapshots(ctx context.Context, number int) ([]model.AgentSnapshot, error)
	SetEpochAnchor(ctx context.Context, number int, hash string) error
	ListUnanchoredEpochs(ctx context.Context) ([]int, error)
	ListEpochAnchors(ctx context.Context) ([]model.EpochAnchor, error)

	ListAgentTransactions(ctx context.Context, agentID string, limit int) ([]model.Transaction, error)
	ListAgentHistory(ctx context.Context, agentID string) ([]model.BalancePoint, error)
	Stats(ctx context.Context) (model.Stats, error)
}

// DefaultListLimit is used when a caller passes a non-positive limit.
const DefaultListLimit = 50
