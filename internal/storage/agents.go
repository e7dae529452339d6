package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/ashita-ai/ichiba/internal/model"
)

const agentColumns = `id, name, strategy, personality, balance, total_earned, total_spent, status, created_at, updated_at`

// rosterOrder is the deterministic agent ordering used everywhere.
const rosterOrder = `ORDER BY balance DESC, id ASC`

func scanAgent(row pgx.Row) (model.Agent, error) {
	var (
		a model.Agent
		m money
	)
	if err := row.Scan(
		&a.ID, &a.Name, &a.Strategy, &a.Personality,
		m.scan(&a.Balance), m.scan(&a.TotalEarned), m.scan(&a.TotalSpent),
		&a.Status, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return model.Agent{}, err
	}
	return a, m.finish()
}

func collectAgents(rows pgx.Rows) ([]model.Agent, error) {
	defer rows.Close()
	var agents []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// CreateAgent inserts a new agent.
func (db *DB) CreateAgent(ctx context.Context, agent model.Agent) (model.Agent, error) {
	agent, err := PrepareAgent(agent)
	if err != nil {
		return model.Agent{}, err
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO agents (`+agentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		agent.ID, agent.Name, agent.Strategy, string(agent.Personality),
		toNumeric(agent.Balance), toNumeric(agent.TotalEarned), toNumeric(agent.TotalSpent),
		string(agent.Status), agent.CreatedAt, agent.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.Agent{}, fmt.Errorf("storage: create agent %s: %w", agent.ID, ErrAgentExists)
		}
		return model.Agent{}, fmt.Errorf("storage: create agent: %w", err)
	}
	return agent, nil
}

// PrepareAgent validates a new agent and fills its defaults. Both backends
// call it before inserting.
func PrepareAgent(agent model.Agent) (model.Agent, error) {
	if err := model.ValidateAgentID(agent.ID); err != nil {
		return model.Agent{}, fmt.Errorf("storage: create agent: %w", err)
	}
	if agent.Name == "" {
		agent.Name = agent.ID
	}
	if agent.Personality == "" {
		agent.Personality = model.PersonalityBalanced
	}
	if agent.Status == "" {
		agent.Status = model.StatusActive
	}
	if !agent.Status.Persisted() {
		return model.Agent{}, fmt.Errorf("storage: create agent: status %q cannot be stored", agent.Status)
	}
	if agent.Balance.IsNegative() {
		return model.Agent{}, fmt.Errorf("storage: create agent: negative balance")
	}
	agent.Balance = model.Round(agent.Balance)
	agent.TotalEarned = model.Round(agent.TotalEarned)
	agent.TotalSpent = model.Round(agent.TotalSpent)
	now := time.Now().UTC().Truncate(time.Microsecond)
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	return agent, nil
}

// GetAgent retrieves an agent by id.
func (db *DB) GetAgent(ctx context.Context, id string) (model.Agent, error) {
	a, err := scanAgent(db.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Agent{}, fmt.Errorf("storage: agent %s: %w", id, ErrNotFound)
		}
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns every agent, bankrupt included.
func (db *DB) ListAgents(ctx context.Context) ([]model.Agent, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents `+rosterOrder)
	if err != nil {
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	agents, err := collectAgents(rows)
	if err != nil {
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	return agents, nil
}

// ListActiveAgents returns the epoch roster.
func (db *DB) ListActiveAgents(ctx context.Context) ([]model.Agent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE status = 'active' `+rosterOrder)
	if err != nil {
		return nil, fmt.Errorf("storage: list active agents: %w", err)
	}
	agents, err := collectAgents(rows)
	if err != nil {
		return nil, fmt.Errorf("storage: list active agents: %w", err)
	}
	return agents, nil
}

// ReviveAgent returns a bankrupt agent to active with the given balance.
func (db *DB) ReviveAgent(ctx context.Context, id string, balance decimal.Decimal) (model.Agent, error) {
	if !balance.IsPositive() {
		return model.Agent{}, fmt.Errorf("storage: revive agent: balance must be positive")
	}
	a, err := scanAgent(db.pool.QueryRow(ctx,
		`UPDATE agents SET status = 'active', balance = $2, updated_at = now()
		 WHERE id = $1 AND status = 'bankrupt'
		 RETURNING `+agentColumns, id, toNumeric(balance)))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Agent{}, fmt.Errorf("storage: revive agent: %w", err)
	}
	if _, getErr := db.GetAgent(ctx, id); getErr != nil {
		return model.Agent{}, getErr
	}
	return model.Agent{}, fmt.Errorf("storage: revive agent %s: %w", id, ErrNotBankrupt)
}
