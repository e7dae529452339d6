package storage

import (
	"context"
	"fmt"

	"github.com/ashita-ai/ichiba/internal/model"
)

// ListAgentTransactions returns the agent's most recent transactions as buyer
// or seller, newest first.
func (db *DB) ListAgentTransactions(ctx context.Context, agentID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE buyer_id = $1 OR seller_id = $1
		 ORDER BY epoch DESC, seq DESC
		 LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list agent transactions: %w", err)
	}
	txs, err := collectTransactions(rows)
	if err != nil {
		return nil, fmt.Errorf("storage: list agent transactions: %w", err)
	}
	return txs, nil
}

// ListAgentHistory returns the agent's post-epoch balance for every epoch it
// took part in, ascending.
func (db *DB) ListAgentHistory(ctx context.Context, agentID string) ([]model.BalancePoint, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT epoch, balance, status FROM epoch_balances WHERE agent_id = $1 ORDER BY epoch`, agentID)
	if err != nil {
		return nil, fmt.Errorf("storage: list agent history: %w", err)
	}
	defer rows.Close()

	var points []model.BalancePoint
	for rows.Next() {
		var (
			p model.BalancePoint
			m money
		)
		if err := rows.Scan(&p.Epoch, m.scan(&p.Balance), &p.Status); err != nil {
			return nil, fmt.Errorf("storage: scan balance point: %w", err)
		}
		if err := m.finish(); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Stats aggregates the whole economy.
func (db *DB) Stats(ctx context.Context) (model.Stats, error) {
	var (
		s model.Stats
		m money
	)
	err := db.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM agents),
			(SELECT COUNT(*) FROM agents WHERE status = 'active'),
			(SELECT COALESCE(SUM(balance), 0) FROM agents),
			(SELECT COUNT(*) FROM epochs),
			(SELECT COUNT(*) FROM transactions WHERE kind = 'trade'),
			(SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE kind = 'trade')`,
	).Scan(&s.TotalAgents, &s.ActiveAgents, m.scan(&s.TotalBalance), &s.TotalEpochs,
		&s.TotalTransactions, m.scan(&s.TotalVolume))
	if err != nil {
		return model.Stats{}, fmt.Errorf("storage: stats: %w", err)
	}
	if err := m.finish(); err != nil {
		return model.Stats{}, err
	}
	return FinishStats(s), nil
}

// FinishStats derives the computed fields of s.
func FinishStats(s model.Stats) model.Stats {
	s.BankruptAgents = s.TotalAgents - s.ActiveAgents
	if s.TotalAgents > 0 {
		s.SurvivalRate = float64(s.ActiveAgents) / float64(s.TotalAgents)
	}
	return s
}
