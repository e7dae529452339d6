package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/ichiba/internal/model"
)

// epochLockKey serializes epoch commits across processes sharing a database.
const epochLockKey int64 = 0x69636869626100

const epochColumns = `number, total_volume, total_fees, trade_count, active_agents, bankruptcies,
	top_earner, event_type, event_description, anchor_hash, created_at`

const transactionColumns = `id, epoch, seq, kind, phase, buyer_id, seller_id, skill_type, amount, fee, narrative, created_at`

func scanEpoch(row pgx.Row) (model.Epoch, error) {
	var (
		e         model.Epoch
		m         money
		topEarner *string
	)
	if err := row.Scan(
		&e.Number, m.scan(&e.TotalVolume), m.scan(&e.TotalFees), &e.TradeCount,
		&e.ActiveAgents, &e.Bankruptcies, &topEarner, &e.EventType, &e.EventDescription,
		&e.AnchorHash, &e.CreatedAt,
	); err != nil {
		return model.Epoch{}, err
	}
	if topEarner != nil {
		e.TopEarner = *topEarner
	}
	return e, m.finish()
}

func scanTransaction(row pgx.Row) (model.Transaction, error) {
	var (
		t      model.Transaction
		m      money
		seller *string
	)
	if err := row.Scan(
		&t.ID, &t.Epoch, &t.Seq, &t.Kind, &t.Phase, &t.BuyerID, &seller, &t.SkillType,
		m.scan(&t.Amount), m.scan(&t.Fee), &t.Narrative, &t.CreatedAt,
	); err != nil {
		return model.Transaction{}, err
	}
	if seller != nil {
		t.SellerID = *seller
	}
	return t, m.finish()
}

func collectTransactions(rows pgx.Rows) ([]model.Transaction, error) {
	defer rows.Close()
	var txs []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// LastEpochNumber returns the highest committed epoch number, or 0.
func (db *DB) LastEpochNumber(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COALESCE(MAX(number), 0) FROM epochs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: last epoch number: %w", err)
	}
	return n, nil
}

// CommitEpoch writes the epoch record, its transactions, the roster snapshot
// and the updated agents in one transaction. Serialization failures and
// deadlocks are retried.
func (db *DB) CommitEpoch(ctx context.Context, c model.EpochCommit) error {
	if err := ValidateCommit(c); err != nil {
		return err
	}
	return WithRetry(ctx, commitRetries, commitBaseDelay, func() error {
		return db.commitEpoch(ctx, c)
	})
}

func (db *DB) commitEpoch(ctx context.Context, c model.EpochCommit) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin epoch tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, epochLockKey); err != nil {
		return fmt.Errorf("storage: lock epochs: %w", err)
	}
	var last int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(number), 0) FROM epochs`).Scan(&last); err != nil {
		return fmt.Errorf("storage: last epoch number: %w", err)
	}
	if err := CheckSequence(c.Epoch.Number, last); err != nil {
		return err
	}

	e := c.Epoch
	if _, err := tx.Exec(ctx,
		`INSERT INTO epochs (`+epochColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.Number, toNumeric(e.TotalVolume), toNumeric(e.TotalFees), e.TradeCount,
		e.ActiveAgents, e.Bankruptcies, nullable(e.TopEarner), string(e.EventType),
		e.EventDescription, e.AnchorHash, e.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("storage: epoch %d: %w", e.Number, ErrEpochExists)
		}
		return fmt.Errorf("storage: insert epoch: %w", err)
	}

	if len(c.Transactions) > 0 {
		rows := make([][]any, 0, len(c.Transactions))
		for _, t := range c.Transactions {
			rows = append(rows, []any{
				t.ID, t.Epoch, t.Seq, string(t.Kind), string(t.Phase), t.BuyerID, nullable(t.SellerID),
				t.SkillType, toNumeric(t.Amount), toNumeric(t.Fee), t.Narrative, t.CreatedAt,
			})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"transactions"},
			[]string{"id", "epoch", "seq", "kind", "phase", "buyer_id", "seller_id", "skill_type", "amount", "fee", "narrative", "created_at"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("storage: copy transactions: %w", err)
		}
	}

	if len(c.Snapshots) > 0 {
		rows := make([][]any, 0, len(c.Snapshots))
		for _, s := range c.Snapshots {
			rows = append(rows, []any{e.Number, s.AgentID, toNumeric(s.Balance), string(s.Status)})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"epoch_balances"},
			[]string{"epoch", "agent_id", "balance", "status"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("storage: copy epoch balances: %w", err)
		}
	}

	if len(c.Agents) > 0 {
		batch := &pgx.Batch{}
		for _, a := range c.Agents {
			batch.Queue(
				`UPDATE agents SET balance = $2, total_earned = $3, total_spent = $4, status = $5, updated_at = $6
				 WHERE id = $1`,
				a.ID, toNumeric(a.Balance), toNumeric(a.TotalEarned), toNumeric(a.TotalSpent),
				string(a.Status), a.UpdatedAt,
			)
		}
		br := tx.SendBatch(ctx, batch)
		for _, a := range c.Agents {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return fmt.Errorf("storage: update agent %s: %w", a.ID, err)
			}
			if tag.RowsAffected() == 0 {
				_ = br.Close()
				return fmt.Errorf("storage: update agent %s: %w", a.ID, ErrNotFound)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("storage: update agents: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit epoch tx: %w", err)
	}
	return nil
}

// GetEpoch retrieves one epoch record.
func (db *DB) GetEpoch(ctx context.Context, number int) (model.Epoch, error) {
	e, err := scanEpoch(db.pool.QueryRow(ctx,
		`SELECT `+epochColumns+` FROM epochs WHERE number = $1`, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Epoch{}, fmt.Errorf("storage: epoch %d: %w", number, ErrNotFound)
		}
		return model.Epoch{}, fmt.Errorf("storage: get epoch: %w", err)
	}
	return e, nil
}

// ListEpochs returns epochs newest first.
func (db *DB) ListEpochs(ctx context.Context, limit, offset int) ([]model.Epoch, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+epochColumns+` FROM epochs ORDER BY number DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list epochs: %w", err)
	}
	defer rows.Close()

	var epochs []model.Epoch
	for rows.Next() {
		e, err := scanEpoch(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan epoch: %w", err)
		}
		epochs = append(epochs, e)
	}
	return epochs, rows.Err()
}

// ListEpochTransactions returns an epoch's transactions in seq order.
func (db *DB) ListEpochTransactions(ctx context.Context, number int) ([]model.Transaction, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE epoch = $1 ORDER BY seq`, number)
	if err != nil {
		return nil, fmt.Errorf("storage: list epoch transactions: %w", err)
	}
	txs, err := collectTransactions(rows)
	if err != nil {
		return nil, fmt.Errorf("storage: list epoch transactions: %w", err)
	}
	return txs, nil
}

// ListEpochSnapshots returns the post-epoch roster ordered by agent id.
func (db *DB) ListEpochSnapshots(ctx context.Context, number int) ([]model.AgentSnapshot, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT agent_id, balance, status FROM epoch_balances WHERE epoch = $1 ORDER BY agent_id`, number)
	if err != nil {
		return nil, fmt.Errorf("storage: list epoch snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []model.AgentSnapshot
	for rows.Next() {
		var (
			s model.AgentSnapshot
			m money
		)
		if err := rows.Scan(&s.AgentID, m.scan(&s.Balance), &s.Status); err != nil {
			return nil, fmt.Errorf("storage: scan epoch snapshot: %w", err)
		}
		if err := m.finish(); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// SetEpochAnchor attaches an anchor hash. Setting the same hash twice is a
// no-op; a different hash is rejected.
func (db *DB) SetEpochAnchor(ctx context.Context, number int, hash string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE epochs SET anchor_hash = $2 WHERE number = $1 AND (anchor_hash IS NULL OR anchor_hash = $2)`,
		number, hash)
	if err != nil {
		return fmt.Errorf("storage: set epoch anchor: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := db.GetEpoch(ctx, number); err != nil {
		return err
	}
	return fmt.Errorf("storage: epoch %d: %w", number, ErrAnchorConflict)
}

// ListUnanchoredEpochs returns epoch numbers lacking an anchor, ascending.
func (db *DB) ListUnanchoredEpochs(ctx context.Context) ([]int, error) {
	rows, err := db.pool.Query(ctx, `SELECT number FROM epochs WHERE anchor_hash IS NULL ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("storage: list unanchored epochs: %w", err)
	}
	nums, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("storage: list unanchored epochs: %w", err)
	}
	return nums, nil
}

// ListEpochAnchors returns every epoch with its anchor hash, ascending.
func (db *DB) ListEpochAnchors(ctx context.Context) ([]model.EpochAnchor, error) {
	rows, err := db.pool.Query(ctx, `SELECT number, COALESCE(anchor_hash, '') FROM epochs ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("storage: list epoch anchors: %w", err)
	}
	defer rows.Close()

	var out []model.EpochAnchor
	for rows.Next() {
		var a model.EpochAnchor
		if err := rows.Scan(&a.Epoch, &a.AnchorHash); err != nil {
			return nil, fmt.Errorf("storage: scan epoch anchor: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
