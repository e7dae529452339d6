// Package sqlite is an embedded ichiba store backed by modernc.org/sqlite.
//
// Money is stored as fixed four-place decimal text, so ordering by balance
// is done in Go rather than in SQL.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ashita-ai/ichiba/internal/model"
	"github.com/ashita-ai/ichiba/internal/storage"
)

//go:embed schema.sql
var schema string

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DB is a SQLite-backed storage.Store.
type DB struct {
	conn   *sql.DB
	path   string
	logger *slog.Logger
}

var _ storage.Store = (*DB)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	dsn := MemoryPath
	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite: create directory: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if path == MemoryPath {
		// Each connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	logger.Debug("sqlite: opened", "path", path)
	return &DB{conn: conn, path: path, logger: logger}, nil
}

// Kind names the backend for health output.
func (db *DB) Kind() string { return "sqlite" }

// Ping checks the database is reachable.
func (db *DB) Ping(ctx context.Context) error { return db.conn.PingContext(ctx) }

// Close closes the database.
func (db *DB) Close(_ context.Context) error { return db.conn.Close() }

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func money(d decimal.Decimal) string { return model.FormatMoney(model.Round(d)) }

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

const agentColumns = `id, name, strategy, personality, balance, total_earned, total_spent, status, created_at, updated_at`

func scanAgent(row rowScanner) (model.Agent, error) {
	var (
		a                model.Agent
		created, updated string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Strategy, &a.Personality,
		&a.Balance, &a.TotalEarned, &a.TotalSpent, &a.Status, &created, &updated); err != nil {
		return model.Agent{}, err
	}
	var err error
	if a.CreatedAt, err = parseTime(created); err != nil {
		return model.Agent{}, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Agent{}, err
	}
	return a, nil
}

// sortRoster applies balance descending, id ascending.
func sortRoster(agents []model.Agent) {
	sort.SliceStable(agents, func(i, j int) bool {
		if c := agents[i].Balance.Cmp(agents[j].Balance); c != 0 {
			return c > 0
		}
		return agents[i].ID < agents[j].ID
	})
}

func (db *DB) queryAgents(ctx context.Context, where string, args ...any) ([]model.Agent, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents `+where, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var agents []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRoster(agents)
	return agents, nil
}

// CreateAgent inserts a new agent.
func (db *DB) CreateAgent(ctx context.Context, agent model.Agent) (model.Agent, error) {
	agent, err := storage.PrepareAgent(agent)
	if err != nil {
		return model.Agent{}, err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.Name, agent.Strategy, string(agent.Personality),
		money(agent.Balance), money(agent.TotalEarned), money(agent.TotalSpent),
		string(agent.Status), formatTime(agent.CreatedAt), formatTime(agent.UpdatedAt),
	)
	if err != nil {
		if isConstraint(err) {
			return model.Agent{}, fmt.Errorf("sqlite: create agent %s: %w", agent.ID, storage.ErrAgentExists)
		}
		return model.Agent{}, fmt.Errorf("sqlite: create agent: %w", err)
	}
	return agent, nil
}

// GetAgent retrieves an agent by id.
func (db *DB) GetAgent(ctx context.Context, id string) (model.Agent, error) {
	a, err := scanAgent(db.conn.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Agent{}, fmt.Errorf("sqlite: agent %s: %w", id, storage.ErrNotFound)
		}
		return model.Agent{}, fmt.Errorf("sqlite: get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns every agent.
func (db *DB) ListAgents(ctx context.Context) ([]model.Agent, error) {
	agents, err := db.queryAgents(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list agents: %w", err)
	}
	return agents, nil
}

// ListActiveAgents returns the epoch roster.
func (db *DB) ListActiveAgents(ctx context.Context) ([]model.Agent, error) {
	agents, err := db.queryAgents(ctx, `WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list active agents: %w", err)
	}
	return agents, nil
}

// ReviveAgent returns a bankrupt agent to active with the given balance.
func (db *DB) ReviveAgent(ctx context.Context, id string, balance decimal.Decimal) (model.Agent, error) {
	if !balance.IsPositive() {
		return model.Agent{}, fmt.Errorf("sqlite: revive agent: balance must be positive")
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE agents SET status = 'active', balance = ?, updated_at = ? WHERE id = ? AND status = 'bankrupt'`,
		money(balance), formatTime(time.Now()), id)
	if err != nil {
		return model.Agent{}, fmt.Errorf("sqlite: revive agent: %w", err)
	}
	a, err := db.GetAgent(ctx, id)
	if err != nil {
		return model.Agent{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Agent{}, fmt.Errorf("sqlite: revive agent %s: %w", id, storage.ErrNotBankrupt)
	}
	return a, nil
}

// LastEpochNumber returns the highest committed epoch number, or 0.
func (db *DB) LastEpochNumber(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(number), 0) FROM epochs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: last epoch number: %w", err)
	}
	return n, nil
}

// CommitEpoch writes an epoch atomically.
func (db *DB) CommitEpoch(ctx context.Context, c model.EpochCommit) error {
	if err := storage.ValidateCommit(c); err != nil {
		return err
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin epoch tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(number), 0) FROM epochs`).Scan(&last); err != nil {
		return fmt.Errorf("sqlite: last epoch number: %w", err)
	}
	if err := storage.CheckSequence(c.Epoch.Number, last); err != nil {
		return err
	}

	e := c.Epoch
	var anchor sql.NullString
	if e.AnchorHash != nil {
		anchor = nullable(*e.AnchorHash)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO epochs (number, total_volume, total_fees, trade_count, active_agents, bankruptcies,
			top_earner, event_type, event_description, anchor_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Number, money(e.TotalVolume), money(e.TotalFees), e.TradeCount, e.ActiveAgents, e.Bankruptcies,
		nullable(e.TopEarner), string(e.EventType), e.EventDescription, anchor, formatTime(e.CreatedAt),
	); err != nil {
		if isConstraint(err) {
			return fmt.Errorf("sqlite: epoch %d: %w", e.Number, storage.ErrEpochExists)
		}
		return fmt.Errorf("sqlite: insert epoch: %w", err)
	}

	for _, t := range c.Transactions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (id, epoch, seq, kind, phase, buyer_id, seller_id, skill_type, amount, fee, narrative, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID.String(), t.Epoch, t.Seq, string(t.Kind), string(t.Phase), t.BuyerID, nullable(t.SellerID),
			t.SkillType, money(t.Amount), money(t.Fee), t.Narrative, formatTime(t.CreatedAt),
		); err != nil {
			return fmt.Errorf("sqlite: insert transaction %d: %w", t.Seq, err)
		}
	}
	for _, s := range c.Snapshots {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO epoch_balances (epoch, agent_id, balance, status) VALUES (?, ?, ?, ?)`,
			e.Number, s.AgentID, money(s.Balance), string(s.Status),
		); err != nil {
			return fmt.Errorf("sqlite: insert epoch balance %s: %w", s.AgentID, err)
		}
	}
	for _, a := range c.Agents {
		res, err := tx.ExecContext(ctx,
			`UPDATE agents SET balance = ?, total_earned = ?, total_spent = ?, status = ?, updated_at = ? WHERE id = ?`,
			money(a.Balance), money(a.TotalEarned), money(a.TotalSpent), string(a.Status), formatTime(a.UpdatedAt), a.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: update agent %s: %w", a.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("sqlite: update agent %s: %w", a.ID, storage.ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit epoch tx: %w", err)
	}
	return nil
}

const epochColumns = `number, total_volume, total_fees, trade_count, active_agents, bankruptcies,
	top_earner, event_type, event_description, anchor_hash, created_at`

func scanEpoch(row rowScanner) (model.Epoch, error) {
	var (
		e           model.Epoch
		top, anchor sql.NullString
		created     string
	)
	if err := row.Scan(&e.Number, &e.TotalVolume, &e.TotalFees, &e.TradeCount, &e.ActiveAgents,
		&e.Bankruptcies, &top, &e.EventType, &e.EventDescription, &anchor, &created); err != nil {
		return model.Epoch{}, err
	}
	e.TopEarner = top.String
	if anchor.Valid {
		h := anchor.String
		e.AnchorHash = &h
	}
	var err error
	e.CreatedAt, err = parseTime(created)
	return e, err
}

// GetEpoch retrieves one epoch record.
func (db *DB) GetEpoch(ctx context.Context, number int) (model.Epoch, error) {
	e, err := scanEpoch(db.conn.QueryRowContext(ctx, `SELECT `+epochColumns+` FROM epochs WHERE number = ?`, number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Epoch{}, fmt.Errorf("sqlite: epoch %d: %w", number, storage.ErrNotFound)
		}
		return model.Epoch{}, fmt.Errorf("sqlite: get epoch: %w", err)
	}
	return e, nil
}

// ListEpochs returns epochs newest first.
func (db *DB) ListEpochs(ctx context.Context, limit, offset int) ([]model.Epoch, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+epochColumns+` FROM epochs ORDER BY number DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list epochs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var epochs []model.Epoch
	for rows.Next() {
		e, err := scanEpoch(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan epoch: %w", err)
		}
		epochs = append(epochs, e)
	}
	return epochs, rows.Err()
}

const transactionColumns = `id, epoch, seq, kind, phase, buyer_id, seller_id, skill_type, amount, fee, narrative, created_at`

func (db *DB) queryTransactions(ctx context.Context, query string, args ...any) ([]model.Transaction, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var txs []model.Transaction
	for rows.Next() {
		var (
			t           model.Transaction
			id, created string
			seller      sql.NullString
		)
		if err := rows.Scan(&id, &t.Epoch, &t.Seq, &t.Kind, &t.Phase, &t.BuyerID, &seller,
			&t.SkillType, &t.Amount, &t.Fee, &t.Narrative, &created); err != nil {
			return nil, err
		}
		if t.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse transaction id: %w", err)
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		t.SellerID = seller.String
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// ListEpochTransactions returns an epoch's transactions in seq order.
func (db *DB) ListEpochTransactions(ctx context.Context, number int) ([]model.Transaction, error) {
	txs, err := db.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE epoch = ? ORDER BY seq`, number)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list epoch transactions: %w", err)
	}
	return txs, nil
}

// ListEpochSnapshots returns the post-epoch roster ordered by agent id.
func (db *DB) ListEpochSnapshots(ctx context.Context, number int) ([]model.AgentSnapshot, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT agent_id, balance, status FROM epoch_balances WHERE epoch = ? ORDER BY agent_id`, number)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list epoch snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snaps []model.AgentSnapshot
	for rows.Next() {
		var s model.AgentSnapshot
		if err := rows.Scan(&s.AgentID, &s.Balance, &s.Status); err != nil {
			return nil, fmt.Errorf("sqlite: scan epoch snapshot: %w", err)
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// SetEpochAnchor attaches an anchor hash once.
func (db *DB) SetEpochAnchor(ctx context.Context, number int, hash string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE epochs SET anchor_hash = ? WHERE number = ? AND (anchor_hash IS NULL OR anchor_hash = ?)`,
		hash, number, hash)
	if err != nil {
		return fmt.Errorf("sqlite: set epoch anchor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := db.GetEpoch(ctx, number); err != nil {
		return err
	}
	return fmt.Errorf("sqlite: epoch %d: %w", number, storage.ErrAnchorConflict)
}

// ListUnanchoredEpochs returns epoch numbers lacking an anchor, ascending.
func (db *DB) ListUnanchoredEpochs(ctx context.Context) ([]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT number FROM epochs WHERE anchor_hash IS NULL ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list unanchored epochs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var nums []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("sqlite: scan epoch number: %w", err)
		}
		nums = append(nums, n)
	}
	return nums, rows.Err()
}

// ListEpochAnchors returns every epoch with its anchor hash, ascending.
func (db *DB) ListEpochAnchors(ctx context.Context) ([]model.EpochAnchor, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT number, COALESCE(anchor_hash, '') FROM epochs ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list epoch anchors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.EpochAnchor
	for rows.Next() {
		var a model.EpochAnchor
		if err := rows.Scan(&a.Epoch, &a.AnchorHash); err != nil {
			return nil, fmt.Errorf("sqlite: scan epoch anchor: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAgentTransactions returns the agent's most recent transactions.
func (db *DB) ListAgentTransactions(ctx context.Context, agentID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	txs, err := db.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE buyer_id = ? OR seller_id = ?
		 ORDER BY epoch DESC, seq DESC LIMIT ?`, agentID, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list agent transactions: %w", err)
	}
	return txs, nil
}

// ListAgentHistory returns the agent's post-epoch balances, ascending.
func (db *DB) ListAgentHistory(ctx context.Context, agentID string) ([]model.BalancePoint, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT epoch, balance, status FROM epoch_balances WHERE agent_id = ? ORDER BY epoch`, agentID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list agent history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var points []model.BalancePoint
	for rows.Next() {
		var p model.BalancePoint
		if err := rows.Scan(&p.Epoch, &p.Balance, &p.Status); err != nil {
			return nil, fmt.Errorf("sqlite: scan balance point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Stats aggregates the whole economy. Sums are taken in Go to keep decimal
// precision.
func (db *DB) Stats(ctx context.Context) (model.Stats, error) {
	var s model.Stats
	agents, err := db.ListAgents(ctx)
	if err != nil {
		return model.Stats{}, err
	}
	s.TotalAgents = len(agents)
	s.TotalBalance = decimal.Zero
	for _, a := range agents {
		if a.Active() {
			s.ActiveAgents++
		}
		s.TotalBalance = s.TotalBalance.Add(a.Balance)
	}
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM epochs`).Scan(&s.TotalEpochs); err != nil {
		return model.Stats{}, fmt.Errorf("sqlite: stats: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT amount FROM transactions WHERE kind = 'trade'`)
	if err != nil {
		return model.Stats{}, fmt.Errorf("sqlite: stats: %w", err)
	}
	defer func() { _ = rows.Close() }()
	s.TotalVolume = decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return model.Stats{}, fmt.Errorf("sqlite: stats: %w", err)
		}
		s.TotalTransactions++
		s.TotalVolume = s.TotalVolume.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return model.Stats{}, fmt.Errorf("sqlite: stats: %w", err)
	}
	return storage.FinishStats(s), nil
}
