package epoch

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/ichiba/internal/integrity"
	"github.com/ashita-ai/ichiba/internal/model"
	"github.com/ashita-ai/ichiba/internal/oracle"
	"github.com/ashita-ai/ichiba/internal/oracle/oracletest"
	"github.com/ashita-ai/ichiba/internal/service/decisions"
	"github.com/ashita-ai/ichiba/internal/storage/sqlite"
	"github.com/ashita-ai/ichiba/internal/testutil"
)

// quietMarket never produces supplementary trades, so only scripted
// decisions trade.
var quietMarket = []model.MarketEvent{{
	Type: model.EventNormal, Description: "An ordinary market day",
	PriceMultiplier: decimal.NewFromInt(1), TradeProbability: 0,
}}

var fixedNow = time.Date(2026, 4, 2, 12, 30, 0, 123456789, time.UTC)

func newEngine(t *testing.T, store Store, o oracle.Oracle, events []model.MarketEvent) *Engine {
	t.Helper()
	return New(store, o, Config{
		Rand:      rand.New(rand.NewPCG(7, 11)),
		Events:    events,
		Decisions: decisions.Config{Timeout: 500 * time.Millisecond, Concurrency: 4},
		Now:       func() time.Time { return fixedNow },
	}, testutil.TestLogger())
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func scenario(t *testing.T) (*sqlite.DB, *oracletest.Scripted, *Engine) {
	t.Helper()
	store := testutil.NewMemoryStore(t)
	testutil.SeedAgents(t, store, "A", "100", "B", "100", "C", "0.50")
	o := oracletest.New().
		On("A", model.Decision{Action: model.ActionBuy, Skill: "coding", Price: money("20")}).
		On("B", model.Decision{Action: model.ActionSell, Skill: "coding", Price: money("15")})
	return store, o, newEngine(t, store, o, quietMarket)
}

func TestRunEpoch_SettlesTradeAndRetiresInsolventAgent(t *testing.T) {
	ctx := context.Background()
	store, o, eng := scenario(t)

	s, err := eng.RunEpoch(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, s.Epoch.Number)
	assert.Equal(t, 1, s.Trades)
	assert.Equal(t, "15.0000", model.FormatMoney(s.Volume))
	assert.Equal(t, "0.7500", model.FormatMoney(s.Fees))
	assert.Equal(t, 1, s.Bankruptcies)
	assert.Equal(t, 2, s.Epoch.ActiveAgents)
	assert.Equal(t, "B", s.Epoch.TopEarner)
	assert.NotEmpty(t, s.AnchorHash)
	require.Len(t, s.Advisories, 1)
	assert.Equal(t, model.AdvisoryBankruptcy, s.Advisories[0].Kind)
	assert.Equal(t, "C", s.Advisories[0].AgentID)

	a, err := store.GetAgent(ctx, "A")
	require.NoError(t, err)
	b, err := store.GetAgent(ctx, "B")
	require.NoError(t, err)
	c, err := store.GetAgent(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, "85.0000", model.FormatMoney(a.Balance))
	assert.Equal(t, "114.2500", model.FormatMoney(b.Balance))
	assert.Equal(t, model.StatusBankrupt, c.Status)
	assert.Equal(t, "0.5000", model.FormatMoney(c.Balance))

	txs, err := store.ListEpochTransactions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, model.KindTrade, txs[0].Kind)
	assert.Equal(t, model.PhaseDirect, txs[0].Phase)
	assert.Equal(t, model.KindBankruptcy, txs[1].Kind)
	assert.Equal(t, "C", txs[1].BuyerID)
	assert.True(t, txs[1].Amount.IsZero())

	// C is gone from the next roster.
	o.Reset()
	_, err = eng.RunEpoch(ctx)
	require.NoError(t, err)
	for _, call := range o.Calls() {
		assert.NotEqual(t, "C", call.Agent.ID)
		assert.Equal(t, 2, call.Epoch)
	}
	assert.Len(t, o.Calls(), 2)
}

func TestRunEpoch_AnchorVerifies(t *testing.T) {
	ctx := context.Background()
	_, _, eng := scenario(t)

	s, err := eng.RunEpoch(ctx)
	require.NoError(t, err)

	v, err := eng.VerifyEpoch(ctx, 1)
	require.NoError(t, err)
	assert.True(t, v.Anchored)
	assert.True(t, v.Valid)
	assert.Equal(t, s.AnchorHash, v.AnchorHash)
	assert.Equal(t, s.AnchorHash, v.RecomputedHash)
	assert.Equal(t, model.EventNormal, v.Event)
	assert.Equal(t, 1, v.Bankruptcies)

	again, err := eng.AnchorEpoch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, s.AnchorHash, again)
}

func TestRunEpoch_NotEnoughAgents(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryStore(t)
	testutil.SeedAgents(t, store, "solo", "100")
	eng := newEngine(t, store, oracletest.New(), quietMarket)

	_, err := eng.RunEpoch(ctx)
	assert.ErrorIs(t, err, ErrNotEnoughAgents)

	last, err := store.LastEpochNumber(ctx)
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestRunEpoch_OracleFailuresBecomeWait(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryStore(t)
	testutil.SeedAgents(t, store, "a", "50", "b", "50", "c", "50")
	o := oracletest.New().
		Fail("a", nil).
		Delay("b", 5*time.Second).
		On("c", model.Decision{Action: model.ActionBuy, Skill: "no-such-skill", Price: money("3")})
	eng := newEngine(t, store, o, quietMarket)

	s, err := eng.RunEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Fallbacks)
	assert.Zero(t, s.Trades)
	assert.Equal(t, 3, s.Epoch.ActiveAgents)
}

func TestRunEpoch_CancelledBeforeCommitLeavesNoTrace(t *testing.T) {
	store, o, eng := scenario(t)
	o.Delay("A", 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		assert.Eventually(t, func() bool { return len(o.Calls()) > 0 }, time.Second, time.Millisecond)
		cancel()
	}()
	_, err := eng.RunEpoch(ctx)
	require.ErrorIs(t, err, context.Canceled)

	bg := context.Background()
	last, err := store.LastEpochNumber(bg)
	require.NoError(t, err)
	assert.Zero(t, last)
	a, err := store.GetAgent(bg, "A")
	require.NoError(t, err)
	assert.Equal(t, "100.0000", model.FormatMoney(a.Balance))

	o.Delay("A", 0)
	s, err := eng.RunEpoch(bg)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Epoch.Number, "a failed epoch does not consume its number")
}

func TestRunEpoch_RejectsOverlap(t *testing.T) {
	_, o, eng := scenario(t)
	o.Delay("A", 200*time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = eng.RunEpoch(context.Background())
	}()
	require.Eventually(t, func() bool { return len(o.Calls()) > 0 }, time.Second, time.Millisecond)

	_, err := eng.RunEpoch(context.Background())
	assert.ErrorIs(t, err, ErrEpochInProgress)

	wg.Wait()
	assert.NoError(t, firstErr)
}

func TestRunN_NumbersAreGapFree(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryStore(t)
	testutil.SeedAgents(t, store, "a", "100", "b", "100", "c", "100")
	eng := newEngine(t, store, oracletest.New(), quietMarket)

	var seen []int
	out, err := eng.RunN(ctx, 3, time.Millisecond, func(s model.EpochSummary) {
		seen = append(seen, s.Epoch.Number)
	})
	require.NoError(t, err)
	assert.Len(t, out, 3)
	assert.Equal(t, []int{1, 2, 3}, seen)

	last, err := store.LastEpochNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, last)
}

func TestRunN_StopsOnCancel(t *testing.T) {
	store := testutil.NewMemoryStore(t)
	testutil.SeedAgents(t, store, "a", "100", "b", "100")
	eng := newEngine(t, store, oracletest.New(), quietMarket)

	ctx, cancel := context.WithCancel(context.Background())
	out, err := eng.RunN(ctx, 5, time.Hour, func(model.EpochSummary) { cancel() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, out, 1)
}

func TestRunN_ConservesMoneyWithRandomOracle(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryStore(t)
	testutil.SeedAgents(t, store,
		"analyst", "100", "gambler", "100", "saver", "100",
		"trader", "100", "spy", "100", "coder", "100")
	o := oracle.NewRandom(rand.New(rand.NewPCG(3, 5)))
	eng := New(store, o, Config{
		Rand:      rand.New(rand.NewPCG(1, 2)),
		Decisions: decisions.Config{Timeout: time.Second},
	}, testutil.TestLogger())

	out, err := eng.RunN(ctx, 8, 0, nil)
	if errors.Is(err, ErrNotEnoughAgents) {
		err = nil
	}
	require.NoError(t, err)

	fees := decimal.Zero
	for _, s := range out {
		fees = fees.Add(s.Fees)

		txs, err := store.ListEpochTransactions(ctx, s.Epoch.Number)
		require.NoError(t, err)
		sellers := map[string]bool{}
		for _, tx := range txs {
			if tx.Kind != model.KindTrade {
				continue
			}
			assert.NotEqual(t, tx.BuyerID, tx.SellerID)
			assert.False(t, sellers[tx.SellerID], "seller %s sold twice in epoch %d", tx.SellerID, s.Epoch.Number)
			sellers[tx.SellerID] = true
			assert.True(t, tx.Amount.GreaterThan(model.DustFloor))
		}
	}

	agents, err := store.ListAgents(ctx)
	require.NoError(t, err)
	total := decimal.Zero
	for _, a := range agents {
		assert.False(t, a.Balance.IsNegative())
		total = total.Add(a.Balance)
	}
	assert.Equal(t, model.FormatMoney(decimal.NewFromInt(600).Sub(fees)), model.FormatMoney(total))
}

// flakyAnchors fails SetEpochAnchor until healed and can tamper with reads.
type flakyAnchors struct {
	*sqlite.DB
	mu      sync.Mutex
	failing bool
	tamper  bool
}

func (f *flakyAnchors) SetEpochAnchor(ctx context.Context, number int, hash string) error {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errors.New("anchor store unavailable")
	}
	return f.DB.SetEpochAnchor(ctx, number, hash)
}

func (f *flakyAnchors) ListEpochTransactions(ctx context.Context, number int) ([]model.Transaction, error) {
	txs, err := f.DB.ListEpochTransactions(ctx, number)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil && f.tamper && len(txs) > 0 {
		txs[0].Amount = txs[0].Amount.Add(decimal.NewFromInt(1))
	}
	return txs, err
}

// brokenCommit corrupts the next commit so the store fails it partway through.
type brokenCommit struct {
	*sqlite.DB
	mu    sync.Mutex
	armed bool
}

func (b *brokenCommit) CommitEpoch(ctx context.Context, c model.EpochCommit) error {
	b.mu.Lock()
	armed := b.armed
	b.armed = false
	b.mu.Unlock()
	if armed && len(c.Agents) > 0 {
		ghost := c.Agents[0]
		ghost.ID = "ghost"
		c.Agents = append(append([]model.Agent{}, c.Agents...), ghost)
	}
	return b.DB.CommitEpoch(ctx, c)
}

func TestRunEpoch_FailedCommitRollsBackAndReusesNumber(t *testing.T) {
	ctx := context.Background()
	db, o, _ := scenario(t)
	store := &brokenCommit{DB: db, armed: true}
	eng := newEngine(t, store, o, quietMarket)

	_, err := eng.RunEpoch(ctx)
	require.Error(t, err)

	last, err := store.LastEpochNumber(ctx)
	require.NoError(t, err)
	assert.Zero(t, last)
	txs, err := store.ListEpochTransactions(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, txs)
	a, err := store.GetAgent(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "100.0000", model.FormatMoney(a.Balance))
	c, err := store.GetAgent(ctx, "C")
	require.NoError(t, err)
	assert.True(t, c.Active())

	s, err := eng.RunEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Epoch.Number)
	assert.Equal(t, 1, s.Trades)
	assert.Equal(t, 1, s.Bankruptcies)
}

func TestRunEpoch_AnchorFailureIsBackfilled(t *testing.T) {
	ctx := context.Background()
	db, _, _ := scenario(t)
	store := &flakyAnchors{DB: db, failing: true}
	o := oracletest.New().
		On("A", model.Decision{Action: model.ActionBuy, Skill: "coding", Price: money("20")}).
		On("B", model.Decision{Action: model.ActionSell, Skill: "coding", Price: money("15")})
	eng := newEngine(t, store, o, quietMarket)

	s, err := eng.RunEpoch(ctx)
	require.NoError(t, err, "anchor failure does not fail a committed epoch")
	assert.Empty(t, s.AnchorHash)

	pending, err := store.ListUnanchoredEpochs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, pending)

	store.mu.Lock()
	store.failing = false
	store.mu.Unlock()

	n, err := eng.BackfillAnchors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, err := eng.VerifyEpoch(ctx, 1)
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

func TestVerifyEpoch_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	db, o, _ := scenario(t)
	store := &flakyAnchors{DB: db}
	eng := newEngine(t, store, o, quietMarket)

	_, err := eng.RunEpoch(ctx)
	require.NoError(t, err)

	store.mu.Lock()
	store.tamper = true
	store.mu.Unlock()

	v, err := eng.VerifyEpoch(ctx, 1)
	require.NoError(t, err)
	assert.True(t, v.Anchored)
	assert.False(t, v.Valid)
	assert.NotEqual(t, v.AnchorHash, v.RecomputedHash)
}

func TestVerifyEpoch_Missing(t *testing.T) {
	_, _, eng := scenario(t)
	_, err := eng.VerifyEpoch(context.Background(), 42)
	assert.Error(t, err)
}

func TestLedgerRoot(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryStore(t)
	testutil.SeedAgents(t, store, "a", "100", "b", "100")
	eng := newEngine(t, store, oracletest.New(), quietMarket)

	empty, err := eng.LedgerRoot(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Root)
	assert.Zero(t, empty.Epochs)

	out, err := eng.RunN(ctx, 3, 0, nil)
	require.NoError(t, err)

	root, err := eng.LedgerRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, root.Epochs)
	assert.Equal(t, 3, root.Anchored)
	assert.Empty(t, root.Unanchored)
	assert.Equal(t, 1, root.FirstEpoch)
	assert.Equal(t, 3, root.LastEpoch)
	assert.Equal(t, integrity.BuildMerkleRoot([]string{out[0].AnchorHash, out[1].AnchorHash, out[2].AnchorHash}), root.Root)
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryStore(t)

	n, err := Seed(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 15, n)

	agents, err := store.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 15)
	for _, a := range agents {
		assert.Equal(t, "100.0000", model.FormatMoney(a.Balance))
		assert.Equal(t, model.Personality(a.ID), a.Personality)
	}

	n, err = Seed(ctx, store)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLeaderboard(t *testing.T) {
	in := []model.Agent{
		{ID: "b", Balance: money("10")},
		{ID: "a", Balance: money("10")},
		{ID: "c", Balance: money("99")},
	}
	got := Leaderboard(in)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
	assert.Equal(t, "b", got[2].ID)
	assert.Equal(t, "b", in[0].ID, "input untouched")
}
