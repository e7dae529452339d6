// Package storagetest holds behavior tests every storage.Store backend must
// pass.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/ichiba/internal/model"
	"github.com/ashita-ai/ichiba/internal/storage"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) storage.Store

// Run exercises the full store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("AgentRoundTrip", func(t *testing.T) { testAgentRoundTrip(t, newStore(t)) })
	t.Run("RosterOrder", func(t *testing.T) { testRosterOrder(t, newStore(t)) })
	t.Run("CommitEpoch", func(t *testing.T) { testCommitEpoch(t, newStore(t)) })
	t.Run("EpochSequence", func(t *testing.T) { testEpochSequence(t, newStore(t)) })
	t.Run("CommitIsAtomic", func(t *testing.T) { testCommitIsAtomic(t, newStore(t)) })
	t.Run("Anchors", func(t *testing.T) { testAnchors(t, newStore(t)) })
	t.Run("AgentReads", func(t *testing.T) { testAgentReads(t, newStore(t)) })
	t.Run("Revive", func(t *testing.T) { testRevive(t, newStore(t)) })
}

var epochTime = time.Date(2026, 3, 14, 15, 9, 26, 535897000, time.UTC)

func m(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func create(t *testing.T, s storage.Store, id, balance string) model.Agent {
	t.Helper()
	a, err := s.CreateAgent(context.Background(), model.Agent{
		ID: id, Name: "Agent " + id, Strategy: "trade", Personality: model.PersonalityTrader, Balance: m(balance),
	})
	require.NoError(t, err)
	return a
}

func trade(epoch, seq int, buyer, seller, amount string) model.Transaction {
	a := m(amount)
	return model.Transaction{
		ID: uuid.New(), Epoch: epoch, Seq: seq, Kind: model.KindTrade, Phase: model.PhaseDirect,
		BuyerID: buyer, SellerID: seller, SkillType: "coding", Amount: a, Fee: model.Fee(a),
		Narrative: buyer + " bought coding from " + seller, CreatedAt: epochTime,
	}
}

// commitAB commits the canonical A buys from B for 15 epoch.
func commitAB(t *testing.T, s storage.Store, number int) model.EpochCommit {
	t.Helper()
	ctx := context.Background()
	a, err := s.GetAgent(ctx, "A")
	require.NoError(t, err)
	b, err := s.GetAgent(ctx, "B")
	require.NoError(t, err)

	a.Balance = a.Balance.Sub(m("15"))
	a.TotalSpent = a.TotalSpent.Add(m("15"))
	b.Balance = b.Balance.Add(m("14.25"))
	b.TotalEarned = b.TotalEarned.Add(m("14.25"))
	a.UpdatedAt, b.UpdatedAt = epochTime, epochTime

	c := model.EpochCommit{
		Epoch: model.Epoch{
			Number: number, TotalVolume: m("15"), TotalFees: m("0.75"), TradeCount: 1,
			ActiveAgents: 2, TopEarner: "B", EventType: model.EventNormal,
			EventDescription: "An ordinary market day", CreatedAt: epochTime.Add(time.Duration(number) * time.Minute),
		},
		Transactions: []model.Transaction{trade(number, 1, "A", "B", "15")},
		Agents:       []model.Agent{a, b},
		Snapshots:    []model.AgentSnapshot{a.Snapshot(), b.Snapshot()},
	}
	require.NoError(t, s.CommitEpoch(ctx, c))
	return c
}

func testAgentRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	created := create(t, s, "trader-1", "100")
	assert.Equal(t, model.StatusActive, created.Status)

	got, err := s.GetAgent(ctx, "trader-1")
	require.NoError(t, err)
	assert.Equal(t, "Agent trader-1", got.Name)
	assert.Equal(t, model.PersonalityTrader, got.Personality)
	assert.Equal(t, "100.0000", model.FormatMoney(got.Balance))
	assert.True(t, got.TotalEarned.IsZero())
	assert.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Millisecond)

	_, err = s.CreateAgent(ctx, model.Agent{ID: "trader-1", Balance: m("1")})
	assert.ErrorIs(t, err, storage.ErrAgentExists)

	_, err = s.CreateAgent(ctx, model.Agent{ID: "bad id!", Balance: m("1")})
	assert.Error(t, err)

	_, err = s.GetAgent(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testRosterOrder(t *testing.T, s storage.Store) {
	ctx := context.Background()
	create(t, s, "c", "50")
	create(t, s, "a", "100")
	create(t, s, "b", "100")
	create(t, s, "d", "9.5")
	_, err := s.CreateAgent(ctx, model.Agent{ID: "z", Balance: m("0.2"), Status: model.StatusBankrupt})
	require.NoError(t, err)

	all, err := s.ListAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "z"}, ids(all))

	active, err := s.ListActiveAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(active))
}

func ids(agents []model.Agent) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.ID
	}
	return out
}

func testCommitEpoch(t *testing.T, s storage.Store) {
	ctx := context.Background()
	create(t, s, "A", "100")
	create(t, s, "B", "100")

	last, err := s.LastEpochNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, last)

	c := commitAB(t, s, 1)

	last, err = s.LastEpochNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, last)

	e, err := s.GetEpoch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "15.0000", model.FormatMoney(e.TotalVolume))
	assert.Equal(t, "0.7500", model.FormatMoney(e.TotalFees))
	assert.Equal(t, "B", e.TopEarner)
	assert.Equal(t, model.EventNormal, e.EventType)
	assert.False(t, e.Anchored())
	assert.True(t, c.Epoch.CreatedAt.Equal(e.CreatedAt), "created_at %s != %s", e.CreatedAt, c.Epoch.CreatedAt)

	txs, err := s.ListEpochTransactions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, c.Transactions[0].ID, txs[0].ID)
	assert.Equal(t, "A", txs[0].BuyerID)
	assert.Equal(t, "B", txs[0].SellerID)
	assert.Equal(t, "0.7500", model.FormatMoney(txs[0].Fee))

	a, err := s.GetAgent(ctx, "A")
	require.NoError(t, err)
	b, err := s.GetAgent(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "85.0000", model.FormatMoney(a.Balance))
	assert.Equal(t, "15.0000", model.FormatMoney(a.TotalSpent))
	assert.Equal(t, "114.2500", model.FormatMoney(b.Balance))
	assert.Equal(t, "14.2500", model.FormatMoney(b.TotalEarned))

	snaps, err := s.ListEpochSnapshots(ctx, 1)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "A", snaps[0].AgentID)
	assert.Equal(t, "85.0000", model.FormatMoney(snaps[0].Balance))

	epochs, err := s.ListEpochs(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, epochs, 1)

	_, err = s.GetEpoch(ctx, 2)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testEpochSequence(t *testing.T, s storage.Store) {
	ctx := context.Background()
	create(t, s, "A", "100")
	create(t, s, "B", "100")
	commitAB(t, s, 1)

	dup := model.EpochCommit{Epoch: model.Epoch{Number: 1, EventType: model.EventNormal, CreatedAt: epochTime}}
	assert.ErrorIs(t, s.CommitEpoch(ctx, dup), storage.ErrEpochExists)

	gap := model.EpochCommit{Epoch: model.Epoch{Number: 3, EventType: model.EventNormal, CreatedAt: epochTime}}
	assert.ErrorIs(t, s.CommitEpoch(ctx, gap), storage.ErrEpochGap)

	commitAB(t, s, 2)
	epochs, err := s.ListEpochs(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, epochs, 2)
	assert.Equal(t, 2, epochs[0].Number)

	page, err := s.ListEpochs(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, 1, page[0].Number)
}

func testCommitIsAtomic(t *testing.T, s storage.Store) {
	ctx := context.Background()
	create(t, s, "A", "100")
	create(t, s, "B", "100")

	a, _ := s.GetAgent(ctx, "A")
	a.Balance = m("1")
	ghost := model.Agent{ID: "ghost", Balance: m("1"), Status: model.StatusActive, UpdatedAt: epochTime}
	c := model.EpochCommit{
		Epoch:        model.Epoch{Number: 1, EventType: model.EventNormal, CreatedAt: epochTime},
		Transactions: []model.Transaction{trade(1, 1, "A", "B", "5")},
		Agents:       []model.Agent{a, ghost},
	}
	require.Error(t, s.CommitEpoch(ctx, c))

	last, err := s.LastEpochNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, last)
	got, err := s.GetAgent(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "100.0000", model.FormatMoney(got.Balance))
	txs, err := s.ListEpochTransactions(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, txs)

	neg := model.EpochCommit{
		Epoch:  model.Epoch{Number: 1, EventType: model.EventNormal, CreatedAt: epochTime},
		Agents: []model.Agent{{ID: "A", Balance: m("-1"), Status: model.StatusActive}},
	}
	assert.Error(t, s.CommitEpoch(ctx, neg))

	unphased := trade(1, 1, "A", "B", "5")
	unphased.Phase = ""
	bad := model.EpochCommit{
		Epoch:        model.Epoch{Number: 1, EventType: model.EventNormal, CreatedAt: epochTime},
		Transactions: []model.Transaction{unphased},
	}
	err = s.CommitEpoch(ctx, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `trade has phase ""`)
}

func testAnchors(t *testing.T, s storage.Store) {
	ctx := context.Background()
	create(t, s, "A", "100")
	create(t, s, "B", "100")
	commitAB(t, s, 1)
	commitAB(t, s, 2)

	unanchored, err := s.ListUnanchoredEpochs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, unanchored)

	require.NoError(t, s.SetEpochAnchor(ctx, 1, "abc"))
	require.NoError(t, s.SetEpochAnchor(ctx, 1, "abc"))
	assert.ErrorIs(t, s.SetEpochAnchor(ctx, 1, "def"), storage.ErrAnchorConflict)
	assert.ErrorIs(t, s.SetEpochAnchor(ctx, 9, "abc"), storage.ErrNotFound)

	e, err := s.GetEpoch(ctx, 1)
	require.NoError(t, err)
	require.True(t, e.Anchored())
	assert.Equal(t, "abc", *e.AnchorHash)

	unanchored, err = s.ListUnanchoredEpochs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, unanchored)

	anchors, err := s.ListEpochAnchors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.EpochAnchor{{Epoch: 1, AnchorHash: "abc"}, {Epoch: 2}}, anchors)
}

func testAgentReads(t *testing.T, s storage.Store) {
	ctx := context.Background()
	create(t, s, "A", "100")
	create(t, s, "B", "100")
	create(t, s, "C", "100")
	commitAB(t, s, 1)
	commitAB(t, s, 2)

	txs, err := s.ListAgentTransactions(ctx, "B", 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, 2, txs[0].Epoch)

	limited, err := s.ListAgentTransactions(ctx, "A", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	history, err := s.ListAgentHistory(ctx, "A")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "85.0000", model.FormatMoney(history[0].Balance))
	assert.Equal(t, "70.0000", model.FormatMoney(history[1].Balance))

	none, err := s.ListAgentHistory(ctx, "C")
	require.NoError(t, err)
	assert.Empty(t, none)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalAgents)
	assert.Equal(t, 3, stats.ActiveAgents)
	assert.Equal(t, 0, stats.BankruptAgents)
	assert.Equal(t, 2, stats.TotalEpochs)
	assert.Equal(t, 2, stats.TotalTransactions)
	assert.Equal(t, "30.0000", model.FormatMoney(stats.TotalVolume))
	assert.Equal(t, "298.5000", model.FormatMoney(stats.TotalBalance))
	assert.InDelta(t, 1.0, stats.SurvivalRate, 1e-9)
}

func testRevive(t *testing.T, s storage.Store) {
	ctx := context.Background()
	create(t, s, "alive", "10")
	_, err := s.CreateAgent(ctx, model.Agent{ID: "gone", Balance: m("0.3"), Status: model.StatusBankrupt})
	require.NoError(t, err)

	_, err = s.ReviveAgent(ctx, "alive", m("50"))
	assert.ErrorIs(t, err, storage.ErrNotBankrupt)
	_, err = s.ReviveAgent(ctx, "missing", m("50"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.ReviveAgent(ctx, "gone", m("0"))
	assert.Error(t, err)

	a, err := s.ReviveAgent(ctx, "gone", m("25"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, a.Status)
	assert.Equal(t, "25.0000", model.FormatMoney(a.Balance))

	active, err := s.ListActiveAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}
