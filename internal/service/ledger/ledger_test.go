package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/ichiba/internal/model"
)

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func account(id, balance string) model.Agent {
	return model.Agent{
		ID: id, Name: id, Status: model.StatusActive,
		Balance:     decimal.RequireFromString(balance),
		TotalEarned: decimal.Zero,
		TotalSpent:  decimal.Zero,
	}
}

func transfer(buyer, seller, amount string) model.ProposedTransfer {
	a := decimal.RequireFromString(amount)
	return model.ProposedTransfer{
		BuyerID: buyer, SellerID: seller, Skill: "x",
		Amount: a, Fee: model.Fee(a), Phase: model.PhaseDirect, Narrative: "n",
	}
}

func TestApply_Scenario(t *testing.T) {
	l := New(1, []model.Agent{account("A", "100"), account("B", "100")}, now)
	txs, err := l.Apply([]model.ProposedTransfer{transfer("A", "B", "15")})
	require.NoError(t, err)
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, 1, tx.Epoch)
	assert.Equal(t, 1, tx.Seq)
	assert.Equal(t, model.KindTrade, tx.Kind)
	assert.Equal(t, "15.0000", model.FormatMoney(tx.Amount))
	assert.Equal(t, "0.7500", model.FormatMoney(tx.Fee))
	assert.Equal(t, now, tx.CreatedAt)

	a, _ := l.Get("A")
	b, _ := l.Get("B")
	assert.Equal(t, "85.0000", model.FormatMoney(a.Balance))
	assert.Equal(t, "15.0000", model.FormatMoney(a.TotalSpent))
	assert.Equal(t, "114.2500", model.FormatMoney(b.Balance))
	assert.Equal(t, "14.2500", model.FormatMoney(b.TotalEarned))
}

func TestApply_FeeLeavesCirculation(t *testing.T) {
	l := New(1, []model.Agent{account("A", "100"), account("B", "100"), account("C", "50")}, now)
	before := l.Circulation()
	txs, err := l.Apply([]model.ProposedTransfer{
		transfer("A", "B", "15"),
		transfer("C", "A", "7.3333"),
	})
	require.NoError(t, err)

	fees := decimal.Zero
	for _, tx := range txs {
		fees = fees.Add(tx.Fee)
	}
	assert.True(t, before.Sub(fees).Equal(l.Circulation()), "circulation %s, expected %s", l.Circulation(), before.Sub(fees))
}

func TestApply_ClampsToBalance(t *testing.T) {
	l := New(2, []model.Agent{account("A", "4"), account("B", "0")}, now)
	txs, err := l.Apply([]model.ProposedTransfer{transfer("A", "B", "10")})
	require.NoError(t, err)
	require.Len(t, txs, 1)

	assert.Equal(t, "4.0000", model.FormatMoney(txs[0].Amount))
	assert.Equal(t, "0.2000", model.FormatMoney(txs[0].Fee))
	a, _ := l.Get("A")
	assert.True(t, a.Balance.IsZero())
}

func TestApply_DropsTransferFromEmptyAccount(t *testing.T) {
	l := New(2, []model.Agent{account("A", "0"), account("B", "10")}, now)
	txs, err := l.Apply([]model.ProposedTransfer{transfer("A", "B", "3")})
	require.NoError(t, err)
	assert.Empty(t, txs)
	b, _ := l.Get("B")
	assert.Equal(t, "10.0000", model.FormatMoney(b.Balance))
}

func TestApply_BalanceNeverNegative(t *testing.T) {
	l := New(1, []model.Agent{account("A", "10"), account("B", "10")}, now)
	_, err := l.Apply([]model.ProposedTransfer{
		transfer("A", "B", "6"),
		transfer("A", "B", "6"),
		transfer("A", "B", "6"),
	})
	require.NoError(t, err)
	for _, a := range l.Agents() {
		assert.False(t, a.Balance.IsNegative(), "%s went negative: %s", a.ID, a.Balance)
	}
}

func TestApply_RejectsBadTransfers(t *testing.T) {
	l := New(1, []model.Agent{account("A", "10")}, now)
	_, err := l.Apply([]model.ProposedTransfer{transfer("A", "ghost", "1")})
	assert.ErrorIs(t, err, ErrUnknownAccount)
	_, err = l.Apply([]model.ProposedTransfer{transfer("A", "A", "1")})
	assert.ErrorIs(t, err, ErrSelfTransfer)

	a, _ := l.Get("A")
	assert.Equal(t, "10.0000", model.FormatMoney(a.Balance))
}

func TestApply_Rounding(t *testing.T) {
	l := New(1, []model.Agent{account("A", "100"), account("B", "0")}, now)
	_, err := l.Apply([]model.ProposedTransfer{transfer("A", "B", "3.33335")})
	require.NoError(t, err)
	b, _ := l.Get("B")
	assert.Equal(t, int32(-4), b.Balance.Exponent())
}

func TestRetire(t *testing.T) {
	l := New(3, []model.Agent{account("A", "10"), account("Z", "0.5")}, now)
	_, err := l.Apply([]model.ProposedTransfer{transfer("A", "Z", "0.1")})
	require.NoError(t, err)

	tomb, err := l.Retire("Z")
	require.NoError(t, err)
	assert.Equal(t, model.KindBankruptcy, tomb.Kind)
	assert.Equal(t, model.PhaseTombstone, tomb.Phase)
	assert.Equal(t, "Z", tomb.BuyerID)
	assert.Empty(t, tomb.SellerID)
	assert.True(t, tomb.Amount.IsZero())
	assert.Equal(t, 2, tomb.Seq)
	assert.Equal(t, 3, tomb.Epoch)

	z, _ := l.Get("Z")
	assert.Equal(t, model.StatusBankrupt, z.Status)

	_, err = l.Retire("ghost")
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestAgents_PreservesOrderAndCopies(t *testing.T) {
	in := []model.Agent{account("b", "1"), account("a", "2")}
	l := New(1, in, now)
	out := l.Agents()
	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, "a", out[1].ID)

	out[0].Balance = decimal.NewFromInt(999)
	again, _ := l.Get("b")
	assert.Equal(t, "1.0000", model.FormatMoney(again.Balance))
}
