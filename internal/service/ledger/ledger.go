// Package ledger applies matched transfers to agent accounts for one epoch.
//
// The Ledger is the only writer of balance, total_earned and total_spent.
// It works on a private copy of the roster; the epoch engine persists the
// result atomically once every phase has completed.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ashita-ai/ichiba/internal/model"
)

// Errors returned by Apply. Both indicate a caller bug; no account is
// modified by a rejected transfer.
var (
	ErrUnknownAccount = errors.New("ledger: unknown account")
	ErrSelfTransfer   = errors.New("ledger: buyer and seller are the same agent")
)

// Ledger holds the working state of every account for one epoch.
type Ledger struct {
	epoch    int
	now      time.Time
	accounts map[string]*model.Agent
	order    []string
	seq      int
}

// New copies agents into a ledger for epoch. Timestamps are taken from now.
func New(epoch int, agents []model.Agent, now time.Time) *Ledger {
	l := &Ledger{
		epoch:    epoch,
		now:      now,
		accounts: make(map[string]*model.Agent, len(agents)),
		order:    make([]string, 0, len(agents)),
	}
	for _, a := range agents {
		cp := a
		l.accounts[a.ID] = &cp
		l.order = append(l.order, a.ID)
	}
	return l
}

// Apply settles transfers in order and returns the committed transactions.
// The buyer's debit is clamped to its balance; a transfer that clamps to zero
// is dropped. The fee is removed from circulation.
func (l *Ledger) Apply(transfers []model.ProposedTransfer) ([]model.Transaction, error) {
	out := make([]model.Transaction, 0, len(transfers))
	for i, tr := range transfers {
		buyer, ok := l.accounts[tr.BuyerID]
		if !ok {
			return nil, fmt.Errorf("%w: buyer %q (transfer %d)", ErrUnknownAccount, tr.BuyerID, i)
		}
		seller, ok := l.accounts[tr.SellerID]
		if !ok {
			return nil, fmt.Errorf("%w: seller %q (transfer %d)", ErrUnknownAccount, tr.SellerID, i)
		}
		if buyer.ID == seller.ID {
			return nil, fmt.Errorf("%w: %q (transfer %d)", ErrSelfTransfer, buyer.ID, i)
		}

		amount := model.Round(decimal.Min(tr.Amount, buyer.Balance))
		if !amount.IsPositive() {
			continue
		}
		fee := tr.Fee
		if !amount.Equal(tr.Amount) {
			fee = model.Fee(amount)
		}
		earning := model.Round(amount.Sub(fee))

		buyer.Balance = model.Round(buyer.Balance.Sub(amount))
		buyer.TotalSpent = model.Round(buyer.TotalSpent.Add(amount))
		buyer.UpdatedAt = l.now
		seller.Balance = model.Round(seller.Balance.Add(earning))
		seller.TotalEarned = model.Round(seller.TotalEarned.Add(earning))
		seller.UpdatedAt = l.now

		out = append(out, l.record(model.Transaction{
			Kind:      model.KindTrade,
			Phase:     tr.Phase,
			BuyerID:   buyer.ID,
			SellerID:  seller.ID,
			SkillType: tr.Skill,
			Amount:    amount,
			Fee:       fee,
			Narrative: tr.Narrative,
		}))
	}
	return out, nil
}

// Retire marks id bankrupt and returns its zero-value tombstone transaction.
// Balances are not touched.
func (l *Ledger) Retire(id string) (model.Transaction, error) {
	a, ok := l.accounts[id]
	if !ok {
		return model.Transaction{}, fmt.Errorf("%w: %q", ErrUnknownAccount, id)
	}
	a.Status = model.StatusBankrupt
	a.UpdatedAt = l.now
	return l.record(model.Transaction{
		Kind:      model.KindBankruptcy,
		Phase:     model.PhaseTombstone,
		BuyerID:   a.ID,
		SkillType: model.SkillBankruptcy,
		Amount:    decimal.Zero,
		Fee:       decimal.Zero,
		Narrative: fmt.Sprintf("%s went bankrupt with $%s and leaves the market", a.Name, a.Balance.StringFixed(2)),
	}), nil
}

func (l *Ledger) record(tx model.Transaction) model.Transaction {
	l.seq++
	tx.ID = uuid.New()
	tx.Epoch = l.epoch
	tx.Seq = l.seq
	tx.CreatedAt = l.now
	return tx
}

// Get returns a copy of one account.
func (l *Ledger) Get(id string) (model.Agent, bool) {
	a, ok := l.accounts[id]
	if !ok {
		return model.Agent{}, false
	}
	return *a, true
}

// Agents returns copies of every account in the order they were loaded.
func (l *Ledger) Agents() []model.Agent {
	out := make([]model.Agent, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.accounts[id])
	}
	return out
}

// Circulation is the sum of all balances.
func (l *Ledger) Circulation() decimal.Decimal {
	total := decimal.Zero
	for _, a := range l.accounts {
		total = total.Add(a.Balance)
	}
	return total
}
