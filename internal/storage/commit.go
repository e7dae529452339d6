package storage

import (
	"fmt"

	"github.com/ashita-ai/ichiba/internal/model"
)

// ValidateCommit checks the invariants an epoch commit must satisfy before
// any backend writes it.
func ValidateCommit(c model.EpochCommit) error {
	n := c.Epoch.Number
	if n <= 0 {
		return fmt.Errorf("storage: commit epoch: invalid number %d", n)
	}
	if c.Epoch.CreatedAt.IsZero() {
		return fmt.Errorf("storage: commit epoch %d: missing timestamp", n)
	}
	seen := make(map[int]bool, len(c.Transactions))
	for _, t := range c.Transactions {
		if t.Epoch != n {
			return fmt.Errorf("storage: commit epoch %d: transaction %s belongs to epoch %d", n, t.ID, t.Epoch)
		}
		if seen[t.Seq] {
			return fmt.Errorf("storage: commit epoch %d: duplicate seq %d", n, t.Seq)
		}
		seen[t.Seq] = true
		if err := checkKindPhase(t); err != nil {
			return fmt.Errorf("storage: commit epoch %d: transaction %d: %w", n, t.Seq, err)
		}
		if t.Amount.IsNegative() || t.Fee.IsNegative() {
			return fmt.Errorf("storage: commit epoch %d: negative amount in transaction %d", n, t.Seq)
		}
		if t.Kind == model.KindTrade && (t.SellerID == "" || t.SellerID == t.BuyerID) {
			return fmt.Errorf("storage: commit epoch %d: transaction %d has no distinct seller", n, t.Seq)
		}
	}
	for _, a := range c.Agents {
		if a.Balance.IsNegative() {
			return fmt.Errorf("storage: commit epoch %d: agent %s balance is negative", n, a.ID)
		}
		if !a.Status.Persisted() {
			return fmt.Errorf("storage: commit epoch %d: agent %s status %q cannot be stored", n, a.ID, a.Status)
		}
	}
	return nil
}

// checkKindPhase accepts trades from either matching phase and tombstones
// only with the tombstone phase.
func checkKindPhase(t model.Transaction) error {
	switch t.Kind {
	case model.KindTrade:
		if t.Phase != model.PhaseDirect && t.Phase != model.PhaseSupplementary {
			return fmt.Errorf("trade has phase %q", t.Phase)
		}
	case model.KindBankruptcy:
		if t.Phase != model.PhaseTombstone {
			return fmt.Errorf("bankruptcy has phase %q", t.Phase)
		}
	default:
		return fmt.Errorf("unknown kind %q", t.Kind)
	}
	return nil
}

// CheckSequence reports whether number may be committed after last.
func CheckSequence(number, last int) error {
	if number <= last {
		return fmt.Errorf("storage: epoch %d: %w", number, ErrEpochExists)
	}
	if number != last+1 {
		return fmt.Errorf("storage: epoch %d after %d: %w", number, last, ErrEpochGap)
	}
	return nil
}
