package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind distinguishes trades from bankruptcy tombstones.
type TransactionKind string

const (
	KindTrade      TransactionKind = "trade"
	KindBankruptcy TransactionKind = "bankruptcy"
)

// Phase records which matching phase produced a transaction.
type Phase string

const (
	PhaseDirect        Phase = "direct"
	PhaseSupplementary Phase = "supplementary"
	PhaseTombstone     Phase = "tombstone"
)

// SkillBankruptcy is the skill_type recorded on bankruptcy tombstones.
const SkillBankruptcy = "bankruptcy"

// ProposedTransfer is a matched trade not yet applied to the ledger.
type ProposedTransfer struct {
	BuyerID   string          `json:"buyer_id"`
	SellerID  string          `json:"seller_id"`
	Skill     string          `json:"skill"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	Phase     Phase           `json:"phase"`
	Narrative string          `json:"narrative"`
}

// Transaction is a committed, immutable ledger entry.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	Epoch     int             `json:"epoch"`
	Seq       int             `json:"seq"`
	Kind      TransactionKind `json:"kind"`
	Phase     Phase           `json:"phase"`
	BuyerID   string          `json:"buyer_id"`
	SellerID  string          `json:"seller_id,omitempty"`
	SkillType string          `json:"skill_type"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	Narrative string          `json:"narrative"`
	CreatedAt time.Time       `json:"created_at"`
}

// SellerEarning is what the seller is credited: amount minus fee.
func (t Transaction) SellerEarning() decimal.Decimal {
	return Round(t.Amount.Sub(t.Fee))
}
