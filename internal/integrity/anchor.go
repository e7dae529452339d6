// Package integrity computes tamper-evident digests of committed epochs.
// All functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ashita-ai/ichiba/internal/model"
)

// AnchorInput is the committed state an epoch anchor is computed over.
type AnchorInput struct {
	Epoch     int
	EventType model.EventType
	Timestamp time.Time
	// Transactions in commit order (ascending seq).
	Transactions []model.Transaction
	// Roster is the post-epoch snapshot of every agent that took part.
	Roster []model.AgentSnapshot
}

// canonicalEpoch fixes the field order of the serialized form.
type canonicalEpoch struct {
	Epoch        int                    `json:"epoch"`
	Timestamp    string                 `json:"timestamp"`
	EventType    string                 `json:"event_type"`
	Transactions []canonicalTransaction `json:"transactions"`
	Agents       []canonicalAgent       `json:"agents"`
}

type canonicalTransaction struct {
	Buyer  string `json:"buyer"`
	Seller string `json:"seller"`
	Amount string `json:"amount"`
	Skill  string `json:"skill"`
}

type canonicalAgent struct {
	ID      string `json:"id"`
	Balance string `json:"balance"`
	Status  string `json:"status"`
}

// CanonicalTimestamp normalizes t to the precision every store keeps.
func CanonicalTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)
}

// CanonicalBytes serializes in deterministically. Amounts and balances are
// fixed-point strings; agents are sorted by id.
func CanonicalBytes(in AnchorInput) ([]byte, error) {
	c := canonicalEpoch{
		Epoch:        in.Epoch,
		Timestamp:    CanonicalTimestamp(in.Timestamp),
		EventType:    string(in.EventType),
		Transactions: make([]canonicalTransaction, 0, len(in.Transactions)),
		Agents:       make([]canonicalAgent, 0, len(in.Roster)),
	}

	txs := make([]model.Transaction, len(in.Transactions))
	copy(txs, in.Transactions)
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Seq < txs[j].Seq })
	for _, tx := range txs {
		c.Transactions = append(c.Transactions, canonicalTransaction{
			Buyer:  tx.BuyerID,
			Seller: tx.SellerID,
			Amount: model.FormatMoney(tx.Amount),
			Skill:  tx.SkillType,
		})
	}

	for _, a := range in.Roster {
		c.Agents = append(c.Agents, canonicalAgent{
			ID:      a.AgentID,
			Balance: model.FormatMoney(a.Balance),
			Status:  string(a.Status),
		})
	}
	sort.Slice(c.Agents, func(i, j int) bool { return c.Agents[i].ID < c.Agents[j].ID })

	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("integrity: marshal epoch %d: %w", in.Epoch, err)
	}
	return b, nil
}

// ComputeAnchor returns the hex SHA-256 digest of the canonical form of in.
func ComputeAnchor(in AnchorInput) (string, error) {
	b, err := CanonicalBytes(in)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyAnchor recomputes the anchor for in and compares it with stored.
// It returns the recomputed digest alongside the verdict.
func VerifyAnchor(stored string, in AnchorInput) (bool, string, error) {
	got, err := ComputeAnchor(in)
	if err != nil {
		return false, "", err
	}
	return stored != "" && stored == got, got, nil
}
