// Package reports builds read models over committed ledger data.
package reports

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ashita-ai/ichiba/internal/model"
	"github.com/ashita-ai/ichiba/internal/service/solvency"
)

// Window sizes for AgentDetail.
const (
	recentTransactions = 20
	aggregateWindow    = 500
	topPartners        = 5
)

// Store is the read surface reports need.
type Store interface {
	GetAgent(ctx context.Context, id string) (model.Agent, error)
	ListAgentTransactions(ctx context.Context, agentID string, limit int) ([]model.Transaction, error)
	ListAgentHistory(ctx context.Context, agentID string) ([]model.BalancePoint, error)
}

// Classification is the agent's live solvency class. Bankruptcy is sticky.
func Classification(a model.Agent) model.AgentStatus {
	if !a.Active() {
		return model.StatusBankrupt
	}
	return solvency.Classify(a.Balance)
}

// AgentDetail assembles the full read model for one agent. Partner and skill
// aggregates cover the agent's most recent transactions.
func AgentDetail(ctx context.Context, store Store, id string) (model.AgentDetail, error) {
	a, err := store.GetAgent(ctx, id)
	if err != nil {
		return model.AgentDetail{}, err
	}
	txs, err := store.ListAgentTransactions(ctx, id, aggregateWindow)
	if err != nil {
		return model.AgentDetail{}, fmt.Errorf("reports: agent %s: %w", id, err)
	}
	history, err := store.ListAgentHistory(ctx, id)
	if err != nil {
		return model.AgentDetail{}, fmt.Errorf("reports: agent %s: %w", id, err)
	}
	recent := txs
	if len(recent) > recentTransactions {
		recent = recent[:recentTransactions]
	}
	if recent == nil {
		recent = []model.Transaction{}
	}
	if history == nil {
		history = []model.BalancePoint{}
	}
	return model.AgentDetail{
		Agent:          a,
		Classification: Classification(a),
		Transactions:   recent,
		TopPartners:    TopPartners(id, txs, topPartners),
		Skills:         SkillBreakdown(id, txs),
		History:        history,
	}, nil
}

// TopPartners ranks counterparties of agentID by trade count, then volume,
// then id.
func TopPartners(agentID string, txs []model.Transaction, limit int) []model.Partner {
	byID := map[string]*model.Partner{}
	for _, tx := range txs {
		if tx.Kind != model.KindTrade {
			continue
		}
		other := tx.SellerID
		if tx.SellerID == agentID {
			other = tx.BuyerID
		} else if tx.BuyerID != agentID {
			continue
		}
		p, ok := byID[other]
		if !ok {
			p = &model.Partner{AgentID: other, Volume: decimal.Zero}
			byID[other] = p
		}
		p.Trades++
		p.Volume = p.Volume.Add(tx.Amount)
	}
	out := make([]model.Partner, 0, len(byID))
	for _, p := range byID {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Trades != out[j].Trades {
			return out[i].Trades > out[j].Trades
		}
		if c := out[i].Volume.Cmp(out[j].Volume); c != 0 {
			return c > 0
		}
		return out[i].AgentID < out[j].AgentID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SkillBreakdown counts agentID's purchases and sales per skill, by volume.
func SkillBreakdown(agentID string, txs []model.Transaction) []model.SkillVolume {
	bySkill := map[string]*model.SkillVolume{}
	for _, tx := range txs {
		if tx.Kind != model.KindTrade || (tx.BuyerID != agentID && tx.SellerID != agentID) {
			continue
		}
		s, ok := bySkill[tx.SkillType]
		if !ok {
			s = &model.SkillVolume{Skill: tx.SkillType, Volume: decimal.Zero}
			bySkill[tx.SkillType] = s
		}
		if tx.BuyerID == agentID {
			s.Bought++
		} else {
			s.Sold++
		}
		s.Volume = s.Volume.Add(tx.Amount)
	}
	out := make([]model.SkillVolume, 0, len(bySkill))
	for _, s := range bySkill {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Volume.Cmp(out[j].Volume); c != 0 {
			return c > 0
		}
		return out[i].Skill < out[j].Skill
	})
	return out
}

// Leaderboard ranks agents by balance descending, then id. Ties share no
// rank; positions are 1-based. A non-positive limit returns every agent.
func Leaderboard(agents []model.Agent, limit int) []model.LeaderboardEntry {
	sorted := make([]model.Agent, len(agents))
	copy(sorted, agents)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := sorted[i].Balance.Cmp(sorted[j].Balance); c != 0 {
			return c > 0
		}
		return sorted[i].ID < sorted[j].ID
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]model.LeaderboardEntry, len(sorted))
	for i, a := range sorted {
		out[i] = model.LeaderboardEntry{Rank: i + 1, Agent: a, Classification: Classification(a)}
	}
	return out
}

// EpochStore is the read surface EpochDetail needs.
type EpochStore interface {
	GetEpoch(ctx context.Context, number int) (model.Epoch, error)
	ListEpochTransactions(ctx context.Context, number int) ([]model.Transaction, error)
}

// EpochDetail loads an epoch with its transactions in sequence order.
func EpochDetail(ctx context.Context, store EpochStore, number int) (model.EpochDetail, error) {
	rec, err := store.GetEpoch(ctx, number)
	if err != nil {
		return model.EpochDetail{}, err
	}
	txs, err := store.ListEpochTransactions(ctx, number)
	if err != nil {
		return model.EpochDetail{}, fmt.Errorf("reports: epoch %d: %w", number, err)
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	return model.EpochDetail{Epoch: rec, Transactions: txs}, nil
}
