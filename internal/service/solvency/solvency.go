// Package solvency classifies agents from their post-settlement balance.
package solvency

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ashita-ai/ichiba/internal/model"
)

// Classify maps a balance onto a status. Floors are exclusive: a balance
// exactly at a floor is not below it.
func Classify(balance decimal.Decimal) model.AgentStatus {
	switch {
	case balance.LessThan(model.BankruptcyFloor):
		return model.StatusBankrupt
	case balance.LessThan(model.BailoutFloor):
		return model.StatusBailoutRequest
	case balance.LessThan(model.WarningFloor):
		return model.StatusWarning
	default:
		return model.StatusActive
	}
}

// Reclassify returns one StatusChange for every active agent in agents.
// Bankrupt agents are skipped: bankruptcy is terminal.
func Reclassify(agents []model.Agent) []model.StatusChange {
	out := make([]model.StatusChange, 0, len(agents))
	for _, a := range agents {
		if !a.Active() {
			continue
		}
		out = append(out, model.StatusChange{
			AgentID: a.ID,
			Name:    a.Name,
			Status:  Classify(a.Balance),
			Balance: a.Balance,
		})
	}
	return out
}

// Retiring returns the ids that Reclassify moved to bankrupt.
func Retiring(changes []model.StatusChange) []string {
	var ids []string
	for _, c := range changes {
		if c.Status == model.StatusBankrupt {
			ids = append(ids, c.AgentID)
		}
	}
	return ids
}

// SurgeThreshold is the balance above which an agent is reported as surging.
func SurgeThreshold() decimal.Decimal {
	return model.SeedBalance.Mul(decimal.NewFromInt(1).Add(model.SurgeRatio))
}

var advisoryRank = map[model.AdvisoryKind]int{
	model.AdvisoryBankruptcy:     0,
	model.AdvisoryBailoutRequest: 1,
	model.AdvisoryWarning:        2,
	model.AdvisorySurge:          3,
}

// Advisories turns classifications into reportable events, most severe
// first. Nothing here is persisted.
func Advisories(changes []model.StatusChange) []model.Advisory {
	surge := SurgeThreshold()
	var out []model.Advisory
	for _, c := range changes {
		var kind model.AdvisoryKind
		switch c.Status {
		case model.StatusBankrupt:
			kind = model.AdvisoryBankruptcy
		case model.StatusBailoutRequest:
			kind = model.AdvisoryBailoutRequest
		case model.StatusWarning:
			kind = model.AdvisoryWarning
		default:
			if !c.Balance.GreaterThan(surge) {
				continue
			}
			kind = model.AdvisorySurge
		}
		out = append(out, model.Advisory{Kind: kind, AgentID: c.AgentID, Name: c.Name, Balance: c.Balance})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return advisoryRank[out[i].Kind] < advisoryRank[out[j].Kind]
	})
	return out
}
