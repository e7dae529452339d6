package epoch

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashita-ai/ichiba/internal/model"
)

// AgentCreator is the store surface Seed needs.
type AgentCreator interface {
	ListAgents(ctx context.Context) ([]model.Agent, error)
	CreateAgent(ctx context.Context, agent model.Agent) (model.Agent, error)
}

// Seed creates one agent per built-in personality with the seed balance.
// It does nothing when any agent already exists and returns how many agents
// it created.
func Seed(ctx context.Context, store AgentCreator) (int, error) {
	existing, err := store.ListAgents(ctx)
	if err != nil {
		return 0, fmt.Errorf("epoch: seed: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}
	created := 0
	for _, p := range model.SeedPersonalities() {
		profile := p.Profile()
		_, err := store.CreateAgent(ctx, model.Agent{
			ID:          string(p),
			Name:        titleCase(string(p)),
			Strategy:    profile.Style,
			Personality: p,
			Balance:     model.SeedBalance,
			Status:      model.StatusActive,
		})
		if err != nil {
			return created, fmt.Errorf("epoch: seed %s: %w", p, err)
		}
		created++
	}
	return created, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
