package ichiba

import (
	"github.com/ashita-ai/ichiba/internal/config"
	"github.com/ashita-ai/ichiba/internal/model"
	"github.com/ashita-ai/ichiba/internal/oracle"
)

// Public names for the engine's data model. They are aliases, so values
// pass between this package and the engine without conversion.
type (
	Agent              = model.Agent
	AgentStatus        = model.AgentStatus
	Decision           = model.Decision
	Action             = model.Action
	Transaction        = model.Transaction
	Epoch              = model.Epoch
	EpochSummary       = model.EpochSummary
	Advisory           = model.Advisory
	MarketEvent        = model.MarketEvent
	Skill              = model.Skill
	Stats              = model.Stats
	AnchorVerification = model.AnchorVerification
	LedgerRoot         = model.LedgerRoot

	DecisionRequest = oracle.Request
	Peer            = oracle.Peer

	// Config is the environment configuration; see LoadConfig.
	Config = config.Config
)

// Agent actions.
const (
	ActionBuy  = model.ActionBuy
	ActionSell = model.ActionSell
	ActionWait = model.ActionWait
)

// SeedBalance is the balance every seeded agent starts with.
var SeedBalance = model.SeedBalance

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	return config.Load()
}
