// Package market draws the market regime active for an epoch.
package market

import (
	"math/rand/v2"

	"github.com/ashita-ai/ichiba/internal/model"
)

// Selector draws one MarketEvent per epoch, uniformly and independently of
// earlier draws.
type Selector struct {
	rng     *rand.Rand
	catalog []model.MarketEvent
}

// NewSelector returns a Selector over the standard catalog.
func NewSelector(rng *rand.Rand) *Selector {
	return NewSelectorWithCatalog(rng, model.MarketEvents())
}

// NewSelectorWithCatalog returns a Selector over a custom, non-empty catalog.
func NewSelectorWithCatalog(rng *rand.Rand, catalog []model.MarketEvent) *Selector {
	if len(catalog) == 0 {
		panic("market: empty event catalog")
	}
	return &Selector{rng: rng, catalog: catalog}
}

// Select returns the event for the next epoch.
func (s *Selector) Select() model.MarketEvent {
	return s.catalog[s.rng.IntN(len(s.catalog))]
}
