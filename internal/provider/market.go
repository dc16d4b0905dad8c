package provider

import (
	"context"

	"github.com/sells-group/cma-engine/internal/model"
	"github.com/sells-group/cma-engine/internal/pipeline"
	"github.com/sells-group/cma-engine/internal/resilience"
)

// MarketRepository is the market database surface used by Market.
// *market.Repository satisfies it.
type MarketRepository interface {
	MarketData(ctx context.Context, p model.PropertyDescriptor) (*model.MarketData, error)
	Comparables(ctx context.Context, p model.PropertyDescriptor) ([]model.Comparable, int, error)
}

// Market serves market statistics and comparables from the market database.
type Market struct {
	repo        MarketRepository
	stats       *resilience.Breaker
	comparables *resilience.Breaker
}

// NewMarket creates the market adapter.
func NewMarket(repo MarketRepository, breakers *resilience.Registry) *Market {
	return &Market{
		repo:        repo,
		stats:       breakers.Get(pipeline.ProviderMarket),
		comparables: breakers.Get(pipeline.ProviderComparables),
	}
}

func (m *Market) MarketData(ctx context.Context, p model.PropertyDescriptor) (*model.MarketData, error) {
	return resilience.Call(ctx, m.stats, func(ctx context.Context) (*model.MarketData, error) {
		return m.repo.MarketData(ctx, p)
	})
}

func (m *Market) ComparableListings(ctx context.Context, p model.PropertyDescriptor) (*pipeline.ComparableResult, error) {
	return resilience.Call(ctx, m.comparables, func(ctx context.Context) (*pipeline.ComparableResult, error) {
		comps, total, err := m.repo.Comparables(ctx, p)
		if err != nil {
			return nil, err
		}
		return &pipeline.ComparableResult{Comparables: comps, TotalFound: total}, nil
	})
}
