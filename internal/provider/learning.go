package provider

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/cma-engine/internal/deepening"
	"github.com/sells-group/cma-engine/internal/model"
	"github.com/sells-group/cma-engine/internal/store"
)

// Learning records regional knowledge from finished analyses in the store.
type Learning struct {
	store store.Store
	now   func() time.Time
}

// NewLearning creates the learning recorder.
func NewLearning(st store.Store) *Learning {
	return &Learning{store: st, now: time.Now}
}

func (l *Learning) RecordLearning(ctx context.Context, p model.PropertyDescriptor, report *model.CMAReport, comparables []model.Comparable, sessionID string, qualityScore int) error {
	entry := model.LearningEntry{
		ID:              uuid.NewString(),
		Region:          deepening.Region(p),
		Fingerprint:     deepening.Fingerprint(p),
		SessionID:       sessionID,
		PropertyType:    deepening.CanonicalText(p.PropertyType),
		QualityScore:    qualityScore,
		ComparableCount: len(comparables),
		MedianPrice:     medianPrice(comparables),
		RecordedAt:      l.now().UTC(),
	}
	if report != nil {
		if m := report.MarketTrends; m != nil {
			entry.AvgPricePerSqm = m.AvgPricePerSqm
			entry.Trend = m.Trend
			if m.MedianPrice > 0 {
				entry.MedianPrice = m.MedianPrice
			}
		}
		entry.EstimatedValue = report.Valuation.Estimated
		entry.ValuationBasis = report.Valuation.Basis
	}
	return l.store.RecordLearning(ctx, entry)
}

func medianPrice(comps []model.Comparable) float64 {
	prices := make([]float64, 0, len(comps))
	for _, c := range comps {
		if c.Price > 0 {
			prices = append(prices, c.Price)
		}
	}
	if len(prices) == 0 {
		return 0
	}
	sort.Float64s(prices)
	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		return prices[mid]
	}
	return (prices[mid-1] + prices[mid]) / 2
}
