package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cma-engine/internal/model"
	"github.com/sells-group/cma-engine/internal/resilience"
	"github.com/sells-group/cma-engine/internal/store"
)

// MetricsSnapshot holds a point-in-time view of analysis health.
type MetricsSnapshot struct {
	// Archived analyses within the lookback window.
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Degraded   int `json:"degraded"`
	Errored    int `json:"errored"`
	InProgress int `json:"in_progress"`

	DegradedRate    float64 `json:"degraded_rate"`
	ErrorRate       float64 `json:"error_rate"`
	AvgQualityScore float64 `json:"avg_quality_score"`

	// Sessions where both geocoding attempts failed.
	CriticalGeocodeFailures int `json:"critical_geocode_failures"`

	// Provider breakers currently open.
	OpenBreakers []string `json:"open_breakers,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// AnalysisLister abstracts the archive query needed by the collector.
type AnalysisLister interface {
	ListAnalyses(ctx context.Context, filter store.AnalysisFilter) ([]model.AnalysisSession, error)
}

// BreakerStates reports the state of every provider circuit breaker.
type BreakerStates interface {
	States() map[string]resilience.State
}

// Collector gathers health metrics from the analysis archive and the
// provider breakers.
type Collector struct {
	archive  AnalysisLister
	breakers BreakerStates
}

// NewCollector creates a new metrics collector. breakers may be nil.
func NewCollector(archive AnalysisLister, breakers BreakerStates) *Collector {
	return &Collector{archive: archive, breakers: breakers}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	analyses, err := c.archive.ListAnalyses(ctx, store.AnalysisFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list analyses")
	}

	snap.Total = len(analyses)
	var totalScore int
	for _, a := range analyses {
		switch a.Status {
		case model.SessionCompleted:
			snap.Completed++
		case model.SessionDegraded:
			snap.Degraded++
		case model.SessionError:
			snap.Errored++
		default:
			snap.InProgress++
		}
		if a.CriticalErrorCount > 0 {
			snap.CriticalGeocodeFailures++
		}
		if a.Status.Terminal() {
			totalScore += a.QualityScore
		}
	}

	if finished := snap.Finished(); finished > 0 {
		snap.DegradedRate = float64(snap.Degraded) / float64(finished)
		snap.ErrorRate = float64(snap.Errored) / float64(finished)
		snap.AvgQualityScore = float64(totalScore) / float64(finished)
	}

	if c.breakers != nil {
		for provider, state := range c.breakers.States() {
			if state == resilience.Open {
				snap.OpenBreakers = append(snap.OpenBreakers, provider)
			}
		}
		sort.Strings(snap.OpenBreakers)
	}

	return snap, nil
}

// Finished returns the number of analyses in a terminal status.
func (s *MetricsSnapshot) Finished() int {
	return s.Completed + s.Degraded + s.Errored
}
