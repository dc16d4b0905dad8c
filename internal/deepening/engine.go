// Package deepening tracks repeat analyses of the same property and decides
// how much extra research each repeat should do.
package deepening

import (
	"context"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cma-engine/internal/model"
)

// Thresholds below which a data area counts as a gap.
const (
	MinAmenities          = 10
	MinComparables        = 5
	MinNarrativeRunes     = 100
	defaultMaxQueries     = 3
	firstLevelQueryBudget = 2
)

// Config tunes the engine.
type Config struct {
	// MaxQueries bounds bonus-research queries per analysis regardless of
	// level, protecting provider rate limits.
	MaxQueries int `yaml:"max_queries" mapstructure:"max_queries"`
}

// Engine is the progressive deepening strategy engine.
type Engine struct {
	history HistoryStore
	cfg     Config
}

// NewEngine creates an Engine backed by the given history store.
func NewEngine(history HistoryStore, cfg Config) *Engine {
	if cfg.MaxQueries <= 0 {
		cfg.MaxQueries = defaultMaxQueries
	}
	return &Engine{history: history, cfg: cfg}
}

// GetDeepeningStrategy returns nil on the first analysis of a property and
// a strategy derived from its most recent record afterwards.
func (e *Engine) GetDeepeningStrategy(ctx context.Context, p model.PropertyDescriptor) (*model.Strategy, error) {
	fp := Fingerprint(p)
	latest, err := e.history.LatestDeepening(ctx, fp)
	if err != nil {
		return nil, eris.Wrapf(err, "deepening: latest record for %s", shortFP(fp))
	}
	if latest == nil {
		return nil, nil
	}

	focus := prioritize(latest.DataGaps)
	next := latest.Level + 1
	budget := QueryBudget(next, e.cfg.MaxQueries)

	queries := make([]string, 0, budget)
	for _, gap := range focus {
		if len(queries) == budget {
			break
		}
		queries = append(queries, gapQuery(gap, p))
	}

	return &model.Strategy{
		CurrentLevel:      latest.Level,
		NextLevel:         next,
		FocusAreas:        focus,
		AdditionalQueries: queries,
	}, nil
}

// RecordAnalysis appends a record for the property. The store assigns the
// level, so levels never go backwards even under concurrent writers.
func (e *Engine) RecordAnalysis(ctx context.Context, p model.PropertyDescriptor, sessionID string, qualityScore int, levelLabel string, gaps []string) (*model.DeepeningRecord, error) {
	fp := Fingerprint(p)
	rec, err := e.history.AppendDeepening(ctx, model.DeepeningRecord{
		Fingerprint:  fp,
		SessionID:    sessionID,
		LevelLabel:   levelLabel,
		QualityScore: qualityScore,
		DataGaps:     gaps,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "deepening: append record for %s", shortFP(fp))
	}

	zap.L().Info("deepening: analysis recorded",
		zap.String("fingerprint", shortFP(fp)),
		zap.String("session_id", sessionID),
		zap.Int("level", rec.Level),
		zap.Int("quality_score", qualityScore),
		zap.Strings("data_gaps", gaps),
	)
	return rec, nil
}

// History lists all records for a property, oldest first.
func (e *Engine) History(ctx context.Context, p model.PropertyDescriptor) ([]model.DeepeningRecord, error) {
	recs, err := e.history.ListDeepening(ctx, Fingerprint(p))
	if err != nil {
		return nil, eris.Wrap(err, "deepening: list history")
	}
	return recs, nil
}

// IdentifyDataGaps flags thin data areas in a finished analysis. Tags are
// emitted in a fixed order.
func IdentifyDataGaps(report *model.CMAReport, amenities []model.Amenity, comparables []model.Comparable, developments []model.Development) []string {
	gaps := []string{}
	if report == nil || report.MarketTrends == nil {
		gaps = append(gaps, model.GapMarketData)
	}
	if len(amenities) < MinAmenities {
		gaps = append(gaps, model.GapAmenities)
	}
	if len(comparables) < MinComparables {
		gaps = append(gaps, model.GapComparables)
	}
	if len(developments) == 0 {
		gaps = append(gaps, model.GapDevelopments)
	}
	if report == nil || report.Mobility == nil || report.Mobility.WalkingScore == 0 {
		gaps = append(gaps, model.GapMobilityData)
	}
	if report == nil || len([]rune(report.NeighborhoodNarrative)) < MinNarrativeRunes {
		gaps = append(gaps, model.GapNeighborhoodInsights)
	}
	return gaps
}

// LevelLabel names an analysis level.
func LevelLabel(level int) string {
	switch {
	case level <= 1:
		return "basic"
	case level == 2:
		return "enhanced"
	case level == 3:
		return "deep"
	default:
		return "comprehensive"
	}
}

// QueryBudget is the number of bonus-research queries for an analysis at
// the given level: 2 for a first analysis, 3 for repeats, never above max.
func QueryBudget(level, limit int) int {
	if limit <= 0 {
		limit = defaultMaxQueries
	}
	budget := firstLevelQueryBudget
	if level > 1 {
		budget++
	}
	return min(budget, limit)
}

var gapPriority = map[string]int{
	model.GapComparables:          0,
	model.GapMarketData:           1,
	model.GapAmenities:            2,
	model.GapMobilityData:         3,
	model.GapDevelopments:         4,
	model.GapNeighborhoodInsights: 5,
}

// prioritize orders gaps by research value and drops unknown tags and
// duplicates.
func prioritize(gaps []string) []string {
	seen := make(map[string]bool, len(gaps))
	out := make([]string, 0, len(gaps))
	for _, g := range gaps {
		if _, ok := gapPriority[g]; !ok || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool { return gapPriority[out[i]] < gapPriority[out[j]] })
	return out
}

func gapQuery(gap string, p model.PropertyDescriptor) string {
	area := p.City
	if p.Province != "" {
		area += " " + p.Province
	}
	switch gap {
	case model.GapComparables:
		return fmt.Sprintf("%s %d bedrooms for sale %s recent asking and sold prices", p.PropertyType, p.Bedrooms, area)
	case model.GapMarketData:
		return fmt.Sprintf("%s property market price per square metre trend last 12 months", area)
	case model.GapAmenities:
		return fmt.Sprintf("schools shops healthcare services near %s", p.FullAddress())
	case model.GapMobilityData:
		return fmt.Sprintf("public transport walkability %s", area)
	case model.GapDevelopments:
		return fmt.Sprintf("new urban development infrastructure projects planned %s", area)
	default:
		return fmt.Sprintf("living in %s neighbourhood guide", area)
	}
}

func shortFP(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
