package deepening

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cma-engine/internal/model"
)

func villa() model.PropertyDescriptor {
	return model.PropertyDescriptor{
		Address: "Calle Mar 1", City: "Marbella", Province: "Málaga",
		PropertyType: "Villa", Bedrooms: 4, Bathrooms: 3, BuildArea: 250, PlotArea: 600,
	}
}

func TestGetDeepeningStrategy_NilOnFirstAnalysis(t *testing.T) {
	t.Parallel()

	e := NewEngine(NewMemoryHistory(), Config{})
	s, err := e.GetDeepeningStrategy(context.Background(), villa())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestGetDeepeningStrategy_AfterRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := NewEngine(NewMemoryHistory(), Config{})
	rec, err := e.RecordAnalysis(ctx, villa(), "sess-1", 86, LevelLabel(1),
		[]string{model.GapDevelopments, model.GapComparables, model.GapMarketData})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Level)

	s, err := e.GetDeepeningStrategy(ctx, villa())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.GreaterOrEqual(t, s.CurrentLevel, 1)
	assert.Equal(t, 2, s.NextLevel)
	assert.Equal(t, []string{model.GapComparables, model.GapMarketData, model.GapDevelopments}, s.FocusAreas)
	require.Len(t, s.AdditionalQueries, 3)
	assert.Contains(t, s.AdditionalQueries[0], "Villa 4 bedrooms")
	assert.Contains(t, s.AdditionalQueries[1], "price per square metre")
}

func TestGetDeepeningStrategy_QueriesBoundedByConfig(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := NewEngine(NewMemoryHistory(), Config{MaxQueries: 1})
	_, err := e.RecordAnalysis(ctx, villa(), "s1", 50, "basic", []string{
		model.GapMarketData, model.GapAmenities, model.GapComparables, model.GapDevelopments,
	})
	require.NoError(t, err)

	s, err := e.GetDeepeningStrategy(ctx, villa())
	require.NoError(t, err)
	assert.Len(t, s.AdditionalQueries, 1)
	assert.Len(t, s.FocusAreas, 4)
}

func TestGetDeepeningStrategy_NoGapsNoQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := NewEngine(NewMemoryHistory(), Config{})
	_, err := e.RecordAnalysis(ctx, villa(), "s1", 100, "basic", nil)
	require.NoError(t, err)

	s, err := e.GetDeepeningStrategy(ctx, villa())
	require.NoError(t, err)
	assert.Empty(t, s.FocusAreas)
	assert.Empty(t, s.AdditionalQueries)
}

func TestRecordAnalysis_LevelsMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := NewEngine(NewMemoryHistory(), Config{})
	prev := 0
	for i := 0; i < 5; i++ {
		rec, err := e.RecordAnalysis(ctx, villa(), "s", 70, "", nil)
		require.NoError(t, err)
		assert.Greater(t, rec.Level, prev)
		prev = rec.Level
	}

	history, err := e.History(ctx, villa())
	require.NoError(t, err)
	assert.Len(t, history, 5)
}

func TestRecordAnalysis_ConcurrentWritersKeepLevelsUnique(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := NewEngine(NewMemoryHistory(), Config{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.RecordAnalysis(ctx, villa(), "s", 70, "", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := e.History(ctx, villa())
	require.NoError(t, err)
	require.Len(t, history, 20)
	for i, rec := range history {
		assert.Equal(t, i+1, rec.Level)
	}
}

func TestRecordAnalysis_FingerprintsIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := NewEngine(NewMemoryHistory(), Config{})
	other := villa()
	other.Address = "Calle Sol 9"

	_, err := e.RecordAnalysis(ctx, villa(), "s1", 70, "", nil)
	require.NoError(t, err)

	s, err := e.GetDeepeningStrategy(ctx, other)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestIdentifyDataGaps(t *testing.T) {
	t.Parallel()

	rich := &model.CMAReport{
		MarketTrends:          &model.MarketData{AvgPricePerSqm: 4000},
		Mobility:              &model.MobilityData{WalkingScore: 70},
		NeighborhoodNarrative: strings.Repeat("n", 100),
	}
	tenAmenities := make([]model.Amenity, 10)
	fiveComps := make([]model.Comparable, 5)
	oneDev := make([]model.Development, 1)

	tests := []struct {
		name         string
		report       *model.CMAReport
		amenities    []model.Amenity
		comparables  []model.Comparable
		developments []model.Development
		want         []string
	}{
		{"nothing missing", rich, tenAmenities, fiveComps, oneDev, []string{}},
		{"nil report", nil, tenAmenities, fiveComps, oneDev,
			[]string{model.GapMarketData, model.GapMobilityData, model.GapNeighborhoodInsights}},
		{"all missing", &model.CMAReport{}, nil, nil, nil, []string{
			model.GapMarketData, model.GapAmenities, model.GapComparables,
			model.GapDevelopments, model.GapMobilityData, model.GapNeighborhoodInsights,
		}},
		{"four comparables", rich, tenAmenities, fiveComps[:4], oneDev, []string{model.GapComparables}},
		{"nine amenities", rich, tenAmenities[:9], fiveComps, oneDev, []string{model.GapAmenities}},
		{"zero walking score", &model.CMAReport{
			MarketTrends: rich.MarketTrends, Mobility: &model.MobilityData{TransitScore: 80},
			NeighborhoodNarrative: rich.NeighborhoodNarrative,
		}, tenAmenities, fiveComps, oneDev, []string{model.GapMobilityData}},
		{"short narrative", &model.CMAReport{
			MarketTrends: rich.MarketTrends, Mobility: rich.Mobility,
			NeighborhoodNarrative: strings.Repeat("ñ", 99),
		}, tenAmenities, fiveComps, oneDev, []string{model.GapNeighborhoodInsights}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IdentifyDataGaps(tt.report, tt.amenities, tt.comparables, tt.developments))
		})
	}
}

func TestIdentifyDataGaps_ComparablesAndDevelopmentsRules(t *testing.T) {
	t.Parallel()

	for n := 0; n <= 8; n++ {
		gaps := IdentifyDataGaps(nil, nil, make([]model.Comparable, n), make([]model.Development, n))
		assert.Equal(t, n < 5, contains(gaps, model.GapComparables), "comparables n=%d", n)
		assert.Equal(t, n == 0, contains(gaps, model.GapDevelopments), "developments n=%d", n)
	}
}

func TestLevelLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "basic", LevelLabel(0))
	assert.Equal(t, "basic", LevelLabel(1))
	assert.Equal(t, "enhanced", LevelLabel(2))
	assert.Equal(t, "deep", LevelLabel(3))
	assert.Equal(t, "comprehensive", LevelLabel(7))
}

func TestQueryBudget(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2, QueryBudget(1, 3))
	assert.Equal(t, 3, QueryBudget(2, 3))
	assert.Equal(t, 3, QueryBudget(9, 3))
	assert.Equal(t, 1, QueryBudget(9, 1))
	assert.Equal(t, 3, QueryBudget(9, 0))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
