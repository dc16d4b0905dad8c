package market

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cma-engine/internal/model"
)

func newMockRepo(t *testing.T, cfg Config) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(mock, cfg), mock
}

var villa = model.PropertyDescriptor{
	Reference:    "REF-1",
	Address:      "Calle Ancha 12",
	City:         "Marbella",
	Province:     "Málaga",
	PropertyType: "Villa",
	Bedrooms:     4,
	BuildArea:    250,
}

var statsCols = []string{"avg_price_per_sqm", "median_price", "days_on_market", "inventory_count"}

func TestMarketData_PublishedStatsWithTrend(t *testing.T) {
	repo, mock := newMockRepo(t, Config{})

	mock.ExpectQuery(`FROM market_stats`).
		WithArgs("marbella", "malaga", "villa").
		WillReturnRows(pgxmock.NewRows(statsCols).
			AddRow(4200.0, 1150000.0, 95, 310).
			AddRow(4000.0, 1100000.0, 101, 290))

	md, err := repo.MarketData(context.Background(), villa)
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.InDelta(t, 4200, md.AvgPricePerSqm, 1e-9)
	assert.InDelta(t, 5.0, md.PriceTrendPercent, 1e-9)
	assert.Equal(t, model.TrendRising, md.Trend)
	assert.Equal(t, 95, md.DaysOnMarket)
	assert.Equal(t, 310, md.InventoryCount)
	assert.Equal(t, SourceStats, md.Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarketData_SinglePeriodIsStable(t *testing.T) {
	repo, mock := newMockRepo(t, Config{})

	mock.ExpectQuery(`FROM market_stats`).
		WillReturnRows(pgxmock.NewRows(statsCols).AddRow(3900.0, 900000.0, 80, 120))

	md, err := repo.MarketData(context.Background(), villa)
	require.NoError(t, err)
	assert.Equal(t, model.TrendStable, md.Trend)
	assert.Zero(t, md.PriceTrendPercent)
}

func TestMarketData_FallsBackToListings(t *testing.T) {
	repo, mock := newMockRepo(t, Config{})

	mock.ExpectQuery(`FROM market_stats`).WillReturnRows(pgxmock.NewRows(statsCols))
	mock.ExpectQuery(`FROM market_listings`).
		WithArgs("marbella", "malaga", "villa").
		WillReturnRows(pgxmock.NewRows([]string{"count", "avg", "median", "days"}).
			AddRow(12, 4310.4, 1200000.0, 61.6))

	md, err := repo.MarketData(context.Background(), villa)
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.InDelta(t, 4310, md.AvgPricePerSqm, 1e-9)
	assert.InDelta(t, 1200000, md.MedianPrice, 1e-9)
	assert.Equal(t, 62, md.DaysOnMarket)
	assert.Equal(t, 12, md.InventoryCount)
	assert.Equal(t, model.TrendStable, md.Trend)
	assert.Equal(t, SourceListings, md.Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarketData_NoData(t *testing.T) {
	repo, mock := newMockRepo(t, Config{})

	mock.ExpectQuery(`FROM market_stats`).WillReturnRows(pgxmock.NewRows(statsCols))
	mock.ExpectQuery(`FROM market_listings`).
		WillReturnRows(pgxmock.NewRows([]string{"count", "avg", "median", "days"}).AddRow(0, 0.0, 0.0, 0.0))

	md, err := repo.MarketData(context.Background(), villa)
	require.NoError(t, err)
	assert.Nil(t, md)
}

func TestMarketData_QueryError(t *testing.T) {
	repo, mock := newMockRepo(t, Config{})
	mock.ExpectQuery(`FROM market_stats`).WillReturnError(errors.New("connection refused"))

	_, err := repo.MarketData(context.Background(), villa)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market: query stats")
}

var compCols = []string{"reference", "address", "property_type", "price", "build_area", "bedrooms", "bathrooms", "url", "total"}

func TestComparables(t *testing.T) {
	repo, mock := newMockRepo(t, Config{MaxComparables: 2, AreaTolerance: 0.2})

	mock.ExpectQuery(`FROM market_listings`).
		WithArgs("marbella", "malaga", "villa", pgxmock.AnyArg(), pgxmock.AnyArg(), 3, 5, "REF-1", 250.0, 4, 2).
		WillReturnRows(pgxmock.NewRows(compCols).
			AddRow("C1", "Calle Sol 3", "villa", 1000000.0, 240.0, 4, 3, "https://example.es/c1", 7).
			AddRow("C2", "Calle Luna 9", "villa", 1300000.0, 270.0, 5, 4, "", 7))

	comps, total, err := repo.Comparables(context.Background(), villa)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, comps, 2)
	assert.Equal(t, "C1", comps[0].Reference)
	assert.InDelta(t, 1000000.0/240.0, comps[0].PricePerSqm, 1e-9)
	assert.Equal(t, "https://example.es/c1", comps[0].URL)
	assert.Empty(t, comps[1].URL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComparables_NoneFound(t *testing.T) {
	repo, mock := newMockRepo(t, Config{})
	mock.ExpectQuery(`FROM market_listings`).WillReturnRows(pgxmock.NewRows(compCols))

	comps, total, err := repo.Comparables(context.Background(), villa)
	require.NoError(t, err)
	assert.Empty(t, comps)
	assert.Zero(t, total)
}

func TestComparables_QueryError(t *testing.T) {
	repo, mock := newMockRepo(t, Config{})
	mock.ExpectQuery(`FROM market_listings`).WillReturnError(errors.New("timeout"))

	_, _, err := repo.Comparables(context.Background(), villa)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market: query comparables")
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{AreaTolerance: 1.5}.withDefaults()
	assert.Equal(t, 10, cfg.MaxComparables)
	assert.InDelta(t, 0.3, cfg.AreaTolerance, 1e-9)
}

func TestTrend(t *testing.T) {
	assert.Equal(t, model.TrendRising, trend(2.1))
	assert.Equal(t, model.TrendStable, trend(2))
	assert.Equal(t, model.TrendStable, trend(-2))
	assert.Equal(t, model.TrendFalling, trend(-2.1))
}
