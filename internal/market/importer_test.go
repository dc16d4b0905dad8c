package market

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingsCSV = `reference,address,city,province,property_type,price,build_area,bedrooms,bathrooms,url,status,listed_at
M-1,Calle Sol 3,Marbella,Málaga,Villa,1000000,240,4,3,https://example.es/m1,active,2026-09-01T00:00:00Z
M-2,Calle Luna 9,Marbella,Málaga,Villa,0,270,5,4,,active,2026-09-02T00:00:00Z
M-3,Av. del Mar 1,Marbella,Málaga,Apartment,450000,95,2,2,,,2026-09-03T00:00:00Z
`

func TestReadListings(t *testing.T) {
	listings, err := ReadListings(strings.NewReader(listingsCSV))
	require.NoError(t, err)
	require.Len(t, listings, 3)
	assert.Equal(t, "M-1", listings[0].Reference)
	assert.Equal(t, "Málaga", listings[0].Province)
	assert.InDelta(t, 1000000, listings[0].Price, 1e-9)
	assert.Equal(t, 4, listings[0].Bedrooms)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), listings[0].ListedAt.UTC())
	assert.Empty(t, listings[2].Status)
}

func TestReadListings_Malformed(t *testing.T) {
	_, err := ReadListings(strings.NewReader("reference,price\nM-1,not-a-number\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode listings csv")
}

func TestImportListings(t *testing.T) {
	repo, mock := newMockRepo(t, Config{})
	listings, err := ReadListings(strings.NewReader(listingsCSV))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_market_listings"}, listingsUpsert.Columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "market_listings"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := repo.ImportListings(context.Background(), listings)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportListings_Error(t *testing.T) {
	repo, mock := newMockRepo(t, Config{})

	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	_, err := repo.ImportListings(context.Background(), []Listing{{Reference: "M-1", Price: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market: import listings")
}

func TestImportListings_AllSkipped(t *testing.T) {
	repo, mock := newMockRepo(t, Config{})

	n, err := repo.ImportListings(context.Background(), []Listing{{Reference: "", Price: 10}, {Reference: "X", Price: 0}})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportStats(t *testing.T) {
	repo, mock := newMockRepo(t, Config{})
	stats, err := ReadStats(strings.NewReader(
		"city,province,property_type,period,avg_price_per_sqm,median_price,days_on_market,inventory_count\n" +
			"Marbella,Málaga,Villa,2026-09-01T00:00:00Z,4200,1150000,95,310\n"))
	require.NoError(t, err)
	require.Len(t, stats, 1)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_market_stats"}, statsUpsert.Columns).WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("city_key", "province_key", "property_type", "period"\)`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := repo.ImportStats(context.Background(), stats)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	repo, mock := newMockRepo(t, Config{})
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS market_listings`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, repo.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
