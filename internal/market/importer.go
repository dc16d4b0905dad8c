package market

import (
	"context"
	"io"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cma-engine/internal/db"
)

// Listing is one row of a listings export.
type Listing struct {
	Reference    string    `csv:"reference"`
	Address      string    `csv:"address"`
	City         string    `csv:"city"`
	Province     string    `csv:"province"`
	PropertyType string    `csv:"property_type"`
	Price        float64   `csv:"price"`
	BuildArea    float64   `csv:"build_area"`
	Bedrooms     int       `csv:"bedrooms"`
	Bathrooms    int       `csv:"bathrooms"`
	URL          string    `csv:"url,omitempty"`
	Status       string    `csv:"status,omitempty"`
	ListedAt     time.Time `csv:"listed_at"`
}

// Stats is one period of published market statistics.
type Stats struct {
	City           string    `csv:"city"`
	Province       string    `csv:"province"`
	PropertyType   string    `csv:"property_type"`
	Period         time.Time `csv:"period"`
	AvgPricePerSqm float64   `csv:"avg_price_per_sqm"`
	MedianPrice    float64   `csv:"median_price"`
	DaysOnMarket   int       `csv:"days_on_market"`
	InventoryCount int       `csv:"inventory_count"`
}

var listingsUpsert = db.UpsertConfig{
	Table: "market_listings",
	Columns: []string{"reference", "address", "city", "province", "property_type",
		"city_key", "province_key", "price", "build_area", "bedrooms", "bathrooms",
		"url", "status", "listed_at"},
	ConflictKeys: []string{"reference"},
}

var statsUpsert = db.UpsertConfig{
	Table: "market_stats",
	Columns: []string{"city_key", "province_key", "property_type", "period",
		"avg_price_per_sqm", "median_price", "days_on_market", "inventory_count"},
	ConflictKeys: []string{"city_key", "province_key", "property_type", "period"},
}

// ReadListings decodes a listings CSV with a header row.
func ReadListings(r io.Reader) ([]Listing, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "market: read listings")
	}
	var out []Listing
	if err := csvutil.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "market: decode listings csv")
	}
	return out, nil
}

// ReadStats decodes a market statistics CSV with a header row.
func ReadStats(r io.Reader) ([]Stats, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "market: read stats")
	}
	var out []Stats
	if err := csvutil.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "market: decode stats csv")
	}
	return out, nil
}

// ImportListings upserts listings by reference. Rows without a reference
// or a positive price are skipped.
func (r *Repository) ImportListings(ctx context.Context, listings []Listing) (int64, error) {
	rows := make([][]any, 0, len(listings))
	skipped := 0
	for _, l := range listings {
		if l.Reference == "" || l.Price <= 0 {
			skipped++
			continue
		}
		status := l.Status
		if status == "" {
			status = "active"
		}
		var url any
		if l.URL != "" {
			url = l.URL
		}
		rows = append(rows, []any{
			l.Reference, l.Address, l.City, l.Province, key(l.PropertyType),
			key(l.City), key(l.Province), l.Price, l.BuildArea, l.Bedrooms, l.Bathrooms,
			url, status, l.ListedAt,
		})
	}

	n, err := db.BulkUpsert(ctx, r.pool, listingsUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "market: import listings")
	}
	zap.L().Info("market listings imported", zap.Int64("rows", n), zap.Int("skipped", skipped))
	return n, nil
}

// ImportStats upserts statistics by city, province, type and period.
func (r *Repository) ImportStats(ctx context.Context, stats []Stats) (int64, error) {
	rows := make([][]any, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, []any{
			key(s.City), key(s.Province), key(s.PropertyType), s.Period,
			s.AvgPricePerSqm, s.MedianPrice, s.DaysOnMarket, s.InventoryCount,
		})
	}
	n, err := db.BulkUpsert(ctx, r.pool, statsUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "market: import stats")
	}
	zap.L().Info("market stats imported", zap.Int64("rows", n))
	return n, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS market_listings (
	reference     TEXT PRIMARY KEY,
	address       TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	province      TEXT NOT NULL DEFAULT '',
	property_type TEXT NOT NULL,
	city_key      TEXT NOT NULL,
	province_key  TEXT NOT NULL,
	price         DOUBLE PRECISION NOT NULL,
	build_area    DOUBLE PRECISION NOT NULL DEFAULT 0,
	bedrooms      INTEGER NOT NULL DEFAULT 0,
	bathrooms     INTEGER NOT NULL DEFAULT 0,
	url           TEXT,
	status        TEXT NOT NULL DEFAULT 'active',
	listed_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_market_listings_lookup
	ON market_listings (city_key, province_key, property_type, status);

CREATE TABLE IF NOT EXISTS market_stats (
	city_key          TEXT NOT NULL,
	province_key      TEXT NOT NULL,
	property_type     TEXT NOT NULL,
	period            DATE NOT NULL,
	avg_price_per_sqm DOUBLE PRECISION NOT NULL,
	median_price      DOUBLE PRECISION NOT NULL DEFAULT 0,
	days_on_market    INTEGER NOT NULL DEFAULT 0,
	inventory_count   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (city_key, province_key, property_type, period)
);`

// Migrate creates the market tables when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schemaSQL)
	return eris.Wrap(err, "market: migrate")
}
