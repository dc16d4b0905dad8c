// Package market reads local market statistics and comparable listings
// from the market Postgres database and bulk-loads new data into it.
package market

import (
	"context"
	"errors"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cma-engine/internal/db"
	"github.com/sells-group/cma-engine/internal/deepening"
	"github.com/sells-group/cma-engine/internal/model"
)

// Sources reported on model.MarketData.
const (
	SourceStats    = "market_stats"
	SourceListings = "active_listings"
)

// trendBand is the period-over-period change in percent below which the
// market is considered stable.
const trendBand = 2.0

// Config tunes comparable searches.
type Config struct {
	MaxComparables int     `yaml:"max_comparables" mapstructure:"max_comparables"`
	AreaTolerance  float64 `yaml:"area_tolerance" mapstructure:"area_tolerance"`
}

func (c Config) withDefaults() Config {
	if c.MaxComparables <= 0 {
		c.MaxComparables = 10
	}
	if c.AreaTolerance <= 0 || c.AreaTolerance >= 1 {
		c.AreaTolerance = 0.3
	}
	return c
}

// Repository queries the market database.
type Repository struct {
	pool db.Pool
	cfg  Config
}

// New creates a Repository over the given pool.
func New(pool db.Pool, cfg Config) *Repository {
	return &Repository{pool: pool, cfg: cfg.withDefaults()}
}

const latestStatsSQL = `SELECT avg_price_per_sqm, median_price, days_on_market, inventory_count
	FROM market_stats
	WHERE city_key = $1 AND province_key = $2 AND property_type = $3
	ORDER BY period DESC
	LIMIT 2`

const liveStatsSQL = `SELECT count(*),
		COALESCE(avg(price / NULLIF(build_area, 0)), 0),
		COALESCE(percentile_cont(0.5) WITHIN GROUP (ORDER BY price), 0),
		COALESCE(avg(EXTRACT(DAY FROM now() - listed_at)), 0)
	FROM market_listings
	WHERE city_key = $1 AND province_key = $2 AND property_type = $3 AND status = 'active'`

// MarketData summarizes the market for the property's city, province and
// type. Published statistics win; otherwise the figures are computed from
// active listings. Returns nil when neither has data.
func (r *Repository) MarketData(ctx context.Context, p model.PropertyDescriptor) (*model.MarketData, error) {
	city, province, ptype := key(p.City), key(p.Province), key(p.PropertyType)

	rows, err := r.pool.Query(ctx, latestStatsSQL, city, province, ptype)
	if err != nil {
		return nil, eris.Wrap(err, "market: query stats")
	}
	periods, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.MarketData, error) {
		var md model.MarketData
		err := row.Scan(&md.AvgPricePerSqm, &md.MedianPrice, &md.DaysOnMarket, &md.InventoryCount)
		return md, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "market: scan stats")
	}

	if len(periods) > 0 {
		md := periods[0]
		md.Source = SourceStats
		md.Trend = model.TrendStable
		if len(periods) > 1 && periods[1].AvgPricePerSqm > 0 {
			md.PriceTrendPercent = round1((md.AvgPricePerSqm - periods[1].AvgPricePerSqm) / periods[1].AvgPricePerSqm * 100)
			md.Trend = trend(md.PriceTrendPercent)
		}
		return &md, nil
	}

	var (
		count int
		avg   float64
		med   float64
		days  float64
	)
	err = r.pool.QueryRow(ctx, liveStatsSQL, city, province, ptype).Scan(&count, &avg, &med, &days)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "market: query live stats")
	}
	if count == 0 {
		return nil, nil
	}
	return &model.MarketData{
		AvgPricePerSqm: math.Round(avg),
		MedianPrice:    math.Round(med),
		Trend:          model.TrendStable,
		DaysOnMarket:   int(math.Round(days)),
		InventoryCount: count,
		Source:         SourceListings,
	}, nil
}

const comparablesSQL = `SELECT reference, address, property_type, price, build_area, bedrooms, bathrooms, COALESCE(url, ''),
		count(*) OVER () AS total
	FROM market_listings
	WHERE city_key = $1 AND province_key = $2 AND property_type = $3 AND status = 'active'
		AND build_area BETWEEN $4 AND $5
		AND bedrooms BETWEEN $6 AND $7
		AND reference <> $8
	ORDER BY abs(build_area - $9), abs(bedrooms - $10), listed_at DESC
	LIMIT $11`

// Comparables returns up to MaxComparables active listings of the same
// type within the area tolerance and one bedroom of the subject, closest
// in size first, plus the total number that matched.
func (r *Repository) Comparables(ctx context.Context, p model.PropertyDescriptor) ([]model.Comparable, int, error) {
	tol := r.cfg.AreaTolerance
	minArea, maxArea := p.BuildArea*(1-tol), p.BuildArea*(1+tol)
	if p.BuildArea <= 0 {
		minArea, maxArea = 0, math.MaxFloat64
	}
	minBeds, maxBeds := max(0, p.Bedrooms-1), p.Bedrooms+1
	if p.Bedrooms <= 0 {
		minBeds, maxBeds = 0, math.MaxInt32
	}

	rows, err := r.pool.Query(ctx, comparablesSQL,
		key(p.City), key(p.Province), key(p.PropertyType),
		minArea, maxArea, minBeds, maxBeds, p.Reference,
		p.BuildArea, p.Bedrooms, r.cfg.MaxComparables,
	)
	if err != nil {
		return nil, 0, eris.Wrap(err, "market: query comparables")
	}

	total := 0
	comps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Comparable, error) {
		var c model.Comparable
		if err := row.Scan(&c.Reference, &c.Address, &c.PropertyType, &c.Price, &c.BuildArea,
			&c.Bedrooms, &c.Bathrooms, &c.URL, &total); err != nil {
			return c, err
		}
		c.PricePerSqm = c.UnitPrice()
		return c, nil
	})
	if err != nil {
		return nil, 0, eris.Wrap(err, "market: scan comparables")
	}
	return comps, total, nil
}

// key is the lookup form of a city, province or property type, stored
// alongside the display value in city_key, province_key and property_type.
func key(s string) string {
	return deepening.CanonicalText(s)
}

func trend(changePercent float64) string {
	switch {
	case changePercent > trendBand:
		return model.TrendRising
	case changePercent < -trendBand:
		return model.TrendFalling
	default:
		return model.TrendStable
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
