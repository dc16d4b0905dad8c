package model

import (
	"github.com/twpayne/go-geom"
)

// RentalInfo describes optional rental availability for a property.
type RentalInfo struct {
	MonthlyPrice float64 `json:"monthly_price,omitempty" yaml:"monthly_price"`
	WeeklyPrice  float64 `json:"weekly_price,omitempty" yaml:"weekly_price"`
	ShortTerm    bool    `json:"short_term,omitempty" yaml:"short_term"`
	LongTerm     bool    `json:"long_term,omitempty" yaml:"long_term"`
}

// PropertyDescriptor is the property submitted for analysis. The submitted
// value is never mutated; the pipeline works on an enhanced clone.
type PropertyDescriptor struct {
	ID           string      `json:"id,omitempty" yaml:"id"`
	Reference    string      `json:"reference,omitempty" yaml:"reference"`
	Address      string      `json:"address" yaml:"address"`
	City         string      `json:"city" yaml:"city"`
	Province     string      `json:"province" yaml:"province"`
	PropertyType string      `json:"property_type" yaml:"property_type"`
	Bedrooms     int         `json:"bedrooms" yaml:"bedrooms"`
	Bathrooms    int         `json:"bathrooms" yaml:"bathrooms"`
	BuildArea    float64     `json:"build_area" yaml:"build_area"`
	PlotArea     float64     `json:"plot_area,omitempty" yaml:"plot_area"`
	TerraceArea  float64     `json:"terrace_area,omitempty" yaml:"terrace_area"`
	Price        float64     `json:"price,omitempty" yaml:"price"`
	Features     []string    `json:"features,omitempty" yaml:"features"`
	Description  string      `json:"description,omitempty" yaml:"description"`
	Rental       *RentalInfo `json:"rental,omitempty" yaml:"rental"`

	// Populated on the enhanced copy only.
	Condition          string   `json:"condition,omitempty" yaml:"-"`
	ArchitecturalStyle string   `json:"architectural_style,omitempty" yaml:"-"`
	LocationHints      []string `json:"location_hints,omitempty" yaml:"-"`
}

// FullAddress joins address, city and province for geocoding.
func (p PropertyDescriptor) FullAddress() string {
	return joinNonEmpty(", ", p.Address, p.City, p.Province)
}

// CityAddress is the city-level address used as a geocoding fallback.
func (p PropertyDescriptor) CityAddress() string {
	return joinNonEmpty(", ", p.City, p.Province)
}

// Clone returns a deep copy of the descriptor.
func (p PropertyDescriptor) Clone() PropertyDescriptor {
	c := p
	if p.Features != nil {
		c.Features = append([]string(nil), p.Features...)
	}
	if p.LocationHints != nil {
		c.LocationHints = append([]string(nil), p.LocationHints...)
	}
	if p.Rental != nil {
		r := *p.Rental
		c.Rental = &r
	}
	return c
}

// Coordinates is a WGS84 position.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Point returns the coordinates as a go-geom XY point (x = lng, y = lat).
func (c Coordinates) Point() *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{c.Lng, c.Lat})
}

// LocationVerification is the outcome of checking geocoded coordinates
// against the submitted address.
type LocationVerification struct {
	IsValid         bool    `json:"is_valid"`
	Confidence      float64 `json:"confidence"`
	Reason          string  `json:"reason"`
	VerifiedAddress string  `json:"verified_address,omitempty"`
}

// Amenity is a point of interest near the property.
type Amenity struct {
	Name           string  `json:"name"`
	Category       string  `json:"category"`
	DistanceMeters float64 `json:"distance_meters"`
	Rating         float64 `json:"rating,omitempty"`
}

// MobilityData scores how the property is served on foot, by transit and bike.
type MobilityData struct {
	WalkingScore   int    `json:"walking_score"`
	TransitScore   int    `json:"transit_score"`
	BikeScore      int    `json:"bike_score"`
	NearestTransit string `json:"nearest_transit,omitempty"`
}

// Market trend directions.
const (
	TrendRising  = "rising"
	TrendStable  = "stable"
	TrendFalling = "falling"
)

// MarketData summarizes the local market for the property's segment.
type MarketData struct {
	AvgPricePerSqm    float64 `json:"avg_price_per_sqm"`
	MedianPrice       float64 `json:"median_price"`
	PriceTrendPercent float64 `json:"price_trend_percent"`
	Trend             string  `json:"trend"`
	DaysOnMarket      int     `json:"days_on_market"`
	InventoryCount    int     `json:"inventory_count"`
	Source            string  `json:"source,omitempty"`
}

// Comparable is a listing similar to the subject property.
type Comparable struct {
	Reference      string  `json:"reference,omitempty"`
	Address        string  `json:"address"`
	PropertyType   string  `json:"property_type"`
	Price          float64 `json:"price"`
	BuildArea      float64 `json:"build_area"`
	PricePerSqm    float64 `json:"price_per_sqm"`
	Bedrooms       int     `json:"bedrooms"`
	Bathrooms      int     `json:"bathrooms"`
	DistanceMeters float64 `json:"distance_meters,omitempty"`
	URL            string  `json:"url,omitempty"`
}

// UnitPrice returns the comparable's price per square metre, deriving it
// from price and area when not supplied. Returns 0 when unknown.
func (c Comparable) UnitPrice() float64 {
	if c.PricePerSqm > 0 {
		return c.PricePerSqm
	}
	if c.Price > 0 && c.BuildArea > 0 {
		return c.Price / c.BuildArea
	}
	return 0
}

// Development is a planned or in-progress project near the property.
type Development struct {
	Name               string  `json:"name"`
	Type               string  `json:"type"`
	Status             string  `json:"status"`
	ExpectedCompletion string  `json:"expected_completion,omitempty"`
	Impact             string  `json:"impact"`
	ImpactPercent      float64 `json:"impact_percent"`
}

// EnrichmentBundle aggregates every provider output for one session.
type EnrichmentBundle struct {
	Coordinates           *Coordinates          `json:"coordinates,omitempty"`
	Verification          *LocationVerification `json:"verification,omitempty"`
	Amenities             []Amenity             `json:"amenities"`
	Mobility              *MobilityData         `json:"mobility,omitempty"`
	Market                *MarketData           `json:"market,omitempty"`
	Comparables           []Comparable          `json:"comparables"`
	TotalComparables      int                   `json:"total_comparables"`
	Developments          []Development         `json:"developments"`
	NeighborhoodNarrative string                `json:"neighborhood_narrative,omitempty"`
}

func joinNonEmpty(sep string, parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += sep
		}
		out += p
	}
	return out
}
