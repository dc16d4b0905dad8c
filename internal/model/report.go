package model

import "time"

// Adjustment is a named, signed percentage applied to a base valuation.
type Adjustment struct {
	Factor    string  `json:"factor"`
	Percent   float64 `json:"percent"`
	Reasoning string  `json:"reasoning"`
}

// ValuationEstimate is the output of the valuation engine.
// Low <= Estimated <= High and 0 <= Confidence <= 100 always hold.
type ValuationEstimate struct {
	Low             float64      `json:"low"`
	Estimated       float64      `json:"estimated"`
	High            float64      `json:"high"`
	Confidence      int          `json:"confidence"`
	Methodology     string       `json:"methodology"`
	Basis           string       `json:"basis"`
	BasePricePerSqm float64      `json:"base_price_per_sqm,omitempty"`
	Adjustments     []Adjustment `json:"adjustments"`
}

// NarrativeSummary is the human-readable part of the report.
// Generated is false when the templated fallback was used.
type NarrativeSummary struct {
	Overview       string   `json:"overview"`
	MarketPosition string   `json:"market_position"`
	Recommendation string   `json:"recommendation"`
	Highlights     []string `json:"highlights,omitempty"`
	Generated      bool     `json:"generated"`
}

// ResearchFinding is one web result gathered by bonus research.
type ResearchFinding struct {
	Query   string `json:"query"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// CMAReport is the final comparative market analysis.
type CMAReport struct {
	Property              PropertyDescriptor `json:"property"`
	Summary               NarrativeSummary   `json:"summary"`
	MarketTrends          *MarketData        `json:"market_trends,omitempty"`
	Comparables           []Comparable       `json:"comparable_properties"`
	TotalComparables      int                `json:"total_comparables"`
	Amenities             []Amenity          `json:"amenities"`
	Mobility              *MobilityData      `json:"mobility,omitempty"`
	Developments          []Development      `json:"future_developments"`
	NeighborhoodNarrative string             `json:"neighborhood_narrative,omitempty"`
	Valuation             ValuationEstimate  `json:"valuation_estimate"`
	Coordinates           *Coordinates       `json:"coordinates,omitempty"`
	BonusResearch         []ResearchFinding  `json:"bonus_research,omitempty"`
	GeneratedAt           time.Time          `json:"generated_at"`
}
