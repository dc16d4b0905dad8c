package model

import "time"

// LearningEntry is the regional knowledge captured from one finished
// analysis. Entries accumulate per region and feed later analyses of
// nearby properties.
type LearningEntry struct {
	ID              string    `json:"id"`
	Region          string    `json:"region"`
	Fingerprint     string    `json:"fingerprint"`
	SessionID       string    `json:"session_id"`
	PropertyType    string    `json:"property_type,omitempty"`
	QualityScore    int       `json:"quality_score"`
	ComparableCount int       `json:"comparable_count"`
	MedianPrice     float64   `json:"median_price,omitempty"`
	AvgPricePerSqm  float64   `json:"avg_price_per_sqm,omitempty"`
	Trend           string    `json:"trend,omitempty"`
	EstimatedValue  float64   `json:"estimated_value,omitempty"`
	ValuationBasis  string    `json:"valuation_basis,omitempty"`
	RecordedAt      time.Time `json:"recorded_at"`
}
