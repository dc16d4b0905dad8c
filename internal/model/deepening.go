package model

import "time"

// Data gap tags emitted by the deepening engine.
const (
	GapMarketData           = "market_data"
	GapAmenities            = "amenities"
	GapComparables          = "comparables"
	GapDevelopments         = "developments"
	GapMobilityData         = "mobility_data"
	GapNeighborhoodInsights = "neighborhood_insights"
)

// DeepeningRecord is one appended entry of a property's analysis history.
type DeepeningRecord struct {
	Fingerprint  string    `json:"fingerprint"`
	SessionID    string    `json:"session_id"`
	Level        int       `json:"level"`
	LevelLabel   string    `json:"level_label"`
	QualityScore int       `json:"quality_score"`
	DataGaps     []string  `json:"data_gaps"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Strategy tells the pipeline how deep a repeat analysis should go.
type Strategy struct {
	CurrentLevel      int      `json:"current_level"`
	NextLevel         int      `json:"next_level"`
	FocusAreas        []string `json:"focus_areas"`
	AdditionalQueries []string `json:"additional_queries"`
}
