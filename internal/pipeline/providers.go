package pipeline

import (
	"context"

	"github.com/sells-group/cma-engine/internal/model"
)

// Provider names used in step errors and metrics.
const (
	ProviderSummarizer   = "summarizer"
	ProviderGeocoder     = "geocoder"
	ProviderVerifier     = "verifier"
	ProviderAmenities    = "amenities"
	ProviderMobility     = "mobility"
	ProviderMarket       = "market"
	ProviderComparables  = "comparables"
	ProviderDevelopments = "developments"
	ProviderNarrative    = "narrative"
	ProviderSearch       = "search"
	ProviderLearning     = "learning"
)

// Geocoder resolves an address to coordinates. A nil result with a nil
// error means the address was not found.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*model.Coordinates, error)
}

// LocationVerifier checks geocoded coordinates against the submitted address.
type LocationVerifier interface {
	VerifyLocation(ctx context.Context, coords model.Coordinates, address, city, province string) (*model.LocationVerification, error)
}

// AmenityFinder lists points of interest near a position.
type AmenityFinder interface {
	NearbyAmenities(ctx context.Context, coords model.Coordinates) ([]model.Amenity, error)
}

// MobilityScorer rates walkability and transit access.
type MobilityScorer interface {
	MobilityData(ctx context.Context, coords model.Coordinates, address string) (*model.MobilityData, error)
}

// MarketDataSource summarizes the local market for a property.
type MarketDataSource interface {
	MarketData(ctx context.Context, p model.PropertyDescriptor) (*model.MarketData, error)
}

// ComparableResult is a page of comparable listings plus the total found.
type ComparableResult struct {
	Comparables []model.Comparable
	TotalFound  int
}

// ComparableFinder searches listings similar to a property.
type ComparableFinder interface {
	ComparableListings(ctx context.Context, p model.PropertyDescriptor) (*ComparableResult, error)
}

// DevelopmentFinder lists planned projects near a property.
type DevelopmentFinder interface {
	FutureDevelopments(ctx context.Context, address string, p model.PropertyDescriptor) ([]model.Development, error)
}

// NarrativeWriter describes the neighbourhood around an address.
type NarrativeWriter interface {
	NeighborhoodNarrative(ctx context.Context, address, city, province string) (string, error)
}

// LocationInsights are finer-grained location hints inferred from the
// listing text.
type LocationInsights struct {
	Hints []string `json:"hints"`
}

// ConditionAssessment is the inferred condition and architectural style.
type ConditionAssessment struct {
	Condition          string `json:"condition"`
	ArchitecturalStyle string `json:"architectural_style"`
}

// Summarizer is the AI text collaborator.
type Summarizer interface {
	AnalyzeLocation(ctx context.Context, p model.PropertyDescriptor) (*LocationInsights, error)
	AnalyzeCondition(ctx context.Context, p model.PropertyDescriptor) (*ConditionAssessment, error)
	GenerateSummary(ctx context.Context, p model.PropertyDescriptor, bundle *model.EnrichmentBundle, estimate model.ValuationEstimate) (*model.NarrativeSummary, error)
	SuggestQueries(ctx context.Context, p model.PropertyDescriptor, n int) ([]string, error)
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// WebSearcher runs a web search.
type WebSearcher interface {
	SearchWeb(ctx context.Context, query string) ([]SearchResult, error)
}

// LearningRecorder feeds a finished analysis into regional knowledge.
type LearningRecorder interface {
	RecordLearning(ctx context.Context, p model.PropertyDescriptor, report *model.CMAReport, comparables []model.Comparable, sessionID string, qualityScore int) error
}

// Providers bundles the external collaborators. Nil fields return empty
// results.
type Providers struct {
	Geocoder     Geocoder
	Verifier     LocationVerifier
	Amenities    AmenityFinder
	Mobility     MobilityScorer
	Market       MarketDataSource
	Comparables  ComparableFinder
	Developments DevelopmentFinder
	Narrative    NarrativeWriter
	Summarizer   Summarizer
	Search       WebSearcher
	Learning     LearningRecorder
}

func (p Providers) withDefaults() Providers {
	var e empty
	if p.Geocoder == nil {
		p.Geocoder = e
	}
	if p.Verifier == nil {
		p.Verifier = e
	}
	if p.Amenities == nil {
		p.Amenities = e
	}
	if p.Mobility == nil {
		p.Mobility = e
	}
	if p.Market == nil {
		p.Market = e
	}
	if p.Comparables == nil {
		p.Comparables = e
	}
	if p.Developments == nil {
		p.Developments = e
	}
	if p.Narrative == nil {
		p.Narrative = e
	}
	if p.Summarizer == nil {
		p.Summarizer = e
	}
	if p.Search == nil {
		p.Search = e
	}
	if p.Learning == nil {
		p.Learning = e
	}
	return p
}

// empty implements every provider interface with empty results.
type empty struct{}

func (empty) Geocode(context.Context, string) (*model.Coordinates, error) { return nil, nil }

func (empty) VerifyLocation(context.Context, model.Coordinates, string, string, string) (*model.LocationVerification, error) {
	return nil, nil
}

func (empty) NearbyAmenities(context.Context, model.Coordinates) ([]model.Amenity, error) {
	return nil, nil
}

func (empty) MobilityData(context.Context, model.Coordinates, string) (*model.MobilityData, error) {
	return nil, nil
}

func (empty) MarketData(context.Context, model.PropertyDescriptor) (*model.MarketData, error) {
	return nil, nil
}

func (empty) ComparableListings(context.Context, model.PropertyDescriptor) (*ComparableResult, error) {
	return nil, nil
}

func (empty) FutureDevelopments(context.Context, string, model.PropertyDescriptor) ([]model.Development, error) {
	return nil, nil
}

func (empty) NeighborhoodNarrative(context.Context, string, string, string) (string, error) {
	return "", nil
}

func (empty) AnalyzeLocation(context.Context, model.PropertyDescriptor) (*LocationInsights, error) {
	return nil, nil
}

func (empty) AnalyzeCondition(context.Context, model.PropertyDescriptor) (*ConditionAssessment, error) {
	return nil, nil
}

func (empty) GenerateSummary(context.Context, model.PropertyDescriptor, *model.EnrichmentBundle, model.ValuationEstimate) (*model.NarrativeSummary, error) {
	return nil, nil
}

func (empty) SuggestQueries(context.Context, model.PropertyDescriptor, int) ([]string, error) {
	return nil, nil
}

func (empty) SearchWeb(context.Context, string) ([]SearchResult, error) { return nil, nil }

func (empty) RecordLearning(context.Context, model.PropertyDescriptor, *model.CMAReport, []model.Comparable, string, int) error {
	return nil
}
