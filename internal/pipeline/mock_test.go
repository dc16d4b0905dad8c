package pipeline

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/cma-engine/internal/model"
	"github.com/sells-group/cma-engine/internal/session"
	"github.com/sells-group/cma-engine/internal/store"
)

// --- Geocoder Mock ---

type mockGeocoder struct {
	mock.Mock
}

func (m *mockGeocoder) Geocode(ctx context.Context, address string) (*model.Coordinates, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Coordinates), args.Error(1)
}

// --- Verifier Mock ---

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) VerifyLocation(ctx context.Context, coords model.Coordinates, address, city, province string) (*model.LocationVerification, error) {
	args := m.Called(ctx, coords, address, city, province)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LocationVerification), args.Error(1)
}

// --- Amenities Mock ---

type mockAmenities struct {
	mock.Mock
}

func (m *mockAmenities) NearbyAmenities(ctx context.Context, coords model.Coordinates) ([]model.Amenity, error) {
	args := m.Called(ctx, coords)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Amenity), args.Error(1)
}

// --- Mobility Mock ---

type mockMobility struct {
	mock.Mock
}

func (m *mockMobility) MobilityData(ctx context.Context, coords model.Coordinates, address string) (*model.MobilityData, error) {
	args := m.Called(ctx, coords, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MobilityData), args.Error(1)
}

// --- Market Mock ---

type mockMarket struct {
	mock.Mock
}

func (m *mockMarket) MarketData(ctx context.Context, p model.PropertyDescriptor) (*model.MarketData, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MarketData), args.Error(1)
}

// --- Comparables Mock ---

type mockComparables struct {
	mock.Mock
}

func (m *mockComparables) ComparableListings(ctx context.Context, p model.PropertyDescriptor) (*ComparableResult, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ComparableResult), args.Error(1)
}

// --- Developments Mock ---

type mockDevelopments struct {
	mock.Mock
}

func (m *mockDevelopments) FutureDevelopments(ctx context.Context, address string, p model.PropertyDescriptor) ([]model.Development, error) {
	args := m.Called(ctx, address, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Development), args.Error(1)
}

// --- Narrative Mock ---

type mockNarrative struct {
	mock.Mock
}

func (m *mockNarrative) NeighborhoodNarrative(ctx context.Context, address, city, province string) (string, error) {
	args := m.Called(ctx, address, city, province)
	return args.String(0), args.Error(1)
}

// --- Summarizer Mock ---

type mockSummarizer struct {
	mock.Mock
}

func (m *mockSummarizer) AnalyzeLocation(ctx context.Context, p model.PropertyDescriptor) (*LocationInsights, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*LocationInsights), args.Error(1)
}

func (m *mockSummarizer) AnalyzeCondition(ctx context.Context, p model.PropertyDescriptor) (*ConditionAssessment, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ConditionAssessment), args.Error(1)
}

func (m *mockSummarizer) GenerateSummary(ctx context.Context, p model.PropertyDescriptor, bundle *model.EnrichmentBundle, est model.ValuationEstimate) (*model.NarrativeSummary, error) {
	args := m.Called(ctx, p, bundle, est)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.NarrativeSummary), args.Error(1)
}

func (m *mockSummarizer) SuggestQueries(ctx context.Context, p model.PropertyDescriptor, n int) ([]string, error) {
	args := m.Called(ctx, p, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// --- Search Mock ---

type mockSearch struct {
	mock.Mock
}

func (m *mockSearch) SearchWeb(ctx context.Context, query string) ([]SearchResult, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]SearchResult), args.Error(1)
}

// --- Learning Mock ---

type mockLearning struct {
	mock.Mock
}

func (m *mockLearning) RecordLearning(ctx context.Context, p model.PropertyDescriptor, report *model.CMAReport, comparables []model.Comparable, sessionID string, qualityScore int) error {
	args := m.Called(ctx, p, report, comparables, sessionID, qualityScore)
	return args.Error(0)
}

// recordingStore wraps a session store and records every progress message.
type recordingStore struct {
	session.Store
	mu       sync.Mutex
	progress []model.Progress
}

func (r *recordingStore) UpdateProgress(ctx context.Context, p model.Progress) error {
	r.mu.Lock()
	r.progress = append(r.progress, p)
	r.mu.Unlock()
	return r.Store.UpdateProgress(ctx, p)
}

func (r *recordingStore) messages() []model.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Progress(nil), r.progress...)
}

// mapArchive is an in-memory Archive.
type mapArchive struct {
	mu   sync.Mutex
	byID map[string]*model.AnalysisSession
}

func newMapArchive() *mapArchive {
	return &mapArchive{byID: map[string]*model.AnalysisSession{}}
}

func (a *mapArchive) SaveAnalysis(_ context.Context, s *model.AnalysisSession) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byID[s.ID] = s.Clone()
	return nil
}

func (a *mapArchive) GetAnalysis(_ context.Context, id string) (*model.AnalysisSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.Clone(), nil
}
