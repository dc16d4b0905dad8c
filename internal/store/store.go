// Package store persists what outlives a session: the progressive
// deepening history, an archive of finished analyses and the regional
// learning entries recorded after each analysis.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cma-engine/internal/model"
)

// ErrNotFound is returned when an archived analysis does not exist.
var ErrNotFound = eris.New("store: not found")

// AnalysisFilter specifies criteria for listing archived analyses.
type AnalysisFilter struct {
	Status       model.SessionStatus `json:"status,omitempty"`
	Fingerprint  string              `json:"fingerprint,omitempty"`
	CreatedAfter time.Time           `json:"created_after,omitempty"`
	Limit        int                 `json:"limit,omitempty"`
	Offset       int                 `json:"offset,omitempty"`
}

// Store defines the persistence interface for the analysis engine.
type Store interface {
	// Deepening history. AppendDeepening assigns the next level for the
	// record's fingerprint atomically.
	AppendDeepening(ctx context.Context, rec model.DeepeningRecord) (*model.DeepeningRecord, error)
	LatestDeepening(ctx context.Context, fingerprint string) (*model.DeepeningRecord, error)
	ListDeepening(ctx context.Context, fingerprint string) ([]model.DeepeningRecord, error)

	// Analysis archive
	SaveAnalysis(ctx context.Context, session *model.AnalysisSession) error
	GetAnalysis(ctx context.Context, id string) (*model.AnalysisSession, error)
	ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.AnalysisSession, error)

	// Regional learning
	RecordLearning(ctx context.Context, entry model.LearningEntry) error
	ListLearning(ctx context.Context, region string, limit int) ([]model.LearningEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

type scannable interface {
	Scan(dest ...any) error
}

func marshalGaps(gaps []string) ([]byte, error) {
	if gaps == nil {
		gaps = []string{}
	}
	b, err := json.Marshal(gaps)
	return b, eris.Wrap(err, "marshal data gaps")
}

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
