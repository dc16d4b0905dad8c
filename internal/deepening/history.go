package deepening

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/cma-engine/internal/model"
)

// HistoryStore persists deepening records. Append assigns the next level
// for the record's fingerprint atomically and returns the stored record.
// Latest returns nil when the fingerprint has no history.
type HistoryStore interface {
	AppendDeepening(ctx context.Context, rec model.DeepeningRecord) (*model.DeepeningRecord, error)
	LatestDeepening(ctx context.Context, fingerprint string) (*model.DeepeningRecord, error)
	ListDeepening(ctx context.Context, fingerprint string) ([]model.DeepeningRecord, error)
}

// MemoryHistory is a process-local HistoryStore.
type MemoryHistory struct {
	mu      sync.Mutex
	records map[string][]model.DeepeningRecord
}

// NewMemoryHistory creates an empty MemoryHistory.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{records: make(map[string][]model.DeepeningRecord)}
}

func (m *MemoryHistory) AppendDeepening(_ context.Context, rec model.DeepeningRecord) (*model.DeepeningRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.records[rec.Fingerprint]
	rec.Level = 1
	if n := len(existing); n > 0 {
		rec.Level = existing[n-1].Level + 1
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	rec.DataGaps = append([]string(nil), rec.DataGaps...)
	m.records[rec.Fingerprint] = append(existing, rec)

	out := rec
	return &out, nil
}

func (m *MemoryHistory) LatestDeepening(_ context.Context, fingerprint string) (*model.DeepeningRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.records[fingerprint]
	if len(recs) == 0 {
		return nil, nil
	}
	out := recs[len(recs)-1]
	return &out, nil
}

func (m *MemoryHistory) ListDeepening(_ context.Context, fingerprint string) ([]model.DeepeningRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]model.DeepeningRecord(nil), m.records[fingerprint]...), nil
}
