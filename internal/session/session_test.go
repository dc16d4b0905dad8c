package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cma-engine/internal/model"
)

func newSession(id, city string) *model.AnalysisSession {
	now := time.Now().UTC()
	return &model.AnalysisSession{
		ID:          id,
		Fingerprint: "fp-" + city,
		Status:      model.SessionAnalyzing,
		TotalSteps:  7,
		Steps:       []model.StepRecord{{Number: 1, Name: "location_description_analysis", Status: model.StepStarted, StartedAt: now}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func storeSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("PutGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, newSession("s1", "Marbella")))
		got, err := s.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "s1", got.ID)
		assert.Equal(t, model.SessionAnalyzing, got.Status)
		require.Len(t, got.Steps, 1)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("StoredValueDoesNotAliasCaller", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sess := newSession("s1", "Marbella")
		require.NoError(t, s.Put(ctx, sess))
		sess.Status = model.SessionError
		sess.Steps[0].Name = "mutated"

		got, err := s.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, model.SessionAnalyzing, got.Status)
		assert.Equal(t, "location_description_analysis", got.Steps[0].Name)

		got.Steps[0].Name = "mutated again"
		again, err := s.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "location_description_analysis", again.Steps[0].Name)
	})

	t.Run("UpdateProgress", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, newSession("s1", "Marbella")))
		require.NoError(t, s.UpdateProgress(ctx, model.Progress{
			SessionID: "s1", CompletedSteps: 3, TotalSteps: 7, CurrentStep: "geolocation_amenities",
		}))

		got, err := s.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 3, got.CompletedSteps)
		assert.Equal(t, "geolocation_amenities", got.CurrentStep)
		assert.Len(t, got.Steps, 1)
	})

	t.Run("UpdateProgressMissing", func(t *testing.T) {
		s := newStore(t)

		err := s.UpdateProgress(context.Background(), model.Progress{SessionID: "nope"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DeleteAndLen", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, newSession("s1", "Marbella")))
		require.NoError(t, s.Put(ctx, newSession("s2", "Estepona")))
		n, err := s.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		require.NoError(t, s.Delete(ctx, "s1"))
		require.NoError(t, s.Delete(ctx, "s1"))
		n, err = s.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.Get(ctx, "s1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ConcurrentSessionsNeverCrossWrite", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, newSession("a", "Marbella")))
		require.NoError(t, s.Put(ctx, newSession("b", "Estepona")))

		var wg sync.WaitGroup
		for _, id := range []string{"a", "b"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for step := 1; step <= 7; step++ {
					assert.NoError(t, s.UpdateProgress(ctx, model.Progress{
						SessionID: id, CompletedSteps: step, TotalSteps: 7,
						CurrentStep: fmt.Sprintf("%s-step-%d", id, step),
					}))
				}
			}()
		}
		wg.Wait()

		a, err := s.Get(ctx, "a")
		require.NoError(t, err)
		b, err := s.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, "fp-Marbella", a.Fingerprint)
		assert.Equal(t, "a-step-7", a.CurrentStep)
		assert.Equal(t, "fp-Estepona", b.Fingerprint)
		assert.Equal(t, "b-step-7", b.CurrentStep)
	})
}

func TestMemory(t *testing.T) {
	storeSuite(t, func(t *testing.T) Store { return NewMemory(Config{}) })
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory(Config{TTL: 50 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, newSession("s1", "Marbella")))
	_, err := m.Get(ctx, "s1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := m.Get(ctx, "s1")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemory_LRUEviction(t *testing.T) {
	m := NewMemory(Config{Capacity: 2})
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, newSession("s1", "")))
	require.NoError(t, m.Put(ctx, newSession("s2", "")))
	_, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, m.Put(ctx, newSession("s3", "")))

	_, err = m.Get(ctx, "s2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(ctx, "s1")
	assert.NoError(t, err)
	n, err := m.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
