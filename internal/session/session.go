// Package session holds the ephemeral, pollable state of running analyses.
package session

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cma-engine/internal/model"
)

// ErrNotFound is returned for unknown or evicted sessions.
var ErrNotFound = eris.New("session: not found")

// DefaultTTL bounds how long a session stays pollable after its last write.
const DefaultTTL = 2 * time.Hour

// Store is a keyed session store. Writes are atomic per session id and
// last-writer-wins; stored values never alias the caller's.
type Store interface {
	Put(ctx context.Context, s *model.AnalysisSession) error
	Get(ctx context.Context, id string) (*model.AnalysisSession, error)
	UpdateProgress(ctx context.Context, p model.Progress) error
	Delete(ctx context.Context, id string) error
	Len(ctx context.Context) (int, error)
}

// Config selects and tunes the session backend.
type Config struct {
	Backend  string        `yaml:"backend" mapstructure:"backend"` // memory or redis
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Capacity int           `yaml:"capacity" mapstructure:"capacity"`
	Redis    RedisConfig   `yaml:"redis" mapstructure:"redis"`
}

func applyProgress(s *model.AnalysisSession, p model.Progress) {
	s.CompletedSteps = p.CompletedSteps
	s.TotalSteps = p.TotalSteps
	s.CurrentStep = p.CurrentStep
	s.UpdatedAt = time.Now().UTC()
}
