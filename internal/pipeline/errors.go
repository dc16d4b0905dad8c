package pipeline

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cma-engine/internal/resilience"
)

// ErrSessionNotFound is returned by Status for unknown or expired sessions.
var ErrSessionNotFound = eris.New("pipeline: session not found")

// InputValidationError reports missing required descriptor fields. No
// session is created when it is returned.
type InputValidationError struct {
	Fields []string
}

func (e *InputValidationError) Error() string {
	return "pipeline: missing required fields: " + strings.Join(e.Fields, ", ")
}

// StepError is a provider failure inside a step. It never aborts the
// pipeline.
type StepError struct {
	Step      string
	Provider  string
	Err       error
	Transient bool
}

func (e *StepError) Error() string {
	return fmt.Sprintf("pipeline: step %s: %s: %v", e.Step, e.Provider, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func newStepError(step, provider string, err error) *StepError {
	return &StepError{
		Step:      step,
		Provider:  provider,
		Err:       err,
		Transient: resilience.IsTransient(err),
	}
}

// CriticalGeocodeError is raised when neither the full address nor the
// city could be resolved to coordinates.
type CriticalGeocodeError struct {
	Address     string
	CityAddress string
	Reason      string
}

func (e *CriticalGeocodeError) Error() string {
	return fmt.Sprintf("pipeline: could not geocode %q or %q: %s", e.Address, e.CityAddress, e.Reason)
}

// SummaryGenerationError wraps a summarizer failure that was replaced by
// the templated fallback.
type SummaryGenerationError struct {
	Err error
}

func (e *SummaryGenerationError) Error() string {
	return fmt.Sprintf("pipeline: summary generation failed, fallback used: %v", e.Err)
}

func (e *SummaryGenerationError) Unwrap() error { return e.Err }

// UnhandledError is a panic that escaped a step. The session terminates
// in the error status.
type UnhandledError struct {
	SessionID string
	Step      string
	Value     any
	Stack     []byte
}

func (e *UnhandledError) Error() string {
	return fmt.Sprintf("pipeline: unhandled error in step %s: %v", e.Step, e.Value)
}
