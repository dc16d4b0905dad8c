package pipeline

import (
	"time"

	"github.com/sells-group/cma-engine/internal/model"
)

// Step names in execution order.
const (
	StepLocationDescription = "location_description_analysis"
	StepConditionStyle      = "condition_style_analysis"
	StepGeolocation         = "geolocation_amenities"
	StepMarketData          = "market_data_retrieval"
	StepComparables         = "comparable_listings_retrieval"
	StepDevelopments        = "future_developments_retrieval"
	StepSummary             = "summary_generation"
)

// StepNames lists the fixed step sequence.
var StepNames = []string{
	StepLocationDescription,
	StepConditionStyle,
	StepGeolocation,
	StepMarketData,
	StepComparables,
	StepDevelopments,
	StepSummary,
}

// TotalSteps is the length of the fixed step sequence.
var TotalSteps = len(StepNames)

// StepOutcome is the result of one step. A step that concluded counts
// toward the quality score even when its providers failed.
type StepOutcome struct {
	Number    int                   `json:"step_number"`
	Name      string                `json:"name"`
	Status    model.StepStatus      `json:"status"`
	Errors    []*StepError          `json:"-"`
	Critical  *CriticalGeocodeError `json:"-"`
	Fallback  bool                  `json:"fallback,omitempty"`
	Details   map[string]any        `json:"details,omitempty"`
	Duration  time.Duration         `json:"duration"`
	Unhandled *UnhandledError       `json:"-"`
}

// Concluded reports whether the step ran to conclusion.
func (o *StepOutcome) Concluded() bool {
	return o.Unhandled == nil
}

// Err returns the first provider error recorded on the step, if any.
func (o *StepOutcome) Err() error {
	if len(o.Errors) == 0 {
		return nil
	}
	return o.Errors[0]
}

func (o *StepOutcome) fail(provider string, err error) {
	if err == nil {
		return
	}
	o.Errors = append(o.Errors, newStepError(o.Name, provider, err))
}

// Meta summarizes a finished analysis for the caller.
type Meta struct {
	SessionID      string              `json:"session_id"`
	Status         model.SessionStatus `json:"status"`
	CompletedSteps int                 `json:"completed_steps"`
	TotalSteps     int                 `json:"total_steps"`
	QualityScore   int                 `json:"quality_score"`
	CriticalErrors int                 `json:"critical_errors"`
	Level          int                 `json:"deepening_level"`
	Outcomes       []StepOutcome       `json:"outcomes"`
}
