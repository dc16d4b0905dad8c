package pipeline

import (
	"strconv"

	"github.com/sells-group/cma-engine/internal/metrics"
	"github.com/sells-group/cma-engine/internal/model"
)

func observeStep(out *StepOutcome) {
	result := string(out.Status)
	if out.Fallback {
		result = "fallback"
	}
	metrics.StepOutcomes.WithLabelValues(out.Name, result).Inc()
	metrics.StepDuration.WithLabelValues(out.Name).Observe(out.Duration.Seconds())
	for _, e := range out.Errors {
		metrics.ProviderErrors.WithLabelValues(e.Provider, strconv.FormatBool(e.Transient)).Inc()
	}
	if out.Critical != nil {
		metrics.CriticalErrors.Inc()
	}
}

func observeSession(s *model.AnalysisSession) {
	metrics.SessionsFinished.WithLabelValues(string(s.Status)).Inc()
	metrics.QualityScore.Observe(float64(s.QualityScore))
}
