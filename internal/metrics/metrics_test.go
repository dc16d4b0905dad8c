package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorsRecord(t *testing.T) {
	before := testutil.ToFloat64(SessionsFinished.WithLabelValues("degraded"))
	SessionsFinished.WithLabelValues("degraded").Inc()
	assert.InDelta(t, before+1, testutil.ToFloat64(SessionsFinished.WithLabelValues("degraded")), 0.001)

	BreakerState.WithLabelValues("geocode").Set(1)
	assert.InDelta(t, 1, testutil.ToFloat64(BreakerState.WithLabelValues("geocode")), 0.001)

	StepDuration.WithLabelValues("market_data_retrieval").Observe(0.3)
	assert.Equal(t, 1, testutil.CollectAndCount(StepDuration, "cma_step_duration_seconds"))
}
