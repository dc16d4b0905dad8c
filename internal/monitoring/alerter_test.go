package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cma-engine/internal/config"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		DegradedRateMax: 0.5,
		ErrorRateMax:    0.1,
		MinSessions:     5,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		Total:         20,
		Completed:     18,
		Degraded:      2,
		DegradedRate:  0.1,
		LookbackHours: 24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_ErrorRate(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		Total:         20,
		Completed:     12,
		Errored:       8,
		ErrorRate:     0.4,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertErrorRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Equal(t, 20, alerts[0].Details["finished"])
}

func TestAlerter_Evaluate_DegradedRate(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		Completed:               3,
		Degraded:                7,
		DegradedRate:            0.7,
		AvgQualityScore:         81,
		CriticalGeocodeFailures: 6,
		LookbackHours:           24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertDegradedRate, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "70.0%")
	assert.Contains(t, alerts[0].Message, "6 critical geocode failures")
}

func TestAlerter_Evaluate_BreakerOpen(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{OpenBreakers: []string{"geocode", "market"}}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertBreakerOpen, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "geocode, market")
}

func TestAlerter_Evaluate_MinimumSessionsRequired(t *testing.T) {
	a := NewAlerter(thresholds())

	// 100% error rate but only 3 finished analyses.
	snap := &MetricsSnapshot{Errored: 3, ErrorRate: 1.0, Degraded: 0}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		Completed:    1,
		Degraded:     6,
		Errored:      3,
		DegradedRate: 0.6,
		ErrorRate:    0.3,
		OpenBreakers: []string{"anthropic"},
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 3)
	types := []AlertType{alerts[0].Type, alerts[1].Type, alerts[2].Type}
	assert.Equal(t, []AlertType{AlertErrorRate, AlertDegradedRate, AlertBreakerOpen}, types)
}

func TestAlerter_Evaluate_ZeroThresholdsDisabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	snap := &MetricsSnapshot{Errored: 50, ErrorRate: 1.0}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertErrorRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertBreakerOpen, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertErrorRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertErrorRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}
