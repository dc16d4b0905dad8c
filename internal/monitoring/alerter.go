package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cma-engine/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertDegradedRate AlertType = "degraded_rate"
	AlertErrorRate    AlertType = "error_rate"
	AlertBreakerOpen  AlertType = "breaker_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// Rate alerts need at least MinSessions finished analyses.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	finished := snap.Finished()

	if finished >= a.minSessions() {
		if a.cfg.ErrorRateMax > 0 && snap.ErrorRate > a.cfg.ErrorRateMax {
			alerts = append(alerts, Alert{
				Type:     AlertErrorRate,
				Severity: "high",
				Message: fmt.Sprintf(
					"Analysis error rate %.1f%% exceeds threshold %.1f%% (%d errored / %d finished in last %dh)",
					snap.ErrorRate*100, a.cfg.ErrorRateMax*100,
					snap.Errored, finished, snap.LookbackHours,
				),
				Details: map[string]any{
					"error_rate": snap.ErrorRate,
					"threshold":  a.cfg.ErrorRateMax,
					"errored":    snap.Errored,
					"finished":   finished,
				},
				Timestamp: now,
			})
		}

		if a.cfg.DegradedRateMax > 0 && snap.DegradedRate > a.cfg.DegradedRateMax {
			alerts = append(alerts, Alert{
				Type:     AlertDegradedRate,
				Severity: "medium",
				Message: fmt.Sprintf(
					"Degraded analysis rate %.1f%% exceeds threshold %.1f%% (avg quality %.0f, %d critical geocode failures in last %dh)",
					snap.DegradedRate*100, a.cfg.DegradedRateMax*100,
					snap.AvgQualityScore, snap.CriticalGeocodeFailures, snap.LookbackHours,
				),
				Details: map[string]any{
					"degraded_rate":             snap.DegradedRate,
					"threshold":                 a.cfg.DegradedRateMax,
					"avg_quality_score":         snap.AvgQualityScore,
					"critical_geocode_failures": snap.CriticalGeocodeFailures,
				},
				Timestamp: now,
			})
		}
	}

	if len(snap.OpenBreakers) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertBreakerOpen,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d provider circuit breaker(s) open: %s",
				len(snap.OpenBreakers), strings.Join(snap.OpenBreakers, ", "),
			),
			Details: map[string]any{
				"providers": snap.OpenBreakers,
			},
			Timestamp: now,
		})
	}

	return alerts
}

func (a *Alerter) minSessions() int {
	if a.cfg.MinSessions <= 0 {
		return 1
	}
	return a.cfg.MinSessions
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
