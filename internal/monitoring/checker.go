package monitoring

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/cma-engine/internal/config"
	"github.com/sells-group/cma-engine/internal/metrics"
)

const (
	// Breakers reopen within seconds, so the default cadence is short.
	defaultCheckInterval = time.Minute
	defaultLookbackHours = 24
)

// Checker runs periodic health checks over archived analyses and provider
// breakers. An alert is sent once when its condition starts and again only
// after it clears and recurs.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	// active holds the keys of alerts already sent and still firing.
	active map[string]bool
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	if cfg.LookbackWindowHours <= 0 {
		cfg.LookbackWindowHours = defaultLookbackHours
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		active:    make(map[string]bool),
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting analysis health checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	if ctx.Err() == nil {
		c.check(ctx, log)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("analysis health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check collects a snapshot, exports it and sends newly firing alerts. It
// returns the number of alerts sent.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect analysis health", zap.Error(err))
		return 0
	}

	metrics.ArchiveDegradedRate.Set(snap.DegradedRate)
	metrics.ArchiveErrorRate.Set(snap.ErrorRate)
	metrics.ArchiveQualityScore.Set(snap.AvgQualityScore)

	log.Info("monitoring: analysis health",
		zap.Int("finished", snap.Finished()),
		zap.Int("in_progress", snap.InProgress),
		zap.Float64("degraded_rate", snap.DegradedRate),
		zap.Float64("error_rate", snap.ErrorRate),
		zap.Float64("avg_quality_score", snap.AvgQualityScore),
		zap.Int("critical_geocode_failures", snap.CriticalGeocodeFailures),
		zap.Strings("open_breakers", snap.OpenBreakers),
	)

	firing := make(map[string]bool)
	var fresh []Alert
	for _, a := range c.alerter.Evaluate(snap) {
		key := alertKey(a)
		firing[key] = true
		if !c.active[key] {
			fresh = append(fresh, a)
		}
	}
	for key := range c.active {
		if !firing[key] {
			log.Info("monitoring: alert cleared", zap.String("alert", key))
		}
	}
	c.active = firing

	if len(fresh) == 0 {
		log.Debug("monitoring: no new alerts")
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(fresh)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}

// alertKey identifies an alert condition. A breaker alert is keyed by the
// set of open providers, so another provider opening alerts again.
func alertKey(a Alert) string {
	if a.Type != AlertBreakerOpen {
		return string(a.Type)
	}
	providers, _ := a.Details["providers"].([]string)
	sorted := append([]string(nil), providers...)
	sort.Strings(sorted)
	return string(a.Type) + ":" + strings.Join(sorted, ",")
}
