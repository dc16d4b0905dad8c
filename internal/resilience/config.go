package resilience

import "time"

// Config controls breaker behavior. Zero values select the defaults.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker. Default: 5.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`

	// ResetTimeout is how long the breaker stays open before letting a
	// probe through. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`

	// HalfOpenProbes is the number of successful probes that close the
	// breaker again. Default: 1.
	HalfOpenProbes int `yaml:"half_open_probes" mapstructure:"half_open_probes"`

	// ShouldTrip overrides which errors count as failures.
	ShouldTrip func(err error) bool `yaml:"-" mapstructure:"-"`

	// OnStateChange is called on every transition while the breaker lock
	// is held; it must not call back into the breaker.
	OnStateChange func(provider string, from, to State) `yaml:"-" mapstructure:"-"`
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = 1
	}
	return c
}
