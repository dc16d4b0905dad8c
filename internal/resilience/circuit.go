// Package resilience guards provider calls with per-provider circuit
// breakers and classifies provider failures as transient or permanent.
// It never retries: a failed call is reported once and the caller moves on.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// State is the state of a circuit breaker.
type State int

const (
	// Closed lets calls through.
	Closed State = iota
	// Open rejects calls until the reset timeout elapses.
	Open
	// HalfOpen lets probe calls through to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected by an open breaker.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Breaker is a circuit breaker for a single provider.
type Breaker struct {
	name  string
	cfg   Config
	mu    sync.Mutex
	state State

	consecutiveFailures int
	lastFailure         time.Time
	probeSuccesses      int

	nowFunc func() time.Time
}

// NewBreaker creates a breaker for the named provider.
func NewBreaker(name string, cfg Config) *Breaker {
	return &Breaker{
		name:    name,
		cfg:     cfg.withDefaults(),
		state:   Closed,
		nowFunc: time.Now,
	}
}

// Name returns the provider the breaker guards.
func (b *Breaker) Name() string { return b.name }

// Do runs fn through the breaker.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call runs fn through the breaker and returns its value. Rejected calls
// return ErrCircuitOpen without invoking fn.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, eris.Wrapf(err, "%s", b.name)
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// State returns the current state, reporting HalfOpen once an open
// breaker's reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.nowFunc().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		return HalfOpen
	}
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.probeSuccesses = 0
	if b.state != Closed {
		b.transition(Closed)
	}
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return nil
	}
	if b.nowFunc().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		b.transition(HalfOpen)
		return nil
	}
	return ErrCircuitOpen
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.trips(err) {
		switch b.state {
		case HalfOpen:
			b.probeSuccesses++
			if b.probeSuccesses >= b.cfg.HalfOpenProbes {
				b.consecutiveFailures = 0
				b.probeSuccesses = 0
				b.transition(Closed)
			}
		case Closed:
			b.consecutiveFailures = 0
		}
		return
	}

	b.consecutiveFailures++
	b.lastFailure = b.nowFunc()

	switch b.state {
	case Closed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		b.probeSuccesses = 0
		b.transition(Open)
	}
}

// trips reports whether err counts against the provider. A caller that
// gave up is not the provider's fault.
func (b *Breaker) trips(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if b.cfg.ShouldTrip != nil {
		return b.cfg.ShouldTrip(err)
	}
	return true
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Registry hands out one breaker per provider name.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
}

// NewRegistry creates a registry whose breakers share cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), cfg: cfg}
}

// Get returns the breaker for the provider, creating it on first use.
func (r *Registry) Get(provider string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[provider]; ok {
		return b
	}
	b = NewBreaker(provider, r.cfg)
	r.breakers[provider] = b
	return b
}

// States returns a snapshot of every breaker's state.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State()
	}
	return states
}
