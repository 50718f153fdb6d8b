package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hmonster013/ecommerce-microservice-sub008/clock"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)
)

func init() {
	prometheus.MustRegister(breakerState)
}

// Settings tunes a single breaker. Zero values fall back to defaults.
type Settings struct {
	// WindowSize is the number of most recent calls kept in the rolling
	// window.
	WindowSize int
	// WindowAge bounds how old a window entry may be; whichever of
	// WindowSize/WindowAge trims more wins.
	WindowAge time.Duration
	// MinCalls is the minimum window population before the failure rate
	// is evaluated.
	MinCalls int
	// FailureRate in [0,1] at which the breaker opens.
	FailureRate float64
	// Cooldown is the initial open duration before probing.
	Cooldown time.Duration
	// MaxCooldown caps the doubled cool-down after failed probes.
	MaxCooldown time.Duration
	// ProbeQuota is how many calls are admitted in half-open.
	ProbeQuota int
}

// DefaultSettings mirrors the gateway defaults: 50-call/10s window,
// 10 minimum calls, 50% failure rate, 30s cool-down doubling up to 5min,
// 3 probes.
func DefaultSettings() Settings {
	return Settings{
		WindowSize:  50,
		WindowAge:   10 * time.Second,
		MinCalls:    10,
		FailureRate: 0.5,
		Cooldown:    30 * time.Second,
		MaxCooldown: 5 * time.Minute,
		ProbeQuota:  3,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.WindowSize <= 0 {
		s.WindowSize = d.WindowSize
	}
	if s.WindowAge <= 0 {
		s.WindowAge = d.WindowAge
	}
	if s.MinCalls <= 0 {
		s.MinCalls = d.MinCalls
	}
	if s.FailureRate <= 0 {
		s.FailureRate = d.FailureRate
	}
	if s.Cooldown <= 0 {
		s.Cooldown = d.Cooldown
	}
	if s.MaxCooldown <= 0 {
		s.MaxCooldown = d.MaxCooldown
	}
	if s.ProbeQuota <= 0 {
		s.ProbeQuota = d.ProbeQuota
	}
	return s
}

type call struct {
	at time.Time
	ok bool
}

// CircuitBreaker guards one downstream dependency. Closed admits all calls;
// open short-circuits until the cool-down elapses; half-open admits a probe
// quota and closes only when every probe succeeds.
type CircuitBreaker struct {
	name     string
	settings Settings
	clk      clock.Clock

	mu             sync.Mutex
	state          State
	window         []call
	openedAt       time.Time
	cooldown       time.Duration
	probesIssued   int
	probeSuccesses int
}

func New(name string, settings Settings, clk clock.Clock) *CircuitBreaker {
	if clk == nil {
		clk = clock.System()
	}
	s := settings.withDefaults()
	cb := &CircuitBreaker{
		name:     name,
		settings: s,
		clk:      clk,
		cooldown: s.Cooldown,
	}
	breakerState.WithLabelValues(name).Set(float64(StateClosed))
	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state, transitioning open→half-open first if
// the cool-down has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// Allow reserves a slot for one call. ErrCircuitOpen means the call must
// not reach the downstream; callers go to their fallback instead.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()
	switch cb.state {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.probesIssued >= cb.settings.ProbeQuota {
			return ErrCircuitOpen
		}
		cb.probesIssued++
	}
	return nil
}

// Success records a successful call admitted by Allow.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.observe(true)
	if cb.state == StateHalfOpen {
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.settings.ProbeQuota {
			// A full probe quorum closes the breaker and resets the
			// cool-down base.
			cb.setState(StateClosed)
			cb.cooldown = cb.settings.Cooldown
			cb.window = nil
		}
	}
}

// Failure records a failed call admitted by Allow and evaluates the
// transition rules.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.observe(false)
	switch cb.state {
	case StateHalfOpen:
		// Any probe failure reopens and doubles the cool-down.
		cb.trip(true)
	case StateClosed:
		total, failed := cb.windowStats()
		if total >= cb.settings.MinCalls &&
			float64(failed)/float64(total) >= cb.settings.FailureRate {
			cb.trip(false)
		}
	}
}

// Cancelled records a call that was cancelled by the caller. It does not
// count against the failure rate, but a half-open probe slot is returned.
func (cb *CircuitBreaker) Cancelled() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.probesIssued > 0 {
		cb.probesIssued--
	}
}

// Execute wraps fn with the breaker. Context cancellation is recorded as
// cancelled, not failed.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn()
	switch {
	case err == nil:
		cb.Success()
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		cb.Cancelled()
	default:
		cb.Failure()
	}
	return err
}

func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == StateOpen && cb.clk.Now().Sub(cb.openedAt) >= cb.cooldown {
		cb.setState(StateHalfOpen)
		cb.probesIssued = 0
		cb.probeSuccesses = 0
	}
}

func (cb *CircuitBreaker) trip(doubleCooldown bool) {
	if doubleCooldown {
		cb.cooldown *= 2
		if cb.cooldown > cb.settings.MaxCooldown {
			cb.cooldown = cb.settings.MaxCooldown
		}
	}
	cb.setState(StateOpen)
	cb.openedAt = cb.clk.Now()
}

func (cb *CircuitBreaker) setState(s State) {
	cb.state = s
	breakerState.WithLabelValues(cb.name).Set(float64(s))
}

func (cb *CircuitBreaker) observe(ok bool) {
	now := cb.clk.Now()
	cb.window = append(cb.window, call{at: now, ok: ok})
	cutoff := now.Add(-cb.settings.WindowAge)
	trimmed := cb.window[:0]
	for _, c := range cb.window {
		if c.at.After(cutoff) {
			trimmed = append(trimmed, c)
		}
	}
	cb.window = trimmed
	if len(cb.window) > cb.settings.WindowSize {
		cb.window = cb.window[len(cb.window)-cb.settings.WindowSize:]
	}
}

func (cb *CircuitBreaker) windowStats() (total, failed int) {
	for _, c := range cb.window {
		total++
		if !c.ok {
			failed++
		}
	}
	return total, failed
}
