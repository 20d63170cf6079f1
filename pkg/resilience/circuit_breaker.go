// Package resilience implements the failure-rate gate around the
// vector backend (spec §4.3): a circuit breaker with Closed, Open, and
// Half-Open states over a fixed-interval failure count window — the
// spec's open question on sliding-window shape is resolved in favor of
// a fixed-interval count window rather than a time-decayed one.
package resilience

import (
	"sync"
	"time"

	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
	"github.com/knowledgebeast/knowledgebeast/pkg/observability"
)

// State is one of Closed, Open, Half-Open.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config parameterizes a CircuitBreaker (spec §4.3).
type Config struct {
	// FailureThreshold is the failure count within Window that trips
	// the breaker from Closed to Open.
	FailureThreshold int
	// Window is the duration of the fixed interval over which
	// failures are counted while Closed.
	Window time.Duration
	// Cooldown is the Open -> Half-Open delay.
	Cooldown time.Duration
	// HalfOpenProbes is the number of concurrent trial calls allowed
	// while Half-Open.
	HalfOpenProbes int
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Window <= 0 {
		c.Window = 30 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = 1
	}
}

// CircuitBreaker implements the state machine described in spec §4.3.
type CircuitBreaker struct {
	name   string
	config Config
	logger observability.Logger
	metrics observability.MetricsClient

	mu             sync.Mutex
	state          State
	windowStart    time.Time
	failuresInWin  int
	openedAt       time.Time
	halfOpenInFlight int
}

// New creates a CircuitBreaker in the Closed state.
func New(name string, config Config, logger observability.Logger, metrics observability.MetricsClient) *CircuitBreaker {
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &CircuitBreaker{
		name:        name,
		config:      config,
		logger:      logger,
		metrics:     metrics,
		state:       StateClosed,
		windowStart: time.Now(),
	}
}

// Allow reports whether a call may proceed, advancing Open->Half-Open
// transitions as the cooldown elapses. On success it returns a done
// function the caller must invoke with the call's outcome.
func (cb *CircuitBreaker) Allow() (done func(success bool), err error) {
	cb.mu.Lock()
	now := time.Now()

	switch cb.state {
	case StateClosed:
		cb.rollWindow(now)
		cb.mu.Unlock()
		return func(success bool) { cb.recordClosed(success) }, nil

	case StateOpen:
		if now.Sub(cb.openedAt) >= cb.config.Cooldown {
			cb.transitionTo(StateHalfOpen, now)
			cb.halfOpenInFlight++
			cb.mu.Unlock()
			return func(success bool) { cb.recordHalfOpen(success) }, nil
		}
		cb.mu.Unlock()
		return nil, kberrors.New(kberrors.KindCircuitOpen, "circuit breaker "+cb.name+" is open")

	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.config.HalfOpenProbes {
			cb.mu.Unlock()
			return nil, kberrors.New(kberrors.KindCircuitOpen, "circuit breaker "+cb.name+" half-open probe limit reached")
		}
		cb.halfOpenInFlight++
		cb.mu.Unlock()
		return func(success bool) { cb.recordHalfOpen(success) }, nil

	default:
		cb.mu.Unlock()
		return nil, kberrors.New(kberrors.KindInternal, "circuit breaker in unknown state")
	}
}

// Execute runs fn under the breaker's protection.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	done, err := cb.Allow()
	if err != nil {
		cb.metrics.IncrementCounterWithLabels("circuit_breaker_rejected_total", 1, map[string]string{"name": cb.name})
		return err
	}
	callErr := fn()
	done(callErr == nil)
	return callErr
}

// rollWindow resets the failure counter when the fixed interval has
// elapsed, must be called with mu held.
func (cb *CircuitBreaker) rollWindow(now time.Time) {
	if now.Sub(cb.windowStart) >= cb.config.Window {
		cb.windowStart = now
		cb.failuresInWin = 0
	}
}

func (cb *CircuitBreaker) recordClosed(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.rollWindow(now)
	if success {
		cb.metrics.IncrementCounterWithLabels("circuit_breaker_successes_total", 1, map[string]string{"name": cb.name})
		return
	}

	cb.failuresInWin++
	cb.metrics.IncrementCounterWithLabels("circuit_breaker_failures_total", 1, map[string]string{"name": cb.name})
	if cb.failuresInWin >= cb.config.FailureThreshold {
		cb.transitionTo(StateOpen, now)
	}
}

func (cb *CircuitBreaker) recordHalfOpen(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.halfOpenInFlight--
	if cb.halfOpenInFlight < 0 {
		cb.halfOpenInFlight = 0
	}

	now := time.Now()
	if success {
		// A single success fully clears history and closes the breaker.
		cb.transitionTo(StateClosed, now)
		cb.windowStart = now
		cb.failuresInWin = 0
		return
	}

	// Any failure while Half-Open re-opens and resets the cooldown timer.
	cb.transitionTo(StateOpen, now)
}

// transitionTo changes state and logs/metrics the change. Must be
// called with mu held.
func (cb *CircuitBreaker) transitionTo(newState State, now time.Time) {
	if cb.state == newState {
		return
	}
	old := cb.state
	cb.state = newState
	if newState == StateOpen {
		cb.openedAt = now
		cb.halfOpenInFlight = 0
	}
	if newState == StateHalfOpen {
		cb.halfOpenInFlight = 0
	}
	cb.logger.Info("circuit breaker state changed", map[string]interface{}{
		"name": cb.name,
		"from": old.String(),
		"to":   newState.String(),
	})
	cb.metrics.RecordGauge("circuit_breaker_state", float64(newState), map[string]string{"name": cb.name})
}

// State returns the current state. A caller observing State() never
// sees a value incompatible with the last recorded transition, since
// both are produced under the same mutex.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker to Closed and clears the failure history,
// even when already Closed (spec §4.3: reset must not rely on a no-op
// transition).
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.windowStart = time.Now()
	cb.failuresInWin = 0
	cb.halfOpenInFlight = 0
	cb.openedAt = time.Time{}
	cb.logger.Info("circuit breaker reset", map[string]interface{}{"name": cb.name})
}
