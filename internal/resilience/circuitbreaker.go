// Package resilience provides circuit breaker and provider failover primitives
// for the remote backends meetcaption depends on.
//
// The central type is [CircuitBreaker], a classic three-state breaker
// (closed → open → half-open) that stops hammering a backend that keeps
// failing. [FallbackGroup] composes multiple instances of any provider type
// with per-entry circuit breakers so that a failing primary is automatically
// bypassed in favour of healthy fallbacks.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state. All calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive failures.
	// Calls are rejected immediately with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the reset timeout. A limited
	// number of calls are allowed through; if they succeed the breaker closes,
	// otherwise it re-opens.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probe calls required in the
	// half-open state before the breaker closes. Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error returned by the protected call
	// counts against the breaker. Default: every error except context
	// cancellation, so abandoned calls do not trip a healthy backend.
	IsFailure func(error) bool

	// OnStateChange, when non-nil, is called after every transition with the
	// breaker lock released.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
// It is safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		state:         StateClosed,
	}
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn. In the half-open state at most
// HalfOpenMax probe calls are in flight or completed before the breaker
// decides.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	callErr := fn()

	var changed *transition
	cb.mu.Lock()
	switch {
	case callErr != nil && cb.isFailure(callErr):
		changed = cb.onFailureLocked(probe)
	case callErr != nil:
		// Not counted; release the probe slot.
		if probe && cb.state == StateHalfOpen {
			cb.probes--
		}
	default:
		changed = cb.onSuccessLocked(probe)
	}
	cb.mu.Unlock()

	cb.notify(changed)
	return callErr
}

// admit decides whether a call may proceed and reports whether it is a
// half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	var changed *transition
	cb.mu.Lock()
	if cb.state == StateOpen {
		if time.Since(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		changed = cb.setStateLocked(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.halfOpenMax {
			cb.mu.Unlock()
			cb.notify(changed)
			return false, ErrCircuitOpen
		}
		cb.probes++
		probe = true
	}
	cb.mu.Unlock()
	cb.notify(changed)
	return probe, nil
}

// onFailureLocked records a counted failure. cb.mu must be held.
func (cb *CircuitBreaker) onFailureLocked(probe bool) *transition {
	if probe {
		// Any failed probe re-opens immediately.
		return cb.setStateLocked(StateOpen)
	}
	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
		return cb.setStateLocked(StateOpen)
	}
	return nil
}

// onSuccessLocked records a success. cb.mu must be held.
func (cb *CircuitBreaker) onSuccessLocked(probe bool) *transition {
	if probe && cb.state == StateHalfOpen {
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.halfOpenMax {
			return cb.setStateLocked(StateClosed)
		}
		return nil
	}
	cb.consecutiveFail = 0
	return nil
}

type transition struct {
	from, to State
}

// setStateLocked switches state and resets the counters owned by the new
// state. cb.mu must be held.
func (cb *CircuitBreaker) setStateLocked(to State) *transition {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	cb.probes = 0
	cb.probeSuccesses = 0
	switch to {
	case StateOpen:
		cb.openedAt = time.Now()
	case StateClosed:
		cb.consecutiveFail = 0
	}
	return &transition{from: from, to: to}
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil {
		return
	}
	level := slog.LevelInfo
	if t.to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "circuit breaker state change",
		"name", cb.name, "from", t.from.String(), "to", t.to.String())
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, t.from, t.to)
	}
}

// State returns the current [State] of the breaker. If the breaker is open and
// the reset timeout has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [CircuitBreaker.Execute] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset manually forces the breaker back to [StateClosed], clearing all failure
// counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changed := cb.setStateLocked(StateClosed)
	cb.consecutiveFail = 0
	cb.mu.Unlock()
	cb.notify(changed)
}
