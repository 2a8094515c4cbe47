// Package resilience keeps the call server useful while its dependencies
// misbehave. It wraps the realtime dialer and the record sinks in circuit
// breakers with ordered failover, and provides the reconnect backoff used by
// the switch event stream supervisor.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without invoking the guarded call while a
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a breaker's operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls outright. Entered after too many consecutive
	// failures, left once the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of trial calls through to decide
	// between closing and re-opening.
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

// CircuitBreakerConfig tunes one breaker. Zero fields take defaults.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs ("realtime", "records-api").
	Name string

	// MaxFailures opens the breaker after that many consecutive failures.
	// Default 5.
	MaxFailures int

	// ResetTimeout is the cool-down before trial calls are allowed again.
	// Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax bounds the trial calls in half-open. Default 3.
	HalfOpenMax int
}

// CircuitBreaker trips after consecutive failures so a dead dependency
// fails fast instead of eating a dial timeout per call. Safe for concurrent
// use.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	trials      int
	trialFails  int
}

// NewCircuitBreaker builds a closed breaker from cfg.
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
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
	}
}

// Execute runs fn unless the breaker refuses, and feeds the outcome back
// into the breaker's state. Open breakers return [ErrCircuitOpen] until the
// reset timeout has passed.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()
	cb.settle(trial, err)
	return err
}

// admit decides whether a call may proceed and reports whether it counts as
// a half-open trial.
func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.trials = 0
		cb.trialFails = 0
		slog.Info("circuit breaker half-open", "name", cb.name)
	}

	if cb.state == StateHalfOpen {
		if cb.trials >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.trials++
		return true, nil
	}
	return false, nil
}

// settle applies a call's outcome.
func (cb *CircuitBreaker) settle(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err != nil && trial:
		// One bad trial re-opens for a full reset timeout.
		cb.lastFailure = time.Now()
		cb.trialFails++
		cb.state = StateOpen
		cb.failures = cb.maxFailures
		slog.Warn("circuit breaker re-opened", "name", cb.name)

	case err != nil:
		cb.lastFailure = time.Now()
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
			slog.Warn("circuit breaker opened",
				"name", cb.name, "consecutive_failures", cb.failures)
		}

	case trial:
		if cb.trials-cb.trialFails >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
			cb.trials = 0
			cb.trialFails = 0
			slog.Info("circuit breaker closed", "name", cb.name)
		}

	default:
		cb.failures = 0
	}
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// elapsed reads as half-open; the stored transition happens on the next
// Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.trials = 0
	cb.trialFails = 0
	slog.Info("circuit breaker reset", "name", cb.name)
}
