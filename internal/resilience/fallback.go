package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed wraps the last error once every entry of a [FallbackGroup]
// has failed or sits behind an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig shapes the breaker minted for each entry of a group.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup tries a primary and its fallbacks in registration order,
// each behind its own [CircuitBreaker]. [Dialer] and [GuardedSink] are its
// two concrete uses: a provider outage fails calls over to the next dialer,
// and a dead records endpoint hands deliveries to the database.
//
// Safe for concurrent use once all entries are registered.
type FallbackGroup[T any] struct {
	entries []entry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup starts a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.add(primaryName, primary)
	return g
}

// AddFallback appends an entry tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.add(name, fallback)
}

func (fg *FallbackGroup[T]) add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, entry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute runs fn against each entry in order until one succeeds. Entries
// with open breakers are skipped without being called.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. A package function because methods cannot add type parameters.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.entries {
		e := &fg.entries[i]
		var result R
		err := e.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(e.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("provider skipped, breaker open", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
