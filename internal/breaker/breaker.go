// Package breaker wraps sony/gobreaker with the fixed policy spec.md §4.1
// requires of the Runtime Client: open after 5 consecutive failures,
// half-open probe after a 30s recovery timeout, close on a single
// half-open success.
package breaker

import (
	"time"

	"github.com/sony/gobreaker"
)

const (
	failureThreshold = 5
	recoveryTimeout  = 30 * time.Second

	// RecoveryTimeout is exported so callers that need to bound a
	// post-startup connectivity probe (spec.md §6: "unrecoverable runtime
	// loss for longer than the circuit-breaker recovery timeout on
	// startup") can size their own wait against the same constant this
	// package uses internally.
	RecoveryTimeout = recoveryTimeout
)

// Breaker gates calls that talk to the container runtime. It is safe for
// concurrent use — gobreaker.CircuitBreaker already serializes state
// transitions internally.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New returns a Breaker named for logging/metrics purposes.
func New(name string) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // single half-open probe
		Interval:    0, // no periodic reset while closed
		Timeout:     recoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// State reports the breaker's current state as a lower-case string,
// suitable for a health/metrics label.
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half_open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Execute runs fn through the breaker. When the breaker is open, fn is not
// called and gobreaker.ErrOpenState is returned — callers map that to the
// Runtime Client's Transient error class.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
