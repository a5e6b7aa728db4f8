// Package resilience wraps flaky external calls (the upstream WebSocket
// dial, the gamma-store sink) with a circuit breaker so a persistent
// outage fails fast instead of retrying into a dead endpoint forever.
package resilience

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerSettings configures the underlying gobreaker.CircuitBreaker.
type CircuitBreakerSettings struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	MinRequests uint32
	FailureRatio float64
}

// DefaultCircuitBreakerSettings trips after half of at least 5 requests in
// a rolling 30s window fail, and probes again after a 15s cooldown.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  1,
	Interval:     30 * time.Second,
	Timeout:      15 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.5,
}

func toGobreakerSettings(name string, s CircuitBreakerSettings) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= s.FailureRatio
		},
	}
}

// Dialer is the subset of a WebSocket dial step the breaker protects.
type Dialer func(ctx context.Context) error

// CircuitBreakerDialer wraps a Dialer so repeated connection failures trip
// the circuit, short-circuiting further dial attempts until the cooldown
// elapses.
type CircuitBreakerDialer struct {
	dial    Dialer
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerDialer wraps dial with DefaultCircuitBreakerSettings.
func NewCircuitBreakerDialer(dial Dialer) *CircuitBreakerDialer {
	return NewCircuitBreakerDialerWithSettings(dial, DefaultCircuitBreakerSettings)
}

// NewCircuitBreakerDialerWithSettings wraps dial with explicit settings.
func NewCircuitBreakerDialerWithSettings(dial Dialer, settings CircuitBreakerSettings) *CircuitBreakerDialer {
	return &CircuitBreakerDialer{
		dial:    dial,
		breaker: gobreaker.NewCircuitBreaker(toGobreakerSettings("ws-dial", settings)),
	}
}

// Dial attempts a connection through the breaker. When the breaker is
// open, it returns gobreaker.ErrOpenState without invoking dial at all.
func (c *CircuitBreakerDialer) Dial(ctx context.Context) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.dial(ctx)
	})
	return err
}

// State reports the breaker's current state (closed, open, half-open).
func (c *CircuitBreakerDialer) State() gobreaker.State {
	return c.breaker.State()
}

// Sink is the subset of the gammastore interface the breaker protects.
type Sink interface {
	Append(ctx context.Context, ts float64, dealerGamma float64) error
}

// CircuitBreakerSink wraps a Sink so repeated write failures trip the
// circuit instead of blocking the snapshot task on a dead store.
type CircuitBreakerSink struct {
	sink    Sink
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerSink wraps sink with DefaultCircuitBreakerSettings.
func NewCircuitBreakerSink(sink Sink) *CircuitBreakerSink {
	return NewCircuitBreakerSinkWithSettings(sink, DefaultCircuitBreakerSettings)
}

// NewCircuitBreakerSinkWithSettings wraps sink with explicit settings.
func NewCircuitBreakerSinkWithSettings(sink Sink, settings CircuitBreakerSettings) *CircuitBreakerSink {
	return &CircuitBreakerSink{
		sink:    sink,
		breaker: gobreaker.NewCircuitBreaker(toGobreakerSettings("gamma-sink", settings)),
	}
}

// Append writes through the breaker.
func (c *CircuitBreakerSink) Append(ctx context.Context, ts float64, dealerGamma float64) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.sink.Append(ctx, ts, dealerGamma)
	})
	return err
}

// State reports the breaker's current state.
func (c *CircuitBreakerSink) State() gobreaker.State {
	return c.breaker.State()
}
