// Package retry provides exponential backoff with jittered delays for
// transient-failure recovery (WebSocket reconnects).
package retry

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"
)

// Backoff computes successive retry delays with a multiplicative growth
// factor, a hard cap, and crypto/rand-sourced jitter.
type Backoff struct {
	Initial time.Duration
	Cap     time.Duration
	Factor  float64

	current time.Duration
}

// NewBackoff builds a Backoff starting at initial, capped at cap, growing by factor
// each call to Next. Invalid inputs fall back to sane defaults rather than
// producing a zero or negative delay.
func NewBackoff(initial, cap time.Duration, factor float64) *Backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if cap <= 0 || cap < initial {
		cap = initial
	}
	if factor <= 1 {
		factor = 1.5
	}
	return &Backoff{Initial: initial, Cap: cap, Factor: factor, current: initial}
}

// Next returns the next delay and advances the internal state. The returned
// delay includes up to 10% jitter above the un-jittered value.
func (b *Backoff) Next() time.Duration {
	delay := b.current
	grown := time.Duration(float64(b.current) * b.Factor)
	if grown > b.Cap {
		grown = b.Cap
	}
	b.current = grown
	return withJitter(delay)
}

// Reset returns the backoff to its initial delay, used after a successful
// connection so the next failure starts cold again.
func (b *Backoff) Reset() {
	b.current = b.Initial
}

func withJitter(d time.Duration) time.Duration {
	maxJitter := int64(d / 10)
	if maxJitter <= 0 {
		return d
	}
	jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
	if err != nil {
		return d
	}
	return d + time.Duration(jitterVal.Int64())
}

// IsTransient reports whether err looks like a recoverable I/O failure
// (dial timeouts, resets, rate limiting) as opposed to a permanent one
// (bad credentials, malformed request).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"i/o timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"temporarily unavailable",
		"server error",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"network",
		"dns",
		"tcp",
		"no such host",
		"deadline exceeded",
		"tls handshake",
		"broken pipe",
		"eof",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
