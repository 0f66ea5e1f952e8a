// Package backoff computes reconnect delays: exponential with a ceiling and
// jitter, so multiple client instances do not retry in lockstep.
package backoff

import (
	"math/rand"
	"time"
)

const (
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 30 * time.Second
)

// Policy computes the delay before a given reconnect attempt.
type Policy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
}

func (p Policy) base() time.Duration {
	if p.BaseDelay > 0 {
		return p.BaseDelay
	}
	return defaultBaseDelay
}

func (p Policy) max() time.Duration {
	if p.MaxDelay > 0 {
		return p.MaxDelay
	}
	return defaultMaxDelay
}

// NextDelay returns the delay before attempt number attempt (1-based).
// Delays are non-decreasing up to MaxDelay: the deterministic part doubles
// each attempt while jitter adds strictly less than one BaseDelay.
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base, max := p.base(), p.max()
	d := base << (attempt - 1)
	if d <= 0 || d > max { // shift overflow or past ceiling
		return max
	}
	//nolint:gosec // it's a jitter.
	jitter := time.Duration(rand.Int63n(int64(base)))
	return min(d+jitter, max)
}

// ResetThreshold returns how long a connection must stay open for the
// attempt counter to reset to the base delay: one full backoff cycle.
func (p Policy) ResetThreshold() time.Duration {
	return p.max()
}
