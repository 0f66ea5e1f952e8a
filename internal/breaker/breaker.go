// Package breaker implements a circuit breaker gating connection attempts
// after repeated failures.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by callers when an attempt is rejected because the
// breaker is open. Distinguishable from a timeout so callers can back off
// differently.
var ErrOpen = errors.New("circuit breaker open")

// State of the circuit breaker.
type State int

const (
	// StateClosed allows attempts, normal operation.
	StateClosed State = iota
	// StateOpen rejects attempts until cool-down elapses.
	StateOpen
	// StateHalfOpen allows a single probe attempt.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// FailureKind classifies what failed. Auth failures route to
// reauthentication and never trip the breaker the way transport failures do.
type FailureKind int

const (
	FailureTransport FailureKind = iota
	FailureAuth
)

type Config struct {
	// FailureThreshold is a number of consecutive transport failures after
	// which the breaker opens.
	FailureThreshold int
	// CoolDown is how long the breaker stays open before a half-open probe.
	CoolDown time.Duration
}

// Breaker tracks consecutive failures and gates new connection attempts.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	coolDown         time.Duration

	state       State
	failures    int
	lastFailure time.Time
	probing     bool

	now func() time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 60 * time.Second
	}
	return &Breaker{
		failureThreshold: cfg.FailureThreshold,
		coolDown:         cfg.CoolDown,
		now:              time.Now,
	}
}

// Allow reports whether a new connection attempt may start. While open it
// returns false until cool-down elapses, then grants exactly one half-open
// probe; further calls are rejected until that probe resolves via
// RecordSuccess or RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.coolDown {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// RecordSuccess resolves an attempt as successful. A half-open probe
// succeeding closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	b.failures = 0
	b.state = StateClosed
}

// RecordFailure resolves an attempt as failed. Transport failures count
// toward the threshold; an auth failure resolves a half-open probe back to
// open but never opens a closed breaker on its own.
func (b *Breaker) RecordFailure(kind FailureKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = b.now()
	b.probing = false
	if kind == FailureAuth {
		if b.state == StateHalfOpen {
			b.state = StateOpen
		}
		return
	}
	b.failures++
	if b.state == StateHalfOpen {
		b.state = StateOpen
		return
	}
	if b.state == StateClosed && b.failures >= b.failureThreshold {
		b.state = StateOpen
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot of breaker internals for diagnostics.
type Snapshot struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at"`
	FailureThreshold    int       `json:"failure_threshold"`
	CoolDown            string    `json:"cool_down"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
		LastFailureAt:       b.lastFailure,
		FailureThreshold:    b.failureThreshold,
		CoolDown:            b.coolDown.String(),
	}
}
