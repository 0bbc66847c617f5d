// Package breaker implements a per-peer circuit breaker. Every field is an
// atomic; there is no mutex anywhere in this package. The Open→HalfOpen
// transition is lazy — it happens inside State()/Allow(), triggered by
// whichever caller observes the recovery timeout has elapsed first, and is
// safe under concurrent readers because it goes through a single CAS.
package breaker

import (
	"sync/atomic"
	"time"
)

// State is one of the three legal circuit breaker states.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	DefaultFailureThreshold = 3
	DefaultRecoveryTimeout  = 30 * time.Second
)

// Breaker is a lock-free circuit breaker. The zero value is not usable; use
// New.
type Breaker struct {
	state               atomic.Int32
	consecutiveFailures atomic.Int32
	trippedAtUnix       atomic.Int64

	failureThreshold int32
	recoveryTimeout  time.Duration

	now func() time.Time
}

// New returns a Breaker starting Closed, with the given failure threshold
// and recovery timeout. A threshold <= 0 or timeout <= 0 falls back to the
// package defaults.
func New(failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}
	b := &Breaker{
		failureThreshold: int32(failureThreshold),
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
	b.state.Store(int32(Closed))
	return b
}

// State returns the current state, performing the lazy Open→HalfOpen
// transition if the recovery timeout has elapsed. Concurrent callers race
// on the CAS harmlessly: exactly one of them flips the state, the rest just
// observe the new value.
func (b *Breaker) State() State {
	current := State(b.state.Load())
	if current != Open {
		return current
	}
	trippedAt := b.trippedAtUnix.Load()
	if b.now().Unix()-trippedAt < int64(b.recoveryTimeout.Seconds()) {
		return Open
	}
	b.state.CompareAndSwap(int32(Open), int32(HalfOpen))
	return State(b.state.Load())
}

// Allow reports whether a caller may attempt the next request. Open denies
// without performing any I/O; Closed and HalfOpen admit.
func (b *Breaker) Allow() bool {
	return b.State() != Open
}

// RecordSuccess resets the failure counter and, from Closed or HalfOpen,
// moves (or keeps) the breaker Closed.
func (b *Breaker) RecordSuccess() {
	b.consecutiveFailures.Store(0)
	b.state.Store(int32(Closed))
}

// RecordFailure increments the consecutive-failure counter. From Closed, it
// trips to Open once the counter reaches the threshold. From HalfOpen, a
// single failure trips straight back to Open.
func (b *Breaker) RecordFailure() {
	switch State(b.state.Load()) {
	case HalfOpen:
		b.trip()
	case Open:
		// Already open; nothing to do beyond bookkeeping.
	default:
		failures := b.consecutiveFailures.Add(1)
		if failures >= b.failureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.trippedAtUnix.Store(b.now().Unix())
	b.state.Store(int32(Open))
}

// ConsecutiveFailures reports the current failure count (for diagnostics and
// metrics only — it plays no role in HalfOpen's failure handling).
func (b *Breaker) ConsecutiveFailures() int {
	return int(b.consecutiveFailures.Load())
}

// TrippedAt returns the unix-seconds timestamp of the last trip, or 0 if the
// breaker has never tripped.
func (b *Breaker) TrippedAt() int64 {
	return b.trippedAtUnix.Load()
}
