// Package retry implements the exponential-backoff retry wrapper and the
// per-upstream circuit breaker: an atomic state machine generalized from
// consecutive-failure counting to a sliding failure-window model.
package retry

import (
	"errors"
	"sync"
	"time"

	"github.com/wardendns/warden/pkg/config"
)

// ErrCircuitOpen is returned when a request is routed to an Open breaker
//.
var ErrCircuitOpen = errors.New("retry: circuit breaker open")

// State is the breaker's three-state machine.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker is a single upstream's circuit breaker. Failures are counted
// within a rolling failure_window, not merely as a
// consecutive streak: a failure observed after the window has elapsed since
// the first counted failure resets the count to 1 rather than incrementing
// it (§9 Open Question 2's resolution).
type Breaker struct {
	mu sync.Mutex

	cfg config.RetryConfig

	state State

	windowStart    time.Time
	failuresInWin  int
	halfOpenSucc   int
	openedAt       time.Time
	halfOpenSince  time.Time
}

// NewBreaker builds a Closed breaker using cfg's thresholds and windows.
func NewBreaker(cfg config.RetryConfig) *Breaker {
	return &Breaker{cfg: cfg, state: Closed}
}

// Allow reports whether a request may proceed, performing the
// Open-to-HalfOpen transition on the first request after open_duration
// elapses.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowLocked()
}

func (b *Breaker) allowLocked() bool {
	now := time.Now()
	switch b.state {
	case Open:
		if now.Sub(b.openedAt) >= b.cfg.OpenDuration {
			b.state = HalfOpen
			b.halfOpenSince = now
			b.halfOpenSucc = 0
			return true
		}
		return false
	case HalfOpen:
		if now.Sub(b.halfOpenSince) >= b.cfg.HalfOpenTimeout {
			b.toOpenLocked(now)
			return false
		}
		return true
	default:
		return true
	}
}

// RecordSuccess transitions HalfOpen→Closed after success_threshold
// consecutive successes; in Closed it clears the failure window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenSucc++
		if b.halfOpenSucc >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failuresInWin = 0
		}
	case Closed:
		b.failuresInWin = 0
	}
}

// RecordFailure transitions Closed→Open when consecutive_failures_within_window
// crosses failure_threshold, and HalfOpen→Open on any failure.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case HalfOpen:
		b.toOpenLocked(now)
		return
	case Open:
		return
	}

	if b.failuresInWin == 0 || now.Sub(b.windowStart) > b.cfg.FailureWindow {
		// New window: first failure observed resets the counter to 1, not 0
		// (§9 Open Question 2).
		b.windowStart = now
		b.failuresInWin = 1
	} else {
		b.failuresInWin++
	}

	if b.failuresInWin >= b.cfg.FailureThreshold {
		b.toOpenLocked(now)
	}
}

func (b *Breaker) toOpenLocked(now time.Time) {
	b.state = Open
	b.openedAt = now
	b.failuresInWin = 0
	b.halfOpenSucc = 0
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to Closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failuresInWin = 0
	b.halfOpenSucc = 0
}
