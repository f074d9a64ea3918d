package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/wardendns/warden/pkg/config"
)

// TransientFunc classifies whether an error is retry-eligible. pkg/client's
// Transient satisfies this.
type TransientFunc func(error) bool

// Do runs fn against upstream through its circuit breaker, retrying with
// exponential backoff (initial_backoff, ×multiplier, capped at max_backoff,
// ±jitter_fraction) up to max_attempts — . Only errors
// classified transient by isTransient are retried; anything else returns
// immediately. Every attempt's outcome is recorded against the breaker.
func Do(ctx context.Context, cfg config.RetryConfig, breaker *Breaker, isTransient TransientFunc, fn func() error) error {
	if !breaker.Allow() {
		return ErrCircuitOpen
	}

	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if !breaker.Allow() {
				return ErrCircuitOpen
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jitter(backoff, cfg.JitterFraction)):
			}
			backoff = nextBackoff(backoff, cfg.Multiplier, cfg.MaxBackoff)
		}

		err := fn()
		if err == nil {
			breaker.RecordSuccess()
			return nil
		}

		breaker.RecordFailure()
		lastErr = err

		if isTransient != nil && !isTransient(err) {
			return err
		}
	}

	return lastErr
}

func nextBackoff(cur time.Duration, multiplier float64, cap time.Duration) time.Duration {
	next := time.Duration(float64(cur) * multiplier)
	if next > cap {
		return cap
	}
	return next
}

// jitter applies ±fraction random jitter to d.
func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	delta := float64(d) * fraction
	offset := (rand.Float64()*2 - 1) * delta
	out := time.Duration(float64(d) + offset)
	if out < 0 {
		return 0
	}
	return out
}
