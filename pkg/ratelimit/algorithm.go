// Package ratelimit implements rate limiting: five interchangeable
// algorithms behind one interface, a global limiter, a per-client limiter,
// per-qtype limiters, and a consecutive-throttle-then-ban escalation.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wardendns/warden/pkg/config"
)

// algorithm is the common interface every rate limiting strategy
// implements, mirroring RateLimitAlgorithmImpl; Allow folds its check and
// record steps into one call, and there is no reset.
type algorithm interface {
	Allow() bool
}

// newAlgorithm builds the configured algorithm for one client or global
// limiter instance.
func newAlgorithm(kind config.RateLimitAlgorithm, limit float64, burst int, window time.Duration) algorithm {
	switch kind {
	case config.RateLimitSlidingWindow:
		return newSlidingWindow(int(limit), window)
	case config.RateLimitFixedWindow:
		return newFixedWindow(int(limit), window)
	case config.RateLimitLeakyBucket:
		return newLeakyBucket(limit, float64(burst))
	case config.RateLimitAdaptive:
		return newAdaptive(limit, burst)
	case config.RateLimitTokenBucket:
		fallthrough
	default:
		return newTokenBucket(limit, burst)
	}
}

// tokenBucket reuses golang.org/x/time/rate, its own token
// bucket implementation (pkg/ratelimit/manager.go), rather than
// hand-rolling the original's TokenBucket struct.
type tokenBucket struct{ l *rate.Limiter }

func newTokenBucket(limit float64, burst int) *tokenBucket {
	return &tokenBucket{l: rate.NewLimiter(rate.Limit(limit), burst)}
}
func (t *tokenBucket) Allow() bool { return t.l.Allow() }

// slidingWindow keeps a timestamp per admitted request and counts how many
// fall within the trailing window, mirroring SlidingWindow::check/cleanup.
type slidingWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
	limit      int
	window     time.Duration
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	return &slidingWindow{limit: limit, window: window}
}

func (s *slidingWindow) Allow() bool {
	now := time.Now()
	cutoff := now.Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()
	i := 0
	for i < len(s.timestamps) && s.timestamps[i].Before(cutoff) {
		i++
	}
	s.timestamps = s.timestamps[i:]

	if len(s.timestamps) >= s.limit {
		return false
	}
	s.timestamps = append(s.timestamps, now)
	return true
}

// fixedWindow resets its counter at fixed window boundaries, mirroring
// FixedWindow::check_window.
type fixedWindow struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	limit       int
	window      time.Duration
}

func newFixedWindow(limit int, window time.Duration) *fixedWindow {
	return &fixedWindow{limit: limit, window: window, windowStart: time.Now()}
}

func (f *fixedWindow) Allow() bool {
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	if now.Sub(f.windowStart) >= f.window {
		f.count = 0
		f.windowStart = now
	}
	if f.count >= f.limit {
		return false
	}
	f.count++
	return true
}

// leakyBucket drains at a constant rate and admits a request only if adding
// it keeps the water level within capacity (level+1 <= capacity),
// mirroring LeakyBucket::check/leak/record.
type leakyBucket struct {
	mu         sync.Mutex
	level      float64
	capacity   float64
	leakRate   float64
	lastLeak   time.Time
}

func newLeakyBucket(limit, burst float64) *leakyBucket {
	return &leakyBucket{capacity: burst, leakRate: limit, lastLeak: time.Now()}
}

func (l *leakyBucket) Allow() bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	elapsed := now.Sub(l.lastLeak).Seconds()
	l.level -= elapsed * l.leakRate
	if l.level < 0 {
		l.level = 0
	}
	l.lastLeak = now

	if l.level+1 > l.capacity {
		return false
	}
	l.level++
	return true
}

// adaptive wraps a token bucket and widens or narrows its effective limit
// every 100 requests based on the recent success rate, mirroring
// AdaptiveRateLimiter::adjust_limit.
type adaptive struct {
	mu          sync.Mutex
	base        *tokenBucket
	current     float64
	min, max    float64
	adjustEvery int
	total, ok   int
}

func newAdaptive(limit float64, burst int) *adaptive {
	return &adaptive{
		base:        newTokenBucket(limit, burst),
		current:     limit,
		min:         limit / 2,
		max:         limit * 2,
		adjustEvery: 100,
	}
}

func (a *adaptive) Allow() bool {
	a.mu.Lock()
	a.total++
	if a.total > a.adjustEvery {
		successRate := float64(a.ok) / float64(a.total)
		switch {
		case successRate > 0.95:
			a.current = min(a.current*1.1, a.max)
		case successRate < 0.8:
			a.current = max(a.current*0.9, a.min)
		}
		a.base.l.SetLimit(rate.Limit(a.current))
		a.total, a.ok = 0, 0
	}
	a.mu.Unlock()

	allowed := a.base.Allow()
	if allowed {
		a.mu.Lock()
		a.ok++
		a.mu.Unlock()
	}
	return allowed
}
