package ratelimit

import (
	"net"
	"sync"
	"time"

	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/wire"
)

// Verdict is the outcome of a rate-limit check for one query.
type Verdict int

const (
	Allow Verdict = iota
	Throttled
	Banned
)

func (v Verdict) String() string {
	switch v {
	case Throttled:
		return "throttled"
	case Banned:
		return "banned"
	default:
		return "allow"
	}
}

type clientState struct {
	algo            algorithm
	consecutive     int // consecutive denied checks since the last allow
	throttleCount   int // throttle episodes since the last ban
	throttledUntil  time.Time
	bannedUntil     time.Time
	lastSeen        time.Time
}

// Stats reports limiter-wide counters.
type Stats struct {
	TotalQueries     uint64
	ThrottledQueries uint64
	BannedQueries    uint64
	ThrottledClients int
	BannedClients    int
}

// Limiter enforces rate limits: a global limiter, one limiter per client,
// per-qtype limiters, and a consecutive-denial escalation from throttle to
// ban.
type Limiter struct {
	cfg    config.RateLimitConfig
	global algorithm

	mu      sync.Mutex
	clients map[string]*clientState
	qtypes  map[string]algorithm
	stats   Stats

	stop chan struct{}
}

func New(cfg config.RateLimitConfig) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		global:  newAlgorithm(cfg.Algorithm, cfg.GlobalLimit, cfg.GlobalBurst, cfg.Window),
		clients: make(map[string]*clientState),
		qtypes:  make(map[string]algorithm),
		stop:    make(chan struct{}),
	}
	for qtype, limit := range cfg.QTypeLimits {
		l.qtypes[qtype] = newAlgorithm(cfg.Algorithm, limit, int(limit)*2, cfg.Window)
	}
	if cfg.CleanupInterval > 0 {
		go l.cleanupLoop()
	}
	return l
}

// Check runs a query from client against the global, per-client, and
// per-qtype limiters, in that order, and updates the client's
// throttle/ban escalation state.
func (l *Limiter) Check(client net.IP, qtype wire.Type) Verdict {
	if !l.cfg.Enabled {
		return Allow
	}

	l.mu.Lock()
	l.stats.TotalQueries++
	l.mu.Unlock()

	key := ""
	if client != nil {
		key = client.String()
	}

	l.mu.Lock()
	st, ok := l.clients[key]
	if !ok {
		st = &clientState{algo: newAlgorithm(l.cfg.Algorithm, l.cfg.PerClientLimit, l.cfg.PerClientBurst, l.cfg.Window)}
		l.clients[key] = st
	}
	st.lastSeen = time.Now()
	bannedUntil := st.bannedUntil
	throttledUntil := st.throttledUntil
	l.mu.Unlock()

	now := time.Now()
	if now.Before(bannedUntil) {
		l.recordDenied(true)
		return Banned
	}
	if now.Before(throttledUntil) {
		l.recordDenied(false)
		return Throttled
	}

	if !l.global.Allow() {
		return l.escalate(key, st)
	}
	if !st.algo.Allow() {
		return l.escalate(key, st)
	}
	if qt, ok := l.qtypeLimiter(qtype); ok && !qt.Allow() {
		return l.escalate(key, st)
	}

	l.mu.Lock()
	st.consecutive = 0
	l.mu.Unlock()
	return Allow
}

func (l *Limiter) qtypeLimiter(qtype wire.Type) (algorithm, bool) {
	name := qtype.String()
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.qtypes[name]
	return a, ok
}

// escalate mirrors check_rate_limit's violation_count bookkeeping: each
// denial increments consecutive; once ConsecutiveToThrottle is reached the
// client is throttled for ThrottleDuration and throttleCount increments;
// once ThrottlesToBan throttle episodes accrue the client is banned for
// BanDuration and the counters reset.
func (l *Limiter) escalate(key string, st *clientState) Verdict {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	st.consecutive++
	if st.consecutive < l.cfg.ConsecutiveToThrottle {
		l.stats.ThrottledQueries++
		return Throttled
	}

	st.consecutive = 0
	st.throttleCount++
	if st.throttleCount >= l.cfg.ThrottlesToBan {
		st.bannedUntil = now.Add(l.cfg.BanDuration)
		st.throttleCount = 0
		l.stats.BannedQueries++
		return Banned
	}

	st.throttledUntil = now.Add(l.cfg.ThrottleDuration)
	l.stats.ThrottledQueries++
	return Throttled
}

func (l *Limiter) recordDenied(banned bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if banned {
		l.stats.BannedQueries++
	} else {
		l.stats.ThrottledQueries++
	}
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

// cleanup evicts clients idle past IdleEviction, keeping memory bounded
// under churn.
func (l *Limiter) cleanup() {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, st := range l.clients {
		if now.Before(st.bannedUntil) {
			continue
		}
		if now.Sub(st.lastSeen) > l.cfg.IdleEviction {
			delete(l.clients, k)
		}
	}
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := l.stats
	for _, st := range l.clients {
		if time.Now().Before(st.bannedUntil) {
			stats.BannedClients++
		} else if time.Now().Before(st.throttledUntil) {
			stats.ThrottledClients++
		}
	}
	return stats
}

func (l *Limiter) Close() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}
