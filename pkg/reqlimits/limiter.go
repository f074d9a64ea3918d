// Package reqlimits implements request size and shape limiting: pre-decode
// UDP/TCP packet-size caps, post-decode question-count and name-length
// caps, and a per-client violation counter that quarantines repeat
// offenders.
package reqlimits

import (
	"net"
	"sync"
	"time"

	"github.com/wardendns/warden/pkg/config"
)

// Verdict classifies one request against the configured limits.
type Verdict int

const (
	Accept Verdict = iota
	TooLarge
	Quarantined
)

// Result carries the verdict plus, for TooLarge, which limit tripped.
type Result struct {
	Verdict Verdict
	Reason  string
}

type clientTracker struct {
	violations   int
	windowStart  time.Time
	quarantineUntil time.Time
}

func (c *clientTracker) quarantined(now time.Time) bool {
	return now.Before(c.quarantineUntil)
}

func (c *clientTracker) maybeResetWindow(now time.Time, window time.Duration) {
	if now.Sub(c.windowStart) >= window {
		c.violations = 0
		c.windowStart = now
	}
}

// Stats mirrors RequestLimitsStats (HTTP counters dropped as out of scope).
type Stats struct {
	RequestsChecked  uint64
	UDPRejected      uint64
	TCPRejected      uint64
	ContentRejected  uint64
	ClientsQuarantined uint64
}

// Limiter enforces DNS request size and shape limits.
type Limiter struct {
	cfg config.RequestLimitsConfig

	mu       sync.Mutex
	clients  map[string]*clientTracker
	stats    Stats
}

func New(cfg config.RequestLimitsConfig) *Limiter {
	return &Limiter{cfg: cfg, clients: make(map[string]*clientTracker)}
}

// ValidateUDPSize checks a raw UDP datagram length before decoding.
func (l *Limiter) ValidateUDPSize(size int, client net.IP) Result {
	if !l.cfg.Enabled {
		return Result{Verdict: Accept}
	}
	l.mu.Lock()
	l.stats.RequestsChecked++
	l.mu.Unlock()

	if size > l.cfg.MaxUDPSize {
		l.mu.Lock()
		l.stats.UDPRejected++
		l.mu.Unlock()
		l.recordViolation(client)
		return Result{Verdict: TooLarge, Reason: "UDP datagram exceeds configured limit"}
	}
	return l.checkQuarantine(client)
}

// ValidateTCPSize checks a length-prefixed TCP DNS message size before
// decoding.
func (l *Limiter) ValidateTCPSize(size int, client net.IP) Result {
	if !l.cfg.Enabled {
		return Result{Verdict: Accept}
	}
	l.mu.Lock()
	l.stats.RequestsChecked++
	l.mu.Unlock()

	if size > l.cfg.MaxTCPSize {
		l.mu.Lock()
		l.stats.TCPRejected++
		l.mu.Unlock()
		l.recordViolation(client)
		return Result{Verdict: TooLarge, Reason: "TCP message exceeds configured limit"}
	}
	return l.checkQuarantine(client)
}

// ValidateContent checks post-decode shape: question count and the
// longest question name's length.
func (l *Limiter) ValidateContent(questionCount int, names []string, client net.IP) Result {
	if !l.cfg.Enabled {
		return Result{Verdict: Accept}
	}

	if questionCount > l.cfg.MaxQuestionCount {
		l.mu.Lock()
		l.stats.ContentRejected++
		l.mu.Unlock()
		l.recordViolation(client)
		return Result{Verdict: TooLarge, Reason: "too many questions"}
	}
	for _, n := range names {
		if len(n) > l.cfg.MaxNameLength {
			l.mu.Lock()
			l.stats.ContentRejected++
			l.mu.Unlock()
			l.recordViolation(client)
			return Result{Verdict: TooLarge, Reason: "domain name exceeds configured limit"}
		}
	}
	return l.checkQuarantine(client)
}

func (l *Limiter) checkQuarantine(client net.IP) Result {
	if client == nil {
		return Result{Verdict: Accept}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.clients[client.String()]
	if ok && t.quarantined(time.Now()) {
		return Result{Verdict: Quarantined, Reason: "client quarantined for repeated violations"}
	}
	return Result{Verdict: Accept}
}

// recordViolation increments a client's violation counter, mirroring
// record_violation + ClientTracker::record_oversized, and quarantines the
// client once ViolationsToQuarantine is exceeded within QuarantineWindow.
func (l *Limiter) recordViolation(client net.IP) {
	if client == nil {
		return
	}
	now := time.Now()
	key := client.String()

	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.clients[key]
	if !ok {
		t = &clientTracker{windowStart: now}
		l.clients[key] = t
	}
	t.maybeResetWindow(now, l.cfg.QuarantineWindow)
	wasQuarantined := t.quarantined(now)
	t.violations++

	if t.violations > l.cfg.ViolationsToQuarantine {
		t.quarantineUntil = now.Add(l.cfg.QuarantineDuration)
		if !wasQuarantined {
			l.stats.ClientsQuarantined++
		}
	}
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Cleanup drops trackers for clients that have neither violated recently
// nor remain quarantined, bounding memory under sustained churn.
func (l *Limiter) Cleanup() {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, t := range l.clients {
		if !t.quarantined(now) && now.Sub(t.windowStart) >= l.cfg.QuarantineWindow {
			delete(l.clients, k)
		}
	}
}
