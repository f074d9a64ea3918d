package sourcevalidate

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/logging"
	"github.com/wardendns/warden/pkg/wire"
)

// Verdict is the outcome of validating one query's source, matching
// ValidationResult's four-way split.
type Verdict int

const (
	Valid Verdict = iota
	Suspicious
	Invalid
	ForceTCP
)

func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case Suspicious:
		return "suspicious"
	case Invalid:
		return "invalid"
	case ForceTCP:
		return "force_tcp"
	default:
		return "unknown"
	}
}

// Result carries the verdict plus a human-readable reason, mirroring
// ValidationResult's payload strings.
type Result struct {
	Verdict Verdict
	Reason  string
}

type sourceInfo struct {
	firstSeen, lastSeen time.Time
	queryCount          uint64
	suspiciousScore     float64
	validated           bool
	failedValidations   int
}

// Stats mirrors SourceValidationStats.
type Stats struct {
	TotalValidations uint64
	ValidSources     uint64
	SuspiciousCount  uint64
	BogonBlocks      uint64
	BCP38Violations  uint64
	CookieOK         uint64
	TCPFallbacks     uint64
	UniqueSources    int
}

// Validator tracks per-source state and classifies each query's source
// address, grounded on SourceValidator::validate_source.
type Validator struct {
	cfg    config.SourceValidateConfig
	logger *logging.Logger
	jar    *cookieJar

	mu      sync.Mutex
	sources map[string]*sourceInfo
	stats   Stats
}

func New(cfg config.SourceValidateConfig, logger *logging.Logger) *Validator {
	secret := []byte(cfg.CookieSecret)
	if len(secret) == 0 {
		secret = []byte("warden-default-cookie-secret")
	}
	return &Validator{
		cfg:     cfg,
		logger:  logger,
		jar:     newCookieJar(secret),
		sources: make(map[string]*sourceInfo),
	}
}

// Validate classifies a query arriving from sourceIP, given the decoded
// query msg (may be nil; its EDNS0 OPT record, if any, carries the cookie)
// and whether it arrived over TCP. Mirrors validate_source's check
// ordering: bogon, BCP38, rate,
// cookie, suspicion score.
func (v *Validator) Validate(msg *wire.Message, sourceIP net.IP, isTCP bool) Result {
	if !v.cfg.Enabled {
		return Result{Verdict: Valid}
	}

	v.mu.Lock()
	v.stats.TotalValidations++
	v.mu.Unlock()

	v.track(sourceIP)

	if v.cfg.RejectBogons && isBogon(sourceIP) {
		v.mu.Lock()
		v.stats.BogonBlocks++
		v.mu.Unlock()
		return Result{Verdict: Invalid, Reason: "bogon source address"}
	}

	if !validateBCP38(sourceIP) {
		v.mu.Lock()
		v.stats.BCP38Violations++
		v.mu.Unlock()
		return Result{Verdict: Invalid, Reason: "BCP38 validation failed"}
	}

	if !v.checkRate(sourceIP) {
		return Result{Verdict: Invalid, Reason: "rate limit exceeded"}
	}

	if v.cfg.CookiesEnabled && !isTCP {
		opt := findOPT(msg)
		var raw []byte
		if opt != nil {
			raw = opt.RawOptions
		}
		switch v.jar.validate(raw, sourceIP, v.cfg.CookieLifetime) {
		case cookieValid:
			v.mu.Lock()
			v.stats.CookieOK++
			v.mu.Unlock()
		case cookieMissing:
			return Result{Verdict: ForceTCP, Reason: "DNS cookie required"}
		case cookieInvalid:
			v.bumpSuspicion(sourceIP, 0.2)
		}
	}

	score := v.suspicionScore(sourceIP)
	if score > v.cfg.SuspicionThreshold {
		v.mu.Lock()
		v.stats.SuspiciousCount++
		v.mu.Unlock()
		if !isTCP {
			v.mu.Lock()
			v.stats.TCPFallbacks++
			v.mu.Unlock()
			return Result{Verdict: ForceTCP, Reason: fmt.Sprintf("suspicious source (score %.2f)", score)}
		}
		return Result{Verdict: Suspicious, Reason: fmt.Sprintf("high suspicion score: %.2f", score)}
	}

	v.markValidated(sourceIP)
	v.mu.Lock()
	v.stats.ValidSources++
	v.mu.Unlock()
	return Result{Verdict: Valid}
}

func findOPT(msg *wire.Message) *wire.OPTRecord {
	if msg == nil {
		return nil
	}
	for _, r := range msg.Additional {
		if opt, ok := r.Data.(wire.OPTRecord); ok {
			return &opt
		}
	}
	return nil
}

func (v *Validator) track(ip net.IP) {
	key := ip.String()
	now := time.Now()

	v.mu.Lock()
	defer v.mu.Unlock()
	info, ok := v.sources[key]
	if !ok {
		info = &sourceInfo{firstSeen: now}
		v.sources[key] = info
	}
	info.lastSeen = now
	info.queryCount++
	v.stats.UniqueSources = len(v.sources)
}

// checkRate mirrors check_rate_limits: a coarse query-count-over-window
// comparison against max_queries_per_source, using the config's rate
// window as both the sampling interval and averaging period.
func (v *Validator) checkRate(ip net.IP) bool {
	key := ip.String()
	v.mu.Lock()
	defer v.mu.Unlock()
	info, ok := v.sources[key]
	if !ok {
		return true
	}
	windowStart := time.Now().Add(-v.cfg.RateWindow)
	if info.lastSeen.Before(windowStart) {
		return true
	}
	windowSecs := v.cfg.RateWindow.Seconds()
	if windowSecs <= 0 || v.cfg.MaxQueriesPerSource <= 0 {
		return true
	}
	rate := float64(info.queryCount) / windowSecs
	maxRate := float64(v.cfg.MaxQueriesPerSource) / windowSecs
	return rate <= maxRate
}

func (v *Validator) bumpSuspicion(ip net.IP, delta float64) {
	key := ip.String()
	v.mu.Lock()
	defer v.mu.Unlock()
	info, ok := v.sources[key]
	if !ok {
		return
	}
	info.suspiciousScore += delta
	if info.suspiciousScore > 1.0 {
		info.suspiciousScore = 1.0
	}
	if delta > 0 {
		info.failedValidations++
	}
}

func (v *Validator) suspicionScore(ip net.IP) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	info, ok := v.sources[ip.String()]
	if !ok {
		return 0
	}
	return info.suspiciousScore
}

// markValidated decays the suspicion score toward zero on a clean pass,
// matching mark_validated's 0.95 decay factor generalized to the
// configurable ScoreDecayPerHit.
func (v *Validator) markValidated(ip net.IP) {
	v.mu.Lock()
	defer v.mu.Unlock()
	info, ok := v.sources[ip.String()]
	if !ok {
		return
	}
	info.validated = true
	info.suspiciousScore -= v.cfg.ScoreDecayPerHit
	if info.suspiciousScore < 0 {
		info.suspiciousScore = 0
	}
}

// IssueCookie builds a server cookie to attach to a retry-with-cookie
// response, appending it to any client-only cookie the caller already
// extracted.
func (v *Validator) IssueCookie(clientIP net.IP, clientCookie []byte) []byte {
	return v.jar.Issue(clientIP, clientCookie)
}

// Cleanup evicts sources idle past 24 hours and cookies past their
// configured lifetime, mirroring cleanup_old_data.
func (v *Validator) Cleanup() {
	const maxSourceAge = 24 * time.Hour
	now := time.Now()

	v.mu.Lock()
	for k, info := range v.sources {
		if now.Sub(info.lastSeen) > maxSourceAge {
			delete(v.sources, k)
		}
	}
	v.mu.Unlock()

	v.jar.sweep(v.cfg.CookieLifetime)
}

func (v *Validator) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}
