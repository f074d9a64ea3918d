package ddos

import (
	"net"
	"sync"
	"time"

	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/logging"
)

// Verdict is the per-query outcome of Detector.Check.
type Verdict struct {
	Allowed    bool
	ThreatLevel ThreatLevel
	AttackType  AttackType
	Mitigation  MitigationAction
	Reason      string
}

// Stats mirrors DDoSMetrics.
type Stats struct {
	TotalQueries      uint64
	BlockedQueries    uint64
	AttacksDetected   uint64
	EntropyDetections uint64
	CurrentThreat     ThreatLevel
}

// Detector runs the five parallel signals against each query and selects
// a mitigation from a priority-ordered rule list.
type Detector struct {
	cfg    config.DDoSConfig
	logger *logging.Logger

	whitelist map[string]struct{}
	volumetric *volumetricTracker
	conns      *connectionTracker
	patterns   []patternSignature
	mitigation *MitigationEngine
	blocked    map[string]time.Time

	mu    sync.Mutex
	stats Stats
}

func New(cfg config.DDoSConfig, logger *logging.Logger) *Detector {
	wl := make(map[string]struct{}, len(cfg.Whitelist))
	for _, ip := range cfg.Whitelist {
		wl[ip] = struct{}{}
	}
	d := &Detector{
		cfg:        cfg,
		logger:     logger,
		whitelist:  wl,
		volumetric: newVolumetricTracker(cfg.VolumetricWindow),
		conns:      newConnectionTracker(),
		patterns:   defaultPatternSignatures(),
		mitigation: NewMitigationEngine(),
		blocked:    make(map[string]time.Time),
	}
	for _, r := range DefaultMitigationRules() {
		_ = d.mitigation.AddRule(r)
	}
	return d
}

// AddMitigationRule lets a caller extend or override the default rule set.
func (d *Detector) AddMitigationRule(r *MitigationRule) error {
	return d.mitigation.AddRule(r)
}

// Query describes the single DNS query Check evaluates.
type Query struct {
	ClientIP  net.IP
	Domain    string
	QType     string
	WireBytes int
}

// Check runs every enabled signal against q and returns a Verdict. A
// blocked IP is rejected outright without re-running signals, mirroring
// MitigationAction::BlockIp being sticky for the configured duration.
func (d *Detector) Check(q Query, now time.Time) Verdict {
	if !d.cfg.Enabled {
		return Verdict{Allowed: true}
	}

	client := q.ClientIP.String()
	if _, ok := d.whitelist[client]; ok {
		return Verdict{Allowed: true}
	}

	d.mu.Lock()
	d.stats.TotalQueries++
	if until, ok := d.blocked[client]; ok {
		if now.Before(until) {
			d.stats.BlockedQueries++
			d.mu.Unlock()
			return Verdict{Allowed: false, ThreatLevel: ThreatCritical, Mitigation: MitigationBlockIP, Reason: "client blocked"}
		}
		delete(d.blocked, client)
	}
	d.mu.Unlock()

	level := ThreatNone
	attack := AttackNone

	rate := d.volumetric.record(now)
	if d.cfg.VolumetricQPSThreshold > 0 && rate > d.cfg.VolumetricQPSThreshold {
		level = maxThreat(level, ThreatHigh)
		attack = AttackVolumetricFlood
	}

	if ratio := amplificationRatio(q.QType, q.WireBytes); ratio > 0 && d.cfg.AmplificationRatio > 0 && ratio > d.cfg.AmplificationRatio {
		level = maxThreat(level, ThreatHigh)
		attack = AttackAmplification
	}

	entropy := shannonEntropy(firstLabel(q.Domain))
	if d.cfg.EntropyThreshold > 0 && entropy > d.cfg.EntropyThreshold {
		level = maxThreat(level, ThreatHigh)
		attack = AttackRandomSubdomain
		d.mu.Lock()
		d.stats.EntropyDetections++
		d.mu.Unlock()
	}

	if d.cfg.MaxConnectionsPerIP > 0 {
		if n := d.conns.increment(client); n > d.cfg.MaxConnectionsPerIP {
			level = maxThreat(level, ThreatMedium)
			if attack == AttackNone {
				attack = AttackConnectionFlood
			}
		}
	}

	for _, p := range d.patterns {
		if p.matcher(q.Domain) {
			level = maxThreat(level, p.severity)
			if attack == AttackNone {
				attack = AttackPatternAnomaly
			}
		}
	}

	if level == ThreatNone {
		d.mu.Lock()
		d.stats.CurrentThreat = ThreatNone
		d.mu.Unlock()
		return Verdict{Allowed: true}
	}

	d.mu.Lock()
	d.stats.AttacksDetected++
	d.stats.CurrentThreat = level
	d.mu.Unlock()

	rule, matched := d.mitigation.Select(level, attack)
	verdict := Verdict{Allowed: true, ThreatLevel: level, AttackType: attack}
	if !matched {
		return verdict
	}
	verdict.Mitigation = rule.Action
	verdict.Reason = rule.Name

	switch rule.Action {
	case MitigationBlockIP:
		d.mu.Lock()
		d.blocked[client] = now.Add(d.cfg.MitigationDuration())
		d.stats.BlockedQueries++
		d.mu.Unlock()
		verdict.Allowed = false
	case MitigationChallenge, MitigationRequireCookie:
		verdict.Allowed = false
	case MitigationTarpit, MitigationRateLimit, MitigationRedirect:
		verdict.Allowed = true
	}
	return verdict
}

// ReleaseConnection decrements the active connection count for a client,
// called when a TCP connection closes.
func (d *Detector) ReleaseConnection(clientIP net.IP) {
	d.conns.decrement(clientIP.String())
}

func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
