// Package ddos implements an attack detector: five parallel
// signals (volumetric, amplification, random-subdomain entropy, connection
// count, pattern anomaly) feeding a None<Low<Medium<High<Critical threat
// level lattice, plus a priority-ordered, expr-lang-conditioned mitigation
// rule list.
package ddos

import (
	"math"
	"strings"
	"sync"
	"time"
)

// ThreatLevel is a total order, None < Low < Medium < High < Critical.
type ThreatLevel int

const (
	ThreatNone ThreatLevel = iota
	ThreatLow
	ThreatMedium
	ThreatHigh
	ThreatCritical
)

func (t ThreatLevel) String() string {
	switch t {
	case ThreatLow:
		return "low"
	case ThreatMedium:
		return "medium"
	case ThreatHigh:
		return "high"
	case ThreatCritical:
		return "critical"
	default:
		return "none"
	}
}

func maxThreat(a, b ThreatLevel) ThreatLevel {
	if b > a {
		return b
	}
	return a
}

// AttackType names which signal raised the threat level, mirroring
// AttackType in the original.
type AttackType int

const (
	AttackNone AttackType = iota
	AttackVolumetricFlood
	AttackAmplification
	AttackRandomSubdomain
	AttackConnectionFlood
	AttackPatternAnomaly
)

func (a AttackType) String() string {
	switch a {
	case AttackVolumetricFlood:
		return "volumetric_flood"
	case AttackAmplification:
		return "amplification"
	case AttackRandomSubdomain:
		return "random_subdomain"
	case AttackConnectionFlood:
		return "connection_flood"
	case AttackPatternAnomaly:
		return "pattern_anomaly"
	default:
		return "none"
	}
}

// volumetricTracker holds one rolling window of query timestamps shared by
// all clients, mirroring AttackDetector.query_rates: the rate it reports is
// the server-wide aggregate, not a per-source-IP rate.
type volumetricTracker struct {
	mu     sync.Mutex
	window time.Duration
	stamps []time.Time
}

func newVolumetricTracker(window time.Duration) *volumetricTracker {
	return &volumetricTracker{window: window}
}

// record appends now and returns the queries-per-second rate observed over
// the trailing window.
func (v *volumetricTracker) record(now time.Time) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	cutoff := now.Add(-v.window)
	kept := v.stamps[:0]
	for _, s := range v.stamps {
		if s.After(cutoff) {
			kept = append(kept, s)
		}
	}
	kept = append(kept, now)
	v.stamps = kept
	secs := v.window.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(len(v.stamps)) / secs
}

// amplificationRatio estimates the ratio of a query's expected response
// size to its request size for query classes known to amplify (ANY, TXT,
// DNSKEY), mirroring detect_amplification's small-query-large-answer
// heuristic without needing a real upstream round trip.
func amplificationRatio(qtype string, queryLen int) float64 {
	var estResponseLen int
	switch strings.ToUpper(qtype) {
	case "ANY":
		estResponseLen = 4096
	case "TXT":
		estResponseLen = 2048
	case "DNSKEY", "RRSIG", "DNSSEC":
		estResponseLen = 1500
	default:
		return 0
	}
	if queryLen <= 0 {
		queryLen = 1
	}
	return float64(estResponseLen) / float64(queryLen)
}

// shannonEntropy computes the Shannon entropy, in bits per character, of a
// domain label — high entropy is characteristic of DGA-generated or
// tunneled subdomains, mirroring EntropyDetector's calculate_entropy.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	n := float64(len(s))
	var entropy float64
	for _, c := range counts {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// firstLabel returns the leftmost label of a domain name, the part most
// likely to carry randomized subdomain content.
func firstLabel(domain string) string {
	domain = strings.TrimSuffix(domain, ".")
	if i := strings.IndexByte(domain, '.'); i >= 0 {
		return domain[:i]
	}
	return domain
}

// connectionTracker counts concurrently active connections per source IP,
// mirroring ConnectionLimiter.
type connectionTracker struct {
	mu    sync.Mutex
	count map[string]int
}

func newConnectionTracker() *connectionTracker {
	return &connectionTracker{count: make(map[string]int)}
}

func (c *connectionTracker) increment(client string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count[client]++
	return c.count[client]
}

func (c *connectionTracker) decrement(client string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count[client] > 0 {
		c.count[client]--
		if c.count[client] == 0 {
			delete(c.count, client)
		}
	}
}

// patternSignature is a pattern-anomaly detector built from a plain Go
// predicate (hex-ratio and label-count checks); no regular expressions are
// used. It carries its own severity per match rather than a bare bool.
type patternSignature struct {
	name     string
	matcher  func(domain string) bool
	severity ThreatLevel
}

func defaultPatternSignatures() []patternSignature {
	return []patternSignature{
		{
			name: "long_hex_subdomain",
			matcher: func(domain string) bool {
				label := firstLabel(domain)
				return len(label) >= 32 && isHexLike(label)
			},
			severity: ThreatMedium,
		},
		{
			name: "excessive_label_count",
			matcher: func(domain string) bool {
				return strings.Count(strings.TrimSuffix(domain, "."), ".") >= 10
			},
			severity: ThreatLow,
		},
	}
}

func isHexLike(s string) bool {
	hexCount := 0
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F') {
			hexCount++
		}
	}
	return float64(hexCount)/float64(len(s)) > 0.9
}
