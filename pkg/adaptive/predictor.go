// Package adaptive wraps pkg/cache with TTL prediction and predictive
// prefetching.
package adaptive

import (
	"math"
	"sync"
	"time"

	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/wire"
)

// queryPattern is one observed query, grounded on adaptive_cache.rs's
// QueryPattern.
type queryPattern struct {
	domain          string
	qtype           wire.Type
	timestamp       time.Time
	interArrival    time.Duration
	hasInterArrival bool
	hourOfDay       int
}

// weights mirrors PredictionWeights; re-normalized to sum to 1 after every
// feedback update.
type weights struct {
	recency    float64
	frequency  float64
	temporal   float64
	popularity float64
	multiplier float64
}

func defaultWeights() weights {
	return weights{recency: 0.3, frequency: 0.4, temporal: 0.2, popularity: 0.1, multiplier: 1.0}
}

type features struct {
	hourlyFrequency  float64
	dailyFrequency   float64
	avgInterArrival  float64
	domainPopularity float64
	temporalStrength float64
}

// Feedback reports observed cache effectiveness back into the predictor.
type Feedback struct {
	Effectiveness        float64
	HitRateImprovement    float64
	ResponseTimeImprovement float64
}

// ttlPredictor holds the query history and weights used to adjust TTLs and
// rank prefetch candidates. Safe for concurrent use: every method takes the
// predictor's own mutex.
type ttlPredictor struct {
	mu      sync.Mutex
	history []queryPattern
	w       weights
	cfg     config.AdaptiveCacheConfig
}

const maxHistorySize = 10000

func newTTLPredictor(cfg config.AdaptiveCacheConfig) *ttlPredictor {
	return &ttlPredictor{w: defaultWeights(), cfg: cfg}
}

// recordQuery appends a query observation, trimming the oldest entries once
// history exceeds maxHistorySize (ring-buffer discipline from
// adaptive_cache.rs's VecDeque-backed history).
func (p *ttlPredictor) recordQuery(domain string, qtype wire.Type, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var interArrival time.Duration
	hasInterArrival := false
	for i := len(p.history) - 1; i >= 0; i-- {
		if p.history[i].domain == domain && p.history[i].qtype == qtype {
			interArrival = now.Sub(p.history[i].timestamp)
			hasInterArrival = true
			break
		}
	}

	p.history = append(p.history, queryPattern{
		domain:          domain,
		qtype:           qtype,
		timestamp:       now,
		interArrival:    interArrival,
		hasInterArrival: hasInterArrival,
		hourOfDay:       now.Hour(),
	})
	if len(p.history) > maxHistorySize {
		p.history = p.history[len(p.history)-maxHistorySize:]
	}
}

// extractFeatures computes the per-query feature vector: hourly/daily
// count, inter-arrival mean, domain popularity, temporal-pattern strength.
func (p *ttlPredictor) extractFeatures(domain string, qtype wire.Type, now time.Time) features {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.extractFeaturesLocked(domain, qtype, now)
}

func (p *ttlPredictor) extractFeaturesLocked(domain string, qtype wire.Type, now time.Time) features {
	hourAgo := now.Add(-time.Hour)
	dayAgo := now.Add(-24 * time.Hour)

	var hourly, daily, domainTotal, total float64
	var interArrivalSum float64
	var interArrivalCount int
	var hours []float64

	for _, rec := range p.history {
		total++
		if rec.domain != domain {
			continue
		}
		domainTotal++
		if rec.qtype == qtype {
			if rec.timestamp.After(hourAgo) {
				hourly++
			}
			if rec.timestamp.After(dayAgo) {
				daily++
			}
			if rec.hasInterArrival {
				interArrivalSum += rec.interArrival.Seconds()
				interArrivalCount++
			}
			hours = append(hours, float64(rec.hourOfDay))
		}
	}

	avgInterArrival := 0.0
	if interArrivalCount > 0 {
		avgInterArrival = interArrivalSum / float64(interArrivalCount)
	}

	popularity := 0.0
	if total > 0 {
		popularity = domainTotal / total
	}

	temporal := temporalPatternStrength(hours)

	return features{
		hourlyFrequency:  hourly,
		dailyFrequency:   daily,
		avgInterArrival:  avgInterArrival,
		domainPopularity: popularity,
		temporalStrength: temporal,
	}
}

// temporalPatternStrength is lower-variance-means-stronger-pattern, per
// adaptive_cache.rs's calculate_temporal_pattern: fewer than 10 samples is
// not enough signal.
func temporalPatternStrength(hours []float64) float64 {
	if len(hours) < 10 {
		return 0.0
	}
	mean := 0.0
	for _, h := range hours {
		mean += h
	}
	mean /= float64(len(hours))

	variance := 0.0
	for _, h := range hours {
		d := h - mean
		variance += d * d
	}
	variance /= float64(len(hours))

	return 1.0 / (1.0 + math.Sqrt(variance))
}

// score combines the feature vector into a weighted sum, normalized to
// the 0.1-2.0 multiplier range.
func (p *ttlPredictor) score(f features) float64 {
	p.mu.Lock()
	w := p.w
	p.mu.Unlock()

	recencyScore := 1.0 / (1.0 + f.avgInterArrival/3600.0)
	frequencyScore := (f.hourlyFrequency + f.dailyFrequency) / 2.0
	temporalScore := f.temporalStrength
	popularityScore := f.domainPopularity

	total := recencyScore*w.recency + frequencyScore*w.frequency +
		temporalScore*w.temporal + popularityScore*w.popularity

	s := total * 2.0
	if s < 0.1 {
		s = 0.1
	}
	if s > 2.0 {
		s = 2.0
	}
	return s
}

// predictTTL clamps the adjusted TTL to [MinTTL, MaxTTL].
func (p *ttlPredictor) predictTTL(domain string, qtype wire.Type, originalTTL uint32, now time.Time) uint32 {
	f := p.extractFeatures(domain, qtype, now)
	s := p.score(f)

	p.mu.Lock()
	mult := p.w.multiplier
	p.mu.Unlock()

	adjusted := uint32(float64(originalTTL) * s * mult)
	if adjusted < p.cfg.MinTTL {
		adjusted = p.cfg.MinTTL
	}
	if adjusted > p.cfg.MaxTTL {
		adjusted = p.cfg.MaxTTL
	}
	return adjusted
}

// prefetchPriority weights recency/frequency/popularity into a single
// priority score: 0.5·hourly + 0.3·daily + 0.2·popularity.
func prefetchPriority(f features) float64 {
	return f.hourlyFrequency*0.5 + f.dailyFrequency*0.3 + f.domainPopularity*0.2
}

// updateWeights applies feedback.effectiveness scaled by a fixed learning
// rate, then re-normalizes so the four weights sum to 1 (adaptive_cache.rs's
// update_weights).
func (p *ttlPredictor) updateWeights(fb Feedback) {
	const learningRate = 0.01

	p.mu.Lock()
	defer p.mu.Unlock()

	adjustment := fb.Effectiveness * learningRate
	if fb.HitRateImprovement > 0 {
		p.w.frequency *= 1.0 + adjustment
		p.w.recency *= 1.0 + adjustment
	} else {
		p.w.frequency *= 1.0 - adjustment
		p.w.recency *= 1.0 - adjustment
	}

	total := p.w.recency + p.w.frequency + p.w.temporal + p.w.popularity
	if total > 0 {
		p.w.recency /= total
		p.w.frequency /= total
		p.w.temporal /= total
		p.w.popularity /= total
	}
}
