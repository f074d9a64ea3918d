package adaptive

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/wardendns/warden/pkg/cache"
	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/logging"
	"github.com/wardendns/warden/pkg/wire"
)

// Statistics mirrors adaptive_cache.rs's CacheStatistics.
type Statistics struct {
	TotalQueries         uint64
	CacheHits            uint64
	CacheMisses          uint64
	TTLAdjustments       uint64
	SuccessfulPrefetches uint64
	FailedPrefetches     uint64
	HitRate              float64
}

// Cache wraps a *cache.Cache with TTL prediction on store and predictive
// prefetch on miss, .
type Cache struct {
	base      *cache.Cache
	predictor *ttlPredictor
	queue     *prefetchQueue
	cfg       config.AdaptiveCacheConfig
	logger    *logging.Logger

	totalQueries uint64
	cacheHits    uint64
	cacheMisses  uint64
	ttlAdjusted  uint64
	prefetchOK   uint64
	prefetchFail uint64

	mu sync.Mutex
}

// New builds an adaptive cache in front of base. refresh is used by the
// prefetch worker pool to re-resolve domains it decides are worth
// refreshing ahead of expiry; pkg/server passes its resolver's refresh
// method.
func New(base *cache.Cache, cfg config.AdaptiveCacheConfig, refresh Refresher, logger *logging.Logger) *Cache {
	c := &Cache{
		base:      base,
		predictor: newTTLPredictor(cfg),
		cfg:       cfg,
		logger:    logger,
	}
	if cfg.Enabled && refresh != nil {
		c.queue = newPrefetchQueue(cfg.PrefetchQueueSize, cfg.PrefetchWorkers, refresh, c.recordPrefetchOutcome)
	}
	return c
}

func (c *Cache) recordPrefetchOutcome(success bool) {
	if success {
		atomic.AddUint64(&c.prefetchOK, 1)
	} else {
		atomic.AddUint64(&c.prefetchFail, 1)
	}
}

// Lookup records the query pattern, delegates to the base cache, and on
// miss considers the domain for prefetching.
func (c *Cache) Lookup(qname string, qtype wire.Type) (cache.Status, *wire.Message) {
	now := time.Now()
	atomic.AddUint64(&c.totalQueries, 1)

	if c.cfg.Enabled {
		c.predictor.recordQuery(qname, qtype, now)
	}

	status, msg := c.base.Lookup(qname, qtype)

	if status == cache.Miss {
		atomic.AddUint64(&c.cacheMisses, 1)
		if c.cfg.Enabled && c.queue != nil {
			c.considerPrefetch(qname, qtype, now)
		}
	} else {
		atomic.AddUint64(&c.cacheHits, 1)
	}

	return status, msg
}

// considerPrefetch scores the domain and enqueues it when priority crosses
// the configured threshold.
func (c *Cache) considerPrefetch(qname string, qtype wire.Type, now time.Time) {
	f := c.predictor.extractFeatures(qname, qtype, now)
	priority := prefetchPriority(f)
	if priority > c.cfg.PrefetchThreshold {
		c.queue.enqueue(prefetchEntry{domain: qname, qtype: qtype, priority: priority})
	}
}

// Store adjusts each record's TTL via the predictor before delegating to the
// base cache, unless prediction is disabled.
func (c *Cache) Store(records []wire.Record, qtype wire.Type) {
	if !c.cfg.Enabled {
		c.base.Store(records, qtype)
		return
	}

	now := time.Now()
	adjusted := make([]wire.Record, len(records))
	for i, r := range records {
		predicted := c.predictor.predictTTL(r.Name, qtype, r.TTL.Seconds, now)
		if predicted != r.TTL.Seconds {
			atomic.AddUint64(&c.ttlAdjusted, 1)
			if c.logger != nil {
				c.logger.Debug("adjusted TTL", "domain", r.Name, "from", r.TTL.Seconds, "to", predicted)
			}
		}
		r.TTL = wire.TTL{Seconds: predicted}
		adjusted[i] = r
	}
	c.base.Store(adjusted, qtype)
}

// StoreNXDomain delegates directly; negative-cache TTLs are not subject to
// prediction.
func (c *Cache) StoreNXDomain(qname string, qtype wire.Type, ttlSeconds uint32) {
	c.base.StoreNXDomain(qname, qtype, ttlSeconds)
}

// Feedback forwards observed effectiveness into the predictor's weights.
func (c *Cache) Feedback(fb Feedback) {
	c.predictor.updateWeights(fb)
}

// Statistics reports the rolling hit/miss/prefetch counters.
func (c *Cache) Statistics() Statistics {
	total := atomic.LoadUint64(&c.totalQueries)
	hits := atomic.LoadUint64(&c.cacheHits)
	misses := atomic.LoadUint64(&c.cacheMisses)

	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Statistics{
		TotalQueries:         total,
		CacheHits:            hits,
		CacheMisses:          misses,
		TTLAdjustments:       atomic.LoadUint64(&c.ttlAdjusted),
		SuccessfulPrefetches: atomic.LoadUint64(&c.prefetchOK),
		FailedPrefetches:     atomic.LoadUint64(&c.prefetchFail),
		HitRate:              hitRate,
	}
}

// Close stops the prefetch worker pool, if one is running.
func (c *Cache) Close() {
	if c.queue != nil {
		c.queue.close()
	}
}
