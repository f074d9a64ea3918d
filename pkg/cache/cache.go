// Package cache implements the sharded, TTL-aware DNS response cache.
// Sharding by domain hash serializes writes per-domain while readers
// always see a committed RecordSet, and a reader on one domain never
// blocks a writer on another beyond a single short-lived map lookup.
package cache

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/wardendns/warden/pkg/logging"
	"github.com/wardendns/warden/pkg/wire"
)

// Status is the three-way lookup outcome.
type Status int

const (
	Miss Status = iota
	PositiveHit
	NegativeHit
)

func (s Status) String() string {
	switch s {
	case PositiveHit:
		return "positive_hit"
	case NegativeHit:
		return "negative_hit"
	default:
		return "miss"
	}
}

// Stats mirrors its cache.Stats shape.
type Stats struct {
	Hits, Misses, Sets, Evictions uint64
	Entries                       int
	HitRate                       float64
}

const defaultShardCount = 32

// Cache is the sharded store. Each shard is an independent RWMutex-guarded
// map so concurrent queries against different domains never contend.
type Cache struct {
	shards     []*shard
	shardMask  uint32
	logger     *logging.Logger
	maxEntries int // total across all shards; 0 means unbounded
}

type shard struct {
	mu      sync.RWMutex
	domains map[string]*DomainEntry
	hits    uint64
	misses  uint64
	sets    uint64
	evicted uint64
}

// New creates a Cache with shardCount shards (rounded up to a power of two
// internally). maxEntries bounds the total domain-entry count across all
// shards combined; 0 disables the bound.
func New(shardCount int, maxEntries int, logger *logging.Logger) *Cache {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	n := nextPowerOfTwo(shardCount)
	c := &Cache{
		shards:     make([]*shard, n),
		shardMask:  uint32(n - 1),
		logger:     logger,
		maxEntries: maxEntries,
	}
	for i := range c.shards {
		c.shards[i] = &shard{domains: make(map[string]*DomainEntry)}
	}
	return c
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// normalize lowercases the owner name for case-insensitive lookup/store.
func normalize(name string) string {
	return strings.ToLower(name)
}

func (c *Cache) shardFor(domain string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(domain))
	return c.shards[h.Sum32()&c.shardMask]
}

// Lookup implements the three-way Miss/PositiveHit/NegativeHit contract.
func (c *Cache) Lookup(qname string, qtype wire.Type) (Status, *wire.Message) {
	domain := normalize(qname)
	sh := c.shardFor(domain)
	now := time.Now()

	sh.mu.RLock()
	entry, found := sh.domains[domain]
	sh.mu.RUnlock()

	if !found {
		sh.mu.Lock()
		sh.misses++
		sh.mu.Unlock()
		return Miss, nil
	}

	sh.mu.Lock()
	rs := entry.Sets[qtype]
	if rs == nil {
		sh.misses++
		sh.mu.Unlock()
		return Miss, nil
	}

	if rs.Negative {
		if rs.negativeExpired(now) {
			sh.misses++
			sh.mu.Unlock()
			return Miss, nil
		}
		entry.Hits++
		sh.hits++
		sh.mu.Unlock()
		return NegativeHit, negativeMessage(qname, qtype)
	}

	if rs.allExpired(now) {
		// A positive set whose every member has expired resolves to Miss.
		sh.misses++
		sh.mu.Unlock()
		return Miss, nil
	}

	fresh := rs.freshRecords(now)
	if len(fresh) == 0 {
		sh.misses++
		sh.mu.Unlock()
		return Miss, nil
	}
	entry.Hits++
	sh.hits++

	var ns []wire.Record
	if nsSet := entry.Sets[wire.TypeNS]; nsSet != nil && !nsSet.Negative {
		ns = nsSet.freshRecords(now)
	}
	sh.mu.Unlock()

	return PositiveHit, positiveMessage(qname, qtype, fresh, ns)
}

func positiveMessage(qname string, qtype wire.Type, answers, authority []wire.Record) *wire.Message {
	m := &wire.Message{
		Header: wire.Header{Response: true, RecursionAvailable: true, Rcode: wire.ResultNoError},
		Question: []wire.Question{{Name: qname, Type: qtype, Class: wire.ClassIN}},
		Answer:    answers,
		Authority: authority,
	}
	m.SetQuestionCounts()
	return m
}

func negativeMessage(qname string, qtype wire.Type) *wire.Message {
	m := &wire.Message{
		Header: wire.Header{Response: true, RecursionAvailable: true, Rcode: wire.ResultNXDomain},
		Question: []wire.Question{{Name: qname, Type: qtype, Class: wire.ClassIN}},
	}
	m.SetQuestionCounts()
	return m
}

// Store inserts records, grouped by (owner, qtype), idempotently. All
// records for the same owner/qtype share one write-lock acquisition.
func (c *Cache) Store(records []wire.Record, qtype wire.Type) {
	if len(records) == 0 {
		return
	}
	now := time.Now()

	byDomain := make(map[string][]wire.Record)
	for _, r := range records {
		d := normalize(r.Name)
		byDomain[d] = append(byDomain[d], r)
	}

	for domain, recs := range byDomain {
		sh := c.shardFor(domain)
		sh.mu.Lock()
		entry, found := sh.domains[domain]
		if !found {
			entry = newDomainEntry(domain)
			sh.domains[domain] = entry
			c.maybeEvict(sh, domain)
		}
		rs := entry.Sets[qtype]
		if rs == nil || rs.Negative {
			rs = &RecordSet{QType: qtype}
			entry.Sets[qtype] = rs
		}
		for _, r := range recs {
			rs.addOrReplace(r, now)
		}
		entry.Updates++
		sh.sets++
		sh.mu.Unlock()
	}
}

// StoreNXDomain installs a negative cache entry. A ttl of zero stores an
// immediately-expired entry that is never returned.
func (c *Cache) StoreNXDomain(qname string, qtype wire.Type, ttlSeconds uint32) {
	domain := normalize(qname)
	sh := c.shardFor(domain)
	now := time.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, found := sh.domains[domain]
	if !found {
		entry = newDomainEntry(domain)
		sh.domains[domain] = entry
		c.maybeEvict(sh, domain)
	}
	entry.Sets[qtype] = &RecordSet{
		QType:            qtype,
		Negative:         true,
		NegativeTTL:      ttlSeconds,
		NegativeStoredAt: now,
	}
	entry.Updates++
	sh.sets++
}

// maybeEvict drops one domain entry in sh other than keep (the entry just
// inserted) when the cache's global bound is exceeded. The victim is
// whichever entry map iteration yields first, not the least recently used.
// Must be called with sh.mu held. This is a coarse per-shard bound
// (maxEntries / shardCount) that needs no cross-shard lock.
func (c *Cache) maybeEvict(sh *shard, keep string) {
	if c.maxEntries <= 0 {
		return
	}
	perShardLimit := c.maxEntries / len(c.shards)
	if perShardLimit <= 0 {
		perShardLimit = 1
	}
	if len(sh.domains) <= perShardLimit {
		return
	}
	for k := range sh.domains {
		if k == keep {
			continue
		}
		delete(sh.domains, k)
		sh.evicted++
		break
	}
}

// Stats aggregates counters across all shards.
func (c *Cache) Stats() Stats {
	var s Stats
	for _, sh := range c.shards {
		sh.mu.RLock()
		s.Hits += sh.hits
		s.Misses += sh.misses
		s.Sets += sh.sets
		s.Evictions += sh.evicted
		s.Entries += len(sh.domains)
		sh.mu.RUnlock()
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Clear empties every shard.
func (c *Cache) Clear() {
	for _, sh := range c.shards {
		sh.mu.Lock()
		sh.domains = make(map[string]*DomainEntry)
		sh.mu.Unlock()
	}
}
