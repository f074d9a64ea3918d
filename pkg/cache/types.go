package cache

import (
	"time"

	"github.com/wardendns/warden/pkg/wire"
)

// storedRecord pairs a wire record with the time it was cached, so
// freshness (stored_at + ttl > now) can be checked without mutating the
// record itself.
type storedRecord struct {
	Record   wire.Record
	StoredAt time.Time
}

func (s storedRecord) expired(now time.Time) bool {
	return !now.Before(s.StoredAt.Add(time.Duration(s.Record.TTL.Seconds) * time.Second))
}

// RecordSet is either a negative entry (NoRecords) or a positive one
// (Records), . A set never mixes qtypes — it belongs to
// exactly one (domain, qtype) pair — and deduplicates by payload equality
// (wire.Record.Equal, which ignores TTL).
type RecordSet struct {
	QType    wire.Type
	Negative bool
	// NegativeTTL / NegativeStoredAt are meaningful iff Negative.
	NegativeTTL      uint32
	NegativeStoredAt time.Time
	// records backs the positive case. Unexported, so code outside this
	// package cannot bypass the dedup-on-store invariant.
	records []storedRecord
}

// addOrReplace inserts rec, replacing the stored_at of an existing
// payload-equal entry instead of duplicating it.
func (rs *RecordSet) addOrReplace(rec wire.Record, now time.Time) {
	for i := range rs.records {
		if rs.records[i].Record.Equal(rec) {
			rs.records[i] = storedRecord{Record: rec, StoredAt: now}
			return
		}
	}
	rs.records = append(rs.records, storedRecord{Record: rec, StoredAt: now})
}

// freshRecords returns the records that have not expired as of now. Expired
// entries are skipped, not removed; they stay in the set until a later
// Store replaces them or the whole domain entry is evicted.
func (rs *RecordSet) freshRecords(now time.Time) []wire.Record {
	if rs == nil || rs.Negative {
		return nil
	}
	out := make([]wire.Record, 0, len(rs.records))
	for _, sr := range rs.records {
		if !sr.expired(now) {
			out = append(out, sr.Record)
		}
	}
	return out
}

// allExpired reports whether a positive set exists but every member has
// expired — that case resolves to Miss rather than a stale hit.
func (rs *RecordSet) allExpired(now time.Time) bool {
	if rs == nil || rs.Negative || len(rs.records) == 0 {
		return false
	}
	for _, sr := range rs.records {
		if !sr.expired(now) {
			return false
		}
	}
	return true
}

func (rs *RecordSet) negativeExpired(now time.Time) bool {
	return !now.Before(rs.NegativeStoredAt.Add(time.Duration(rs.NegativeTTL) * time.Second))
}

// DomainEntry is the per-owner-name record, . The invariant
// "the qtype key equals every RecordSet's qtype" is maintained by always
// storing at key Sets[qtype].QType == qtype.
type DomainEntry struct {
	Owner   string
	Sets    map[wire.Type]*RecordSet
	Hits    uint64
	Updates uint64
}

func newDomainEntry(owner string) *DomainEntry {
	return &DomainEntry{Owner: owner, Sets: make(map[wire.Type]*RecordSet)}
}
