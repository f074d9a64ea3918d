package cache

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardendns/warden/pkg/wire"
)

func aRecord(name string, ttl uint32, ip string) wire.Record {
	return wire.Record{Name: name, TTL: wire.TTL{Seconds: ttl}, Data: wire.ARecord{IP: net.ParseIP(ip)}}
}

func TestLookupHitAndCaseInsensitive(t *testing.T) {
	c := New(4, 0, nil)
	c.Store([]wire.Record{aRecord("example.com.", 3600, "93.184.216.34")}, wire.TypeA)

	status, msg := c.Lookup("example.com.", wire.TypeA)
	require.Equal(t, PositiveHit, status)
	require.Len(t, msg.Answer, 1)

	status, msg = c.Lookup("EXAMPLE.COM.", wire.TypeA)
	require.Equal(t, PositiveHit, status)
	require.Len(t, msg.Answer, 1)

	status, _ = c.Lookup("example.com.", wire.TypeAAAA)
	require.Equal(t, Miss, status)
}

func TestNegativeCacheNXDomain(t *testing.T) {
	c := New(4, 0, nil)
	c.StoreNXDomain("www.yahoo.com.", wire.TypeA, 3600)

	status, msg := c.Lookup("www.yahoo.com.", wire.TypeA)
	require.Equal(t, NegativeHit, status)
	require.Equal(t, wire.ResultNXDomain, msg.Header.Rcode)
	require.Empty(t, msg.Answer)
}

func TestNegativeCacheZeroTTLNeverHits(t *testing.T) {
	c := New(4, 0, nil)
	c.StoreNXDomain("zero.example.", wire.TypeA, 0)

	status, _ := c.Lookup("zero.example.", wire.TypeA)
	require.Equal(t, Miss, status)
}

func TestStoreIsIdempotentNoDuplicates(t *testing.T) {
	c := New(4, 0, nil)
	rec := aRecord("dup.example.", 60, "1.2.3.4")
	c.Store([]wire.Record{rec}, wire.TypeA)
	c.Store([]wire.Record{rec}, wire.TypeA)

	_, msg := c.Lookup("dup.example.", wire.TypeA)
	require.Len(t, msg.Answer, 1)
}

func TestAllExpiredIsMiss(t *testing.T) {
	c := New(1, 0, nil)
	c.Store([]wire.Record{aRecord("expired.example.", 1, "1.2.3.4")}, wire.TypeA)

	// Force expiry by waiting past the 1-second TTL.
	time.Sleep(1100 * time.Millisecond)

	status, _ := c.Lookup("expired.example.", wire.TypeA)
	require.Equal(t, Miss, status)
}

func TestFreshnessInvariant(t *testing.T) {
	c := New(4, 0, nil)
	c.Store([]wire.Record{aRecord("fresh.example.", 3600, "1.2.3.4")}, wire.TypeA)

	status, msg := c.Lookup("fresh.example.", wire.TypeA)
	require.Equal(t, PositiveHit, status)
	require.Len(t, msg.Answer, 1)
	// now < stored_at + ttl holds trivially right after store.
}

func TestStatsHitRate(t *testing.T) {
	c := New(4, 0, nil)
	c.Store([]wire.Record{aRecord("stats.example.", 60, "1.2.3.4")}, wire.TypeA)
	c.Lookup("stats.example.", wire.TypeA)
	c.Lookup("missing.example.", wire.TypeA)

	stats := c.Stats()
	require.EqualValues(t, 1, stats.Hits)
	require.EqualValues(t, 1, stats.Misses)
	require.InDelta(t, 0.5, stats.HitRate, 1e-9)
}
