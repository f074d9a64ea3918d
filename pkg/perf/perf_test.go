package perf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardendns/warden/pkg/config"
)

func TestBufferPoolClassifiesBySize(t *testing.T) {
	p := NewBufferPool(512, 2048, 8192)

	small := p.Get(100)
	require.Len(t, small, 100)
	p.Put(small)

	medium := p.Get(1000)
	require.Len(t, medium, 1000)
	p.Put(medium)

	large := p.Get(4000)
	require.Len(t, large, 4000)
	p.Put(large)

	stats := p.Stats()
	require.Equal(t, uint64(1), stats.SmallGets)
	require.Equal(t, uint64(1), stats.MediumGets)
	require.Equal(t, uint64(1), stats.LargeGets)
	require.Equal(t, uint64(3), stats.TotalGets)
	require.Equal(t, uint64(3), stats.TotalPuts)
}

func TestBufferPoolGrowsBeyondTierCapacity(t *testing.T) {
	p := NewBufferPool(512, 2048, 8192)
	buf := p.Get(20000)
	require.Len(t, buf, 20000)
}

func TestResponseTimeTrackerComputesAchievementRate(t *testing.T) {
	tr := NewResponseTimeTracker(10, 100)
	tr.Record(5 * time.Millisecond)
	tr.Record(20 * time.Millisecond)

	stats := tr.Stats()
	require.Equal(t, uint64(2), stats.TotalQueries)
	require.Equal(t, uint64(1), stats.QueriesMeetingTarget)
	require.InDelta(t, 50.0, stats.TargetAchievementRate, 0.01)
	require.InDelta(t, 5.0, stats.MinMS, 0.01)
	require.InDelta(t, 20.0, stats.MaxMS, 0.01)
}

func TestResponseTimeTrackerComputesPercentiles(t *testing.T) {
	tr := NewResponseTimeTracker(10, 1000)
	for i := 1; i <= 100; i++ {
		tr.Record(time.Duration(i) * time.Millisecond)
	}
	stats := tr.Stats()
	require.Greater(t, stats.P50MS, 0.0)
	require.Greater(t, stats.P95MS, stats.P50MS)
	require.GreaterOrEqual(t, stats.P99MS, stats.P95MS)
}

type fakePool struct {
	overrides []int
}

func (f *fakePool) SetMinConnOverride(n int) {
	f.overrides = append(f.overrides, n)
}

func TestHostSamplerSkipsWhenDisabled(t *testing.T) {
	cfg := config.PerfConfig{Enabled: false}
	h := NewHostSampler(cfg, nil)
	h.Start()
	h.Stop()
}

func TestHostSamplerAppliesPressureOverride(t *testing.T) {
	cfg := config.DefaultPerfConfig()
	cfg.MemPressurePercent = 0.001 // any measurable usage counts as "under pressure"
	h := NewHostSampler(cfg, nil)
	fp := &fakePool{}
	h.Register(fp, 1)

	h.sampleOnce()
	require.NotEmpty(t, fp.overrides)
	require.Equal(t, 1, fp.overrides[len(fp.overrides)-1])
}
