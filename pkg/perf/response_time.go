package perf

import (
	"sort"
	"sync"
	"time"
)

// ResponseTimeTracker keeps a bounded window of recent response times and
// periodically recomputes p50/p95/p99, mirroring ResponseTimeTracker.
type ResponseTimeTracker struct {
	targetUS int64
	window   int

	mu              sync.Mutex
	recent          []int64
	total           uint64
	meetingTarget   uint64
	min, max        int64
	p50, p95, p99   int64
}

// NewResponseTimeTracker builds a tracker with a millisecond target and a
// bounded sample window.
func NewResponseTimeTracker(targetMS int, window int) *ResponseTimeTracker {
	if window <= 0 {
		window = 10000
	}
	return &ResponseTimeTracker{
		targetUS: int64(targetMS) * 1000,
		window:   window,
		min:      -1,
	}
}

// Record adds one observed response duration.
func (t *ResponseTimeTracker) Record(d time.Duration) {
	us := d.Microseconds()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	if t.targetUS <= 0 || us <= t.targetUS {
		t.meetingTarget++
	}
	if t.min < 0 || us < t.min {
		t.min = us
	}
	if us > t.max {
		t.max = us
	}

	t.recent = append(t.recent, us)
	if len(t.recent) > t.window {
		t.recent = t.recent[len(t.recent)-t.window:]
	}
	if len(t.recent)%100 == 0 {
		t.updatePercentiles()
	}
}

// updatePercentiles recomputes p50/p95/p99 from the current sample window.
// Callers must hold t.mu.
func (t *ResponseTimeTracker) updatePercentiles() {
	sorted := append([]int64(nil), t.recent...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n == 0 {
		return
	}
	t.p50 = sorted[n/2]
	t.p95 = sorted[percentileIndex(n, 0.95)]
	t.p99 = sorted[percentileIndex(n, 0.99)]
}

func percentileIndex(n int, p float64) int {
	idx := int(float64(n) * p)
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// ResponseTimeStats is a point-in-time snapshot, mirroring the original's
// ResponseTimeStats.
type ResponseTimeStats struct {
	TotalQueries          uint64
	QueriesMeetingTarget  uint64
	TargetAchievementRate float64
	P50MS, P95MS, P99MS   float64
	MinMS, MaxMS          float64
}

func (t *ResponseTimeTracker) Stats() ResponseTimeStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	rate := 0.0
	if t.total > 0 {
		rate = float64(t.meetingTarget) / float64(t.total) * 100
	}
	min := t.min
	if min < 0 {
		min = 0
	}
	return ResponseTimeStats{
		TotalQueries:          t.total,
		QueriesMeetingTarget:  t.meetingTarget,
		TargetAchievementRate: rate,
		P50MS:                 float64(t.p50) / 1000,
		P95MS:                 float64(t.p95) / 1000,
		P99MS:                 float64(t.p99) / 1000,
		MinMS:                 float64(min) / 1000,
		MaxMS:                 float64(t.max) / 1000,
	}
}
