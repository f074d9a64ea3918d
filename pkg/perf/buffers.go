// Package perf implements a performance engine: tiered sync.Pool-backed
// wire-buffer pooling, a response-time percentile tracker, and
// gopsutil-based host memory sampling (CPU is not sampled) that feeds
// pkg/pool's health sweep.
package perf

import "sync"

// BufferSize is a buffer size tier, mirroring BufferSize.
type BufferSize int

const (
	Small BufferSize = iota
	Medium
	Large
)

func (s BufferSize) String() string {
	switch s {
	case Small:
		return "small"
	case Medium:
		return "medium"
	default:
		return "large"
	}
}

// classify picks the smallest tier that fits n bytes, mirroring
// BufferPool::get_buffer's size-class selection.
func classify(n, small, medium int) BufferSize {
	switch {
	case n <= small:
		return Small
	case n <= medium:
		return Medium
	default:
		return Large
	}
}

// BufferPool hands out []byte slices from three size-tiered sync.Pools,
// replacing memory_pool.rs's hand-rolled VecDeque-backed SizePool with the
// idiomatic Go equivalent — a *sync.Pool* already is a concurrent,
// GC-aware free list, so there is no separate growth/shrink/resize-ticker
// machinery to port.
type BufferPool struct {
	smallSize, mediumSize, largeSize int
	pools                            [3]sync.Pool

	mu    sync.Mutex
	stats Stats
}

// Stats mirrors the allocation/return/failure counters the original's
// SizePool tracks per tier, flattened to pool-wide totals.
type Stats struct {
	TotalGets    uint64
	TotalPuts    uint64
	SmallGets    uint64
	MediumGets   uint64
	LargeGets    uint64
}

func NewBufferPool(smallSize, mediumSize, largeSize int) *BufferPool {
	if smallSize <= 0 {
		smallSize = 512
	}
	if mediumSize <= 0 {
		mediumSize = 2048
	}
	if largeSize <= 0 {
		largeSize = 8192
	}
	p := &BufferPool{smallSize: smallSize, mediumSize: mediumSize, largeSize: largeSize}
	p.pools[Small].New = func() any { return make([]byte, p.smallSize) }
	p.pools[Medium].New = func() any { return make([]byte, p.mediumSize) }
	p.pools[Large].New = func() any { return make([]byte, p.largeSize) }
	return p
}

// Get returns a buffer at least n bytes long, classified into the
// smallest tier that fits.
func (p *BufferPool) Get(n int) []byte {
	tier := classify(n, p.smallSize, p.mediumSize)
	buf := p.pools[tier].Get().([]byte)
	if cap(buf) < n {
		buf = make([]byte, n)
	}

	p.mu.Lock()
	p.stats.TotalGets++
	switch tier {
	case Small:
		p.stats.SmallGets++
	case Medium:
		p.stats.MediumGets++
	default:
		p.stats.LargeGets++
	}
	p.mu.Unlock()

	return buf[:n]
}

// Put returns buf to the pool tier matching its capacity. Callers must not
// use buf after calling Put.
func (p *BufferPool) Put(buf []byte) {
	tier := classify(cap(buf), p.smallSize, p.mediumSize)
	p.pools[tier].Put(buf[:cap(buf)])

	p.mu.Lock()
	p.stats.TotalPuts++
	p.mu.Unlock()
}

func (p *BufferPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
