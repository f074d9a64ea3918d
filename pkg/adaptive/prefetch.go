package adaptive

import (
	"container/heap"
	"sync"

	"github.com/wardendns/warden/pkg/wire"
)

// prefetchEntry is a prefetch candidate, ordered by priority, highest first.
type prefetchEntry struct {
	domain   string
	qtype    wire.Type
	priority float64
}

// prefetchHeap is a max-heap on priority (container/heap is a min-heap by
// default, so Less is inverted).
type prefetchHeap []prefetchEntry

func (h prefetchHeap) Len() int           { return len(h) }
func (h prefetchHeap) Less(i, j int) bool { return h[i].priority > h[j].priority }
func (h prefetchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *prefetchHeap) Push(x any)        { *h = append(*h, x.(prefetchEntry)) }
func (h *prefetchHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Refresher re-resolves a domain/qtype pair, returning fresh records to
// re-store. pkg/server's resolver.refresh satisfies this signature.
type Refresher func(domain string, qtype wire.Type) ([]wire.Record, error)

// prefetchQueue is the shared max-heap plus the signal channel that wakes
// workers when an entry is pushed. A bounded worker pool drains it.
type prefetchQueue struct {
	mu       sync.Mutex
	h        prefetchHeap
	maxSize  int
	wake     chan struct{}
	done     chan struct{}
	refresh  Refresher
	onResult func(success bool)
}

func newPrefetchQueue(maxSize, workers int, refresh Refresher, onResult func(success bool)) *prefetchQueue {
	q := &prefetchQueue{
		maxSize:  maxSize,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		refresh:  refresh,
		onResult: onResult,
	}
	heap.Init(&q.h)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

// enqueue pushes a candidate, evicting the lowest-priority entry first if
// the queue is at capacity, bounding memory under cache pressure.
func (q *prefetchQueue) enqueue(entry prefetchEntry) {
	q.mu.Lock()
	if q.maxSize > 0 && len(q.h) >= q.maxSize {
		q.dropLowestLocked()
	}
	heap.Push(&q.h, entry)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dropLowestLocked removes the single lowest-priority entry. Must be called
// with q.mu held.
func (q *prefetchQueue) dropLowestLocked() {
	if len(q.h) == 0 {
		return
	}
	lowest := 0
	for i := 1; i < len(q.h); i++ {
		if q.h[i].priority < q.h[lowest].priority {
			lowest = i
		}
	}
	q.h = append(q.h[:lowest], q.h[lowest+1:]...)
	heap.Init(&q.h)
}

func (q *prefetchQueue) popHighest() (prefetchEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return prefetchEntry{}, false
	}
	return heap.Pop(&q.h).(prefetchEntry), true
}

func (q *prefetchQueue) worker() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
			for {
				entry, ok := q.popHighest()
				if !ok {
					break
				}
				_, err := q.refresh(entry.domain, entry.qtype)
				if q.onResult != nil {
					q.onResult(err == nil)
				}
			}
		}
	}
}

func (q *prefetchQueue) close() {
	close(q.done)
}
