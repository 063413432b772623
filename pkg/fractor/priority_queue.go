package fractor

import (
	"container/heap"
	"sync"
	"time"
)

// PriorityQueueStats summarizes a PriorityWorkQueue for introspection.
type PriorityQueueStats struct {
	Size       int
	ByPriority map[Priority]int
}

// PriorityWorkQueue is a mutex-guarded blocking queue ordered by (priority, created_at),
// with optional aging that promotes long-waiting items.
type PriorityWorkQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	heap     priorityHeap
	closed   bool

	agingEnabled   bool
	agingThreshold time.Duration
}

// NewPriorityWorkQueue constructs an empty PriorityWorkQueue. When agingThreshold > 0,
// aging is enabled: an item's effective priority is promoted by one level per elapsed
// agingThreshold, clamped at PriorityCritical.
func NewPriorityWorkQueue(agingThreshold time.Duration) *PriorityWorkQueue {
	q := &PriorityWorkQueue{
		agingEnabled:   agingThreshold > 0,
		agingThreshold: agingThreshold,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	heap.Init(&q.heap)
	return q
}

type priorityItem struct {
	work         PriorityWork
	seq          uint64 // insertion sequence, breaks exact ties deterministically
}

type priorityHeap []priorityItem

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	pi, pj := h[i], h[j]
	epi := effectivePriority(pi.work)
	epj := effectivePriority(pj.work)
	if epi != epj {
		return epi < epj
	}
	if !pi.work.CreatedAt.Equal(pj.work.CreatedAt) {
		return pi.work.CreatedAt.Before(pj.work.CreatedAt)
	}
	return pi.seq < pj.seq
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(priorityItem)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// effectivePriority returns the stored priority used for heap ordering; it applies no
// aging. Aging, when enabled, is applied at pop time: popLowest scans the queue with
// agedPriority rather than relying on a background goroutine.
func effectivePriority(w PriorityWork) Priority {
	return w.Priority
}

var seqCounter uint64
var seqMu sync.Mutex

func nextSeq() uint64 {
	seqMu.Lock()
	defer seqMu.Unlock()
	seqCounter++
	return seqCounter
}

// agedPriority applies the aging promotion rule to a stored priority given its age.
func agedPriority(base Priority, age time.Duration, threshold time.Duration) Priority {
	if threshold <= 0 || age <= 0 {
		return base
	}
	levels := int(age / threshold)
	p := int(base) - levels
	if p < int(PriorityCritical) {
		p = int(PriorityCritical)
	}
	return Priority(p)
}

// Push enqueues work, waking one blocked popper.
func (q *PriorityWorkQueue) Push(work PriorityWork) error {
	if work.Input == nil {
		return ErrInvalidWork
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errClosedQueue
	}
	if work.CreatedAt.IsZero() {
		work.CreatedAt = time.Now()
	}
	heap.Push(&q.heap, priorityItem{work: work, seq: nextSeq()})
	q.notEmpty.Signal()
	return nil
}

var errClosedQueue = &closedQueueError{}

type closedQueueError struct{}

func (e *closedQueueError) Error() string { return "fractor: queue is closed" }

// popLowest extracts the item with the lowest effective (aged) priority under lock.
func (q *PriorityWorkQueue) popLowest() (PriorityWork, bool) {
	if len(q.heap) == 0 {
		return PriorityWork{}, false
	}
	if !q.agingEnabled {
		item := heap.Pop(&q.heap).(priorityItem)
		return item.work, true
	}

	now := time.Now()
	bestIdx := -1
	var bestAged Priority
	var bestCreated time.Time
	var bestSeq uint64
	for i, it := range q.heap {
		aged := agedPriority(it.work.Priority, now.Sub(it.work.CreatedAt), q.agingThreshold)
		if bestIdx == -1 || aged < bestAged ||
			(aged == bestAged && it.work.CreatedAt.Before(bestCreated)) ||
			(aged == bestAged && it.work.CreatedAt.Equal(bestCreated) && it.seq < bestSeq) {
			bestIdx = i
			bestAged = aged
			bestCreated = it.work.CreatedAt
			bestSeq = it.seq
		}
	}
	item := q.heap[bestIdx]
	heap.Remove(&q.heap, bestIdx)
	return item.work, true
}

// Pop blocks until an item is available or the queue is closed, in which case it
// returns false for ok (end-of-stream).
func (q *PriorityWorkQueue) Pop() (work PriorityWork, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.heap) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.heap) == 0 {
		return PriorityWork{}, false
	}
	return q.popLowest()
}

// PopNonBlocking returns immediately: an item if one is ready, or ok=false if the queue
// is currently empty.
func (q *PriorityWorkQueue) PopNonBlocking() (work PriorityWork, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return PriorityWork{}, false
	}
	return q.popLowest()
}

// Close marks the queue closed: further Push calls fail, and blocked/future Pop calls
// return ok=false once drained.
func (q *PriorityWorkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
}

// Clear discards all queued items without closing the queue.
func (q *PriorityWorkQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heap = priorityHeap{}
	heap.Init(&q.heap)
}

// Stats reports current size broken down by (unaged) priority.
func (q *PriorityWorkQueue) Stats() PriorityQueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := PriorityQueueStats{Size: len(q.heap), ByPriority: map[Priority]int{}}
	for _, it := range q.heap {
		stats.ByPriority[it.work.Priority]++
	}
	return stats
}
