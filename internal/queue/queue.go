// Package queue implements the bounded, severity-ordered dispatch queue.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// Item is one alert awaiting dispatch.
type Item struct {
	AlertID    string
	Severity   models.Severity
	EnqueuedAt time.Time

	seq uint64
}

// PushResult reports what Push did. When Accepted is false the incoming item
// was dropped. Evicted is set when a lower-priority item made room for it.
type PushResult struct {
	Accepted bool
	Evicted  *Item
}

// Queue is a bounded priority queue: higher severity first, FIFO within a
// severity. Push never blocks.
type Queue struct {
	mu       sync.Mutex
	items    itemHeap
	capacity int
	seq      uint64
	ready    chan struct{}
}

// New creates a queue holding at most capacity items.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		items:    make(itemHeap, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Push enqueues item. On a full queue the lowest-priority item (newest among
// equals) is evicted if it ranks strictly below item; otherwise item is
// dropped.
func (q *Queue) Push(item Item) PushResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	q.seq++
	item.seq = q.seq

	var result PushResult
	if len(q.items) >= q.capacity {
		idx := q.items.lowest()
		victim := q.items[idx]
		if victim.Severity.Rank() >= item.Severity.Rank() {
			return PushResult{}
		}
		heap.Remove(&q.items, idx)
		result.Evicted = &victim
	}

	heap.Push(&q.items, item)
	result.Accepted = true
	q.signal()
	return result
}

// PopBatch removes up to n highest-priority items.
func (q *Queue) PopBatch(n int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]Item, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, heap.Pop(&q.items).(Item))
	}
	if len(q.items) > 0 {
		q.signal()
	}
	return batch
}

// Ready is signalled whenever items are available.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return q.capacity
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

type itemHeap []Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	ri, rj := h[i].Severity.Rank(), h[j].Severity.Rank()
	if ri != rj {
		return ri > rj
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(Item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// lowest returns the index of the lowest-priority item. Leaves hold the
// minimum, so only the second half of the array is scanned.
func (h itemHeap) lowest() int {
	idx := len(h) / 2
	for i := idx + 1; i < len(h); i++ {
		if h.Less(idx, i) {
			idx = i
		}
	}
	return idx
}
