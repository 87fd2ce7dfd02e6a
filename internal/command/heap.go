package command

import (
	"container/heap"
	"time"
)

// commandEntry is one pending command on the dispatcher's min-heap, ordered
// by (priority, enqueue_time) per spec.md §4.5.
type commandEntry struct {
	id          uint64
	priority    Priority
	enqueueTime time.Time
	seq         uint64
	message     Message
	reply       func([]byte) error
	index       int
}

type commandHeap []*commandEntry

func (h commandHeap) Len() int { return len(h) }

func (h commandHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	if !h[i].enqueueTime.Equal(h[j].enqueueTime) {
		return h[i].enqueueTime.Before(h[j].enqueueTime)
	}
	return h[i].seq < h[j].seq
}

func (h commandHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *commandHeap) Push(x interface{}) {
	e := x.(*commandEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *commandHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

var _ heap.Interface = (*commandHeap)(nil)
