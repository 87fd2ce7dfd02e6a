package modbus

import (
	"container/heap"
	"time"
)

// scheduleEntry is one device's Level-1 scheduler slot, keyed by the time
// it is next due for a polling pass (spec.md §4.2 "Level 1").
type scheduleEntry struct {
	deviceID     string
	nextPollTime time.Time
	index        int
}

// scheduleHeap is a container/heap min-heap ordered by nextPollTime. No
// pack library ships a device-polling priority queue, so this is grounded
// on container/heap directly.
type scheduleHeap []*scheduleEntry

func (h scheduleHeap) Len() int { return len(h) }
func (h scheduleHeap) Less(i, j int) bool {
	return h[i].nextPollTime.Before(h[j].nextPollTime)
}
func (h scheduleHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *scheduleHeap) Push(x interface{}) {
	e := x.(*scheduleEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *scheduleHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// scheduler is the Level-1 per-device min-heap shared by the RTU and TCP
// drivers. It is not safe for concurrent use; each driver guards every
// access to it with its own mutex.
type scheduler struct {
	h       scheduleHeap
	byID    map[string]*scheduleEntry
}

func newScheduler() *scheduler {
	return &scheduler{byID: make(map[string]*scheduleEntry)}
}

// Add inserts a new device into the schedule, first due at the given time,
// per §4.2 "Device created" lifecycle clause. If the device is already scheduled
// this is a no-op.
func (s *scheduler) Add(deviceID string, due time.Time) {
	if _, ok := s.byID[deviceID]; ok {
		return
	}
	e := &scheduleEntry{deviceID: deviceID, nextPollTime: due}
	s.byID[deviceID] = e
	heap.Push(&s.h, e)
}

// Remove takes a device out of the schedule entirely (reload: device
// deleted).
func (s *scheduler) Remove(deviceID string) {
	e, ok := s.byID[deviceID]
	if !ok {
		return
	}
	delete(s.byID, deviceID)
	if e.index >= 0 && e.index < len(s.h) {
		heap.Remove(&s.h, e.index)
	}
}

// Contains reports whether deviceID currently has a schedule entry.
func (s *scheduler) Contains(deviceID string) bool {
	_, ok := s.byID[deviceID]
	return ok
}

// DueBefore pops every entry whose nextPollTime is <= now, returning their
// device IDs. Popped entries are removed from both the heap and the index;
// callers must re-add via Reschedule once the poll pass completes.
func (s *scheduler) DueBefore(now time.Time) []string {
	var due []string
	for s.h.Len() > 0 && !s.h[0].nextPollTime.After(now) {
		e := heap.Pop(&s.h).(*scheduleEntry)
		delete(s.byID, e.deviceID)
		due = append(due, e.deviceID)
	}
	return due
}

// Reschedule re-adds a device with a new nextPollTime (the end of a
// polling pass, or a backoff-delayed retry).
func (s *scheduler) Reschedule(deviceID string, next time.Time) {
	if _, ok := s.byID[deviceID]; ok {
		return
	}
	e := &scheduleEntry{deviceID: deviceID, nextPollTime: next}
	s.byID[deviceID] = e
	heap.Push(&s.h, e)
}

// Len reports how many devices are currently scheduled.
func (s *scheduler) Len() int { return s.h.Len() }
