package queue

import (
	"container/heap"
)

// PriorityQueue orders pending jobs by priority level, then by enqueue time,
// FIFO within a level. The comparison is a total order: when two jobs share a
// priority and an enqueue timestamp, the insertion sequence breaks the tie, so
// RemoveFirst is deterministic under interleaved inserts.
//
// Add, RemoveFirst and Peek are O(log n); Remove, Contains and ToList are O(n),
// which is acceptable at the volumes this package targets.
//
// PriorityQueue is not safe for concurrent use; callers (drivers) guard it.
type PriorityQueue struct {
	h   jobHeap
	seq uint64
}

// NewPriorityQueue creates an empty PriorityQueue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{}
}

// Add inserts a job.
func (q *PriorityQueue) Add(job *PersistedJob) {
	q.seq++
	heap.Push(&q.h, &heapItem{job: job, seq: q.seq})
}

// RemoveFirst returns and removes the best-ordered job, or nil when empty.
func (q *PriorityQueue) RemoveFirst() *PersistedJob {
	if q.h.Len() == 0 {
		return nil
	}
	item := heap.Pop(&q.h).(*heapItem)
	return item.job
}

// Peek returns the best-ordered job without removing it, or nil when empty.
func (q *PriorityQueue) Peek() *PersistedJob {
	if q.h.Len() == 0 {
		return nil
	}
	return q.h[0].job
}

// Remove deletes the given job from the queue. It reports whether the job was
// present.
func (q *PriorityQueue) Remove(job *PersistedJob) bool {
	for i, item := range q.h {
		if item.job == job || item.job.UniqueID == job.UniqueID {
			heap.Remove(&q.h, i)
			return true
		}
	}
	return false
}

// Contains reports whether the job is in the queue.
func (q *PriorityQueue) Contains(job *PersistedJob) bool {
	for _, item := range q.h {
		if item.job == job || item.job.UniqueID == job.UniqueID {
			return true
		}
	}
	return false
}

// Len returns the number of queued jobs.
func (q *PriorityQueue) Len() int {
	return q.h.Len()
}

// Clear removes all jobs.
func (q *PriorityQueue) Clear() {
	q.h = nil
	q.seq = 0
}

// ToList snapshots the queued jobs. The slice follows the internal heap
// layout, not comparator order; only the RemoveFirst sequence is ordered.
func (q *PriorityQueue) ToList() []*PersistedJob {
	list := make([]*PersistedJob, 0, q.h.Len())
	for _, item := range q.h {
		list = append(list, item.job)
	}
	return list
}

type heapItem struct {
	job *PersistedJob
	seq uint64
}

type jobHeap []*heapItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority
	}
	if !a.job.EnqueuedAt.Equal(b.job.EnqueuedAt) {
		return a.job.EnqueuedAt.Before(b.job.EnqueuedAt)
	}
	return a.seq < b.seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x interface{}) {
	*h = append(*h, x.(*heapItem))
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
