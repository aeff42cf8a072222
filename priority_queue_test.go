package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func makeJob(id string, p Priority, enqueuedAt time.Time) *PersistedJob {
	return &PersistedJob{
		UniqueID:   id,
		Key:        "test.job",
		Priority:   p,
		EnqueuedAt: enqueuedAt,
	}
}

func TestPriorityQueueOrdersByPriorityThenFIFO(t *testing.T) {
	base := time.Now()
	q := NewPriorityQueue()

	q.Add(makeJob("low-1", PriorityLow, base))
	q.Add(makeJob("critical-1", PriorityCritical, base.Add(time.Second)))
	q.Add(makeJob("normal-1", PriorityNormal, base.Add(2*time.Second)))
	q.Add(makeJob("critical-2", PriorityCritical, base.Add(3*time.Second)))
	q.Add(makeJob("normal-2", PriorityNormal, base.Add(4*time.Second)))

	var got []string
	for job := q.RemoveFirst(); job != nil; job = q.RemoveFirst() {
		got = append(got, job.UniqueID)
	}
	assert.Equal(t, []string{"critical-1", "critical-2", "normal-1", "normal-2", "low-1"}, got)
}

func TestPriorityQueueFIFOWithinLevelUnderInterleavedInserts(t *testing.T) {
	base := time.Now()
	q := NewPriorityQueue()

	// Interleave levels; equal priority must still come out in enqueue order.
	for i := 0; i < 30; i++ {
		p := Priority(i % 3)
		q.Add(makeJob(fmt.Sprintf("%s-%02d", p, i), p, base.Add(time.Duration(i)*time.Millisecond)))
	}

	var lastPerLevel [3]int
	for i := range lastPerLevel {
		lastPerLevel[i] = -1
	}
	var prevPriority = PriorityCritical + 1
	for job := q.RemoveFirst(); job != nil; job = q.RemoveFirst() {
		assert.LessOrEqual(t, int(job.Priority), int(prevPriority), "priority must be non-increasing")
		prevPriority = job.Priority
		var seq int
		fmt.Sscanf(job.UniqueID[len(job.Priority.String())+1:], "%d", &seq)
		assert.Greater(t, seq, lastPerLevel[job.Priority], "FIFO violated within priority %s", job.Priority)
		lastPerLevel[job.Priority] = seq
	}
}

func TestPriorityQueueEqualTimestampsAreDeterministic(t *testing.T) {
	at := time.Now()
	q := NewPriorityQueue()
	for i := 0; i < 5; i++ {
		q.Add(makeJob(fmt.Sprintf("same-%d", i), PriorityNormal, at))
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("same-%d", i), q.RemoveFirst().UniqueID)
	}
}

func TestPriorityQueuePeekDoesNotRemove(t *testing.T) {
	q := NewPriorityQueue()
	assert.Nil(t, q.Peek())

	job := makeJob("a", PriorityHigh, time.Now())
	q.Add(job)
	assert.Equal(t, job, q.Peek())
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, job, q.RemoveFirst())
	assert.Nil(t, q.RemoveFirst())
}

func TestPriorityQueueRemoveAndContains(t *testing.T) {
	base := time.Now()
	q := NewPriorityQueue()
	a := makeJob("a", PriorityNormal, base)
	b := makeJob("b", PriorityNormal, base.Add(time.Second))
	c := makeJob("c", PriorityHigh, base.Add(2*time.Second))
	q.Add(a)
	q.Add(b)
	q.Add(c)

	assert.True(t, q.Contains(b))
	assert.True(t, q.Remove(b))
	assert.False(t, q.Contains(b))
	assert.False(t, q.Remove(b))

	assert.Equal(t, "c", q.RemoveFirst().UniqueID)
	assert.Equal(t, "a", q.RemoveFirst().UniqueID)
	assert.Nil(t, q.RemoveFirst())
}

func TestPriorityQueueClearAndToList(t *testing.T) {
	base := time.Now()
	q := NewPriorityQueue()
	for i := 0; i < 4; i++ {
		q.Add(makeJob(fmt.Sprintf("j%d", i), PriorityLow, base.Add(time.Duration(i))))
	}
	assert.Len(t, q.ToList(), 4)

	q.Clear()
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.ToList())
	assert.Nil(t, q.RemoveFirst())
}
