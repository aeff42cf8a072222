package queue

import (
	"context"
	"sync"
	"time"
)

// InProcessDriver keeps pending jobs in memory. Jobs are lost on process
// restart; the driver never needs a Registry because the live Job reference
// travels inside the envelope.
//
// InProcessDriver is safe for concurrent use.
type InProcessDriver struct {
	mu      sync.Mutex
	ready   *PriorityQueue
	delayed map[string]*delayedJob
	clock   func() time.Time
}

type delayedJob struct {
	job     *PersistedJob
	readyAt time.Time
}

// NewInProcessDriver creates an empty in-memory driver.
func NewInProcessDriver() *InProcessDriver {
	return &InProcessDriver{
		ready:   NewPriorityQueue(),
		delayed: make(map[string]*delayedJob),
		clock:   time.Now,
	}
}

// Push implements Driver. Delayed jobs become visible to Pop once their ready
// time has passed; promotion happens lazily inside Pop, no timer goroutine is
// kept per job.
func (d *InProcessDriver) Push(ctx context.Context, job *PersistedJob, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = d.clock()
	}
	if delay > 0 {
		d.delayed[job.UniqueID] = &delayedJob{job: job, readyAt: d.clock().Add(delay)}
		return nil
	}
	d.ready.Add(job)
	return nil
}

// Pop implements Driver.
func (d *InProcessDriver) Pop(ctx context.Context) (*PersistedJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.promoteDue()
	job := d.ready.RemoveFirst()
	if job == nil {
		return nil, ErrEmpty
	}
	return job, nil
}

// Info implements Driver.
func (d *InProcessDriver) Info(ctx context.Context) (QueueInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.promoteDue()
	return QueueInfo{
		Waiting: int64(d.ready.Len()),
		Delayed: int64(len(d.delayed)),
	}, nil
}

// promoteDue moves delayed jobs whose ready time has passed into the ready
// queue. Callers hold d.mu.
func (d *InProcessDriver) promoteDue() {
	now := d.clock()
	for id, dj := range d.delayed {
		if !dj.readyAt.After(now) {
			d.ready.Add(dj.job)
			delete(d.delayed, id)
		}
	}
}
