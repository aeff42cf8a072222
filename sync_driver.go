package queue

import (
	"context"
	"time"
)

// Runner executes one envelope through the shared middleware pipeline. The
// Manager injects its runner into drivers that execute inline.
type Runner interface {
	Run(ctx context.Context, job *PersistedJob) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, job *PersistedJob) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, job *PersistedJob) error {
	return f(ctx, job)
}

// SyncDriver executes jobs inline on Push instead of storing them. A delay
// becomes a blocking sleep. Pop is a no-op returning ErrEmpty, so workers
// polling a SyncDriver simply idle.
//
// Intended for tests and fire-and-forget dispatch in development.
type SyncDriver struct {
	runner Runner
}

// NewSyncDriver creates a driver that hands every pushed job to runner.
func NewSyncDriver(runner Runner) *SyncDriver {
	return &SyncDriver{runner: runner}
}

// Push implements Driver. The job runs before Push returns; its error is the
// pipeline's error.
func (d *SyncDriver) Push(ctx context.Context, job *PersistedJob, delay time.Duration) error {
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return d.runner.Run(ctx, job)
}

// Pop implements Driver. There is never anything stored to pop.
func (d *SyncDriver) Pop(ctx context.Context) (*PersistedJob, error) {
	return nil, ErrEmpty
}

// Info implements Driver.
func (d *SyncDriver) Info(ctx context.Context) (QueueInfo, error) {
	return QueueInfo{}, nil
}
