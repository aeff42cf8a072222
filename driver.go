package queue

import (
	"context"
	"time"
)

// Driver is the pluggable transport/storage for pending jobs.
//
// Push accepts an envelope and, once delay has elapsed, makes it visible to
// Pop. Pop retrieves exactly one ready envelope, best priority first and FIFO
// within a priority, or returns ErrEmpty when nothing is ready. Info reports
// the driver's channel lengths.
//
// Push returns an error wrapping ErrDriverUnavailable when the backing
// resource is unreachable; that error propagates to the dispatcher, it is
// never swallowed.
type Driver interface {
	Push(ctx context.Context, job *PersistedJob, delay time.Duration) error
	Pop(ctx context.Context) (*PersistedJob, error)
	Info(ctx context.Context) (QueueInfo, error)
}
