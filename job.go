package queue

import "context"

// Job is a unit of deferred work. Type returns a stable tag used to identify
// the job across serialization; Execute performs the work.
//
// Execute must tolerate at-least-once redelivery: the framework retries failed
// jobs and does not deduplicate by default, so a job body should be safe to run
// more than once for the same logical work.
type Job interface {
	Type() string
	Execute(ctx context.Context) error
}

// Displayable is an optional interface. Jobs implementing it get a friendlier
// name in logs and DLQ records than their type tag.
type Displayable interface {
	DisplayName() string
}

// JobFunc creates a Job from a type tag and a callback in one line.
// Handy for tests and fire-and-forget work that never leaves the process.
func JobFunc(typeTag string, callback func(ctx context.Context) error) Job {
	return funcJob{t: typeTag, callback: callback}
}

type funcJob struct {
	t        string
	callback func(ctx context.Context) error
}

// Type implements Job.
func (f funcJob) Type() string {
	return f.t
}

// Execute implements Job.
func (f funcJob) Execute(ctx context.Context) error {
	return f.callback(ctx)
}

func displayName(job Job) string {
	if d, ok := job.(Displayable); ok {
		return d.DisplayName()
	}
	return job.Type()
}
