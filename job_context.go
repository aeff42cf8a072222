package queue

import (
	"time"
)

// Metadata keys written by the built-in middleware.
const (
	// MetaAttempt holds the current attempt number (int, starting at 1),
	// maintained by the Retry middleware.
	MetaAttempt = "attempt"
	// MetaElapsed holds the wall-clock duration (time.Duration) of the whole
	// pipeline run, recorded by the Timing middleware.
	MetaElapsed = "elapsed"
	// MetaDeduplicated is set to true when the Deduplicate middleware skipped
	// the execution.
	MetaDeduplicated = "deduplicated"
)

// JobContext is the per-execution state threaded through the middleware
// pipeline. One JobContext belongs to exactly one pipeline run; it is never
// shared across concurrent attempts of the same job.
type JobContext struct {
	// Envelope is the stored form of the job being executed.
	Envelope *PersistedJob
	// Meta is a scratch map middleware use to pass data forward, e.g. the
	// attempt counter.
	Meta map[string]interface{}
	// StartedAt is when the pipeline run began.
	StartedAt time.Time
	// Err is the terminal error of the run, nil on success.
	Err error
	// Stack is the captured stack text when the job body panicked.
	Stack string
}

func newJobContext(envelope *PersistedJob) *JobContext {
	return &JobContext{
		Envelope:  envelope,
		Meta:      make(map[string]interface{}),
		StartedAt: time.Now(),
	}
}

// Attempts returns the attempt counter from metadata, or 1 when no Retry
// middleware ran.
func (c *JobContext) Attempts() int {
	if n, ok := c.Meta[MetaAttempt].(int); ok {
		return n
	}
	return 1
}
