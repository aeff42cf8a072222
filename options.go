package queue

import (
	"time"

	"github.com/google/uuid"
)

// DefaultMaxAttempts is the retry ceiling applied when neither the job nor the
// driver configuration specifies one.
const DefaultMaxAttempts = 3

// DefaultQueueName is the lane used when dispatch doesn't name one.
const DefaultQueueName = "default"

// PersistOption tunes one dispatched job: its delay, priority, retry ceiling
// and so on. Options are applied by Dispatch and by Adjust.
type PersistOption func(*envelopeSpec)

type envelopeSpec struct {
	delay         time.Duration
	handleTimeout time.Duration
	maxAttempts   int
	priority      Priority
	queue         string
	dedupKey      string
	uniqueID      string
}

func newEnvelopeSpec() envelopeSpec {
	return envelopeSpec{
		maxAttempts: DefaultMaxAttempts,
		priority:    PriorityNormal,
		queue:       DefaultQueueName,
		uniqueID:    uuid.NewString(),
	}
}

// Defer delays the job's visibility for the given duration.
func Defer(duration time.Duration) PersistOption {
	return func(s *envelopeSpec) {
		s.delay = duration
	}
}

// ScheduleAt delays the job's visibility until the given time.
func ScheduleAt(t time.Time) PersistOption {
	return func(s *envelopeSpec) {
		s.delay = time.Until(t)
	}
}

// Timeout bounds each execution attempt of the job.
func Timeout(timeout time.Duration) PersistOption {
	return func(s *envelopeSpec) {
		s.handleTimeout = timeout
	}
}

// MaxAttempts sets how many times the job may be executed before it lands in
// the dead letter queue.
func MaxAttempts(attempts int) PersistOption {
	return func(s *envelopeSpec) {
		s.maxAttempts = attempts
	}
}

// WithPriority assigns the job a priority level. Values outside the defined
// levels are ignored and the priority stays at its previous value.
func WithPriority(p Priority) PersistOption {
	return func(s *envelopeSpec) {
		if p.Valid() {
			s.priority = p
		}
	}
}

// OnQueue targets a named lane instead of the default one.
func OnQueue(name string) PersistOption {
	return func(s *envelopeSpec) {
		s.queue = name
	}
}

// WithDedupKey marks the job for the Deduplicate middleware: repeat dispatches
// carrying the same key within the dedup window are skipped.
func WithDedupKey(key string) PersistOption {
	return func(s *envelopeSpec) {
		s.dedupKey = key
	}
}

// UniqueID outsources the generation of the envelope id to the caller.
func UniqueID(id string) PersistOption {
	return func(s *envelopeSpec) {
		s.uniqueID = id
	}
}

// SelfConfigurer is an optional Job interface. A job implementing it carries
// its own dispatch defaults (retry ceiling, timeout, target lane); explicit
// options passed to Dispatch still win.
type SelfConfigurer interface {
	PersistOptions() []PersistOption
}
