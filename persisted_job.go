package queue

import (
	"time"
)

// PersistedJob is the envelope a driver stores and hands back. It carries the
// serialized job body together with the metadata needed to schedule, retry and
// reconstruct it.
type PersistedJob struct {
	// UniqueID identifies each individual envelope. Two envelopes can carry
	// the exact same body and Key; UniqueID tells them apart.
	UniqueID string `json:"unique_id"`
	// Key is the job's type tag, the string registered in the Registry.
	Key string `json:"key"`
	// Value is the serialized job body: a flat JSON object with a "type"
	// field plus the job's own fields alongside it.
	Value []byte `json:"value"`
	// Queue names the lane this job was dispatched onto.
	Queue string `json:"queue"`
	// Priority orders this job against others in the same driver.
	Priority Priority `json:"priority"`
	// Attempts counts executions so far. It starts at 0 and the terminal
	// value is recorded in the DLQ on final failure.
	Attempts int `json:"attempts"`
	// MaxAttempts is the retry ceiling. By default 3.
	MaxAttempts int `json:"max_attempts"`
	// HandleTimeout bounds one execution attempt. Zero means no limit.
	HandleTimeout time.Duration `json:"handle_timeout"`
	// DedupKey, when non-empty, lets the Deduplicate middleware skip repeat
	// executions within its window.
	DedupKey string `json:"dedup_key,omitempty"`
	// EnqueuedAt is the time Push accepted the envelope. It breaks ties
	// between jobs of equal priority (FIFO within a level).
	EnqueuedAt time.Time `json:"enqueued_at"`

	// job is the live Job reference, kept only by in-process drivers so they
	// never round-trip through the Registry. Nil once an envelope has been
	// persisted outside the process.
	job Job
}

// Job returns the live job reference if this envelope never left the process,
// or nil if the job must be reconstructed from Value via a Registry.
func (p *PersistedJob) Job() Job {
	return p.job
}

// Type returns the type tag. PersistedJob itself satisfies the identity half
// of the Job contract so logs and DLQ records can treat both uniformly.
func (p *PersistedJob) Type() string {
	return p.Key
}
