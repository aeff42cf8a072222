package queue

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
)

// ErrFailedJobNotFound is returned by DLQ lookups for an unknown id.
var ErrFailedJobNotFound = errors.New("failed job not found")

// FailedJob is the durable record of a job that exhausted its retries.
type FailedJob struct {
	ID       string                 `json:"id"`
	JobType  string                 `json:"job_type"`
	Payload  []byte                 `json:"payload"`
	Error    string                 `json:"error"`
	Stack    string                 `json:"stack,omitempty"`
	FailedAt time.Time              `json:"failed_at"`
	Attempts int                    `json:"attempts"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
}

// DLQStats aggregates the contents of a dead letter queue.
type DLQStats struct {
	Total   int64            `json:"total"`
	ByType  map[string]int64 `json:"by_type"`
	ByError map[string]int64 `json:"by_error"`
	Oldest  time.Time        `json:"oldest"`
	Newest  time.Time        `json:"newest"`
}

// DeadLetterQueue is a passive store of terminally failed jobs. Retry removes
// and returns a record; redispatching it is the caller's responsibility, the
// DLQ itself never re-enqueues.
type DeadLetterQueue interface {
	Store(ctx context.Context, job *FailedJob) error
	Get(ctx context.Context, id string) (*FailedJob, error)
	// GetAll returns records sorted newest-first.
	GetAll(ctx context.Context, limit, offset int) ([]*FailedJob, error)
	GetByType(ctx context.Context, jobType string) ([]*FailedJob, error)
	GetByDateRange(ctx context.Context, from, to time.Time) ([]*FailedJob, error)
	Count(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (DLQStats, error)
	// Retry removes the record and returns it for redispatch by the caller.
	Retry(ctx context.Context, id string) (*FailedJob, error)
	RetryByType(ctx context.Context, jobType string) ([]*FailedJob, error)
	// Prune deletes records that failed before the cutoff and returns how
	// many were removed.
	Prune(ctx context.Context, olderThan time.Time) (int, error)
	Delete(ctx context.Context, id string) error
}

// FailedJobHandler turns a terminal failure into a FailedJob record and stores
// it. The worker invokes it for whatever error escapes the pipeline.
type FailedJobHandler struct {
	DLQ    DeadLetterQueue
	Logger log.Logger
}

// Handle records the failure. When no DLQ is configured the failure is only
// logged (the job is dropped, per configuration).
func (h *FailedJobHandler) Handle(ctx context.Context, jc *JobContext, execErr error) error {
	logger := h.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if h.DLQ == nil {
		_ = level.Warn(logger).Log(
			"msg", "job failed terminally, no DLQ configured, dropping",
			"type", jc.Envelope.Key,
			"id", jc.Envelope.UniqueID,
			"attempts", jc.Envelope.Attempts,
			"err", execErr,
		)
		return nil
	}
	record := &FailedJob{
		ID:       uuid.NewString(),
		JobType:  jc.Envelope.Key,
		Payload:  jc.Envelope.Value,
		Error:    execErr.Error(),
		Stack:    jc.Stack,
		FailedAt: time.Now(),
		Attempts: jc.Envelope.Attempts,
		Meta: map[string]interface{}{
			"queue":     jc.Envelope.Queue,
			"unique_id": jc.Envelope.UniqueID,
			"priority":  jc.Envelope.Priority.String(),
		},
	}
	if err := h.DLQ.Store(ctx, record); err != nil {
		_ = level.Error(logger).Log(
			"msg", "storing failed job in DLQ",
			"type", jc.Envelope.Key,
			"err", err,
		)
		return err
	}
	_ = level.Warn(logger).Log(
		"msg", "job moved to DLQ",
		"type", jc.Envelope.Key,
		"id", jc.Envelope.UniqueID,
		"attempts", jc.Envelope.Attempts,
		"err", execErr,
	)
	return nil
}
