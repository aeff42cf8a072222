package queue

// RetryingJob describes a job that failed and is about to be retried. If the
// retry budget is exhausted this notification is not delivered; AbortedJob is.
type RetryingJob struct {
	Err error
	Job *PersistedJob
}

// AbortedJob describes a job whose failure is terminal: retries exhausted, or
// the error was marked non-retryable. If retry attempts remain, this
// notification is not delivered.
type AbortedJob struct {
	Err error
	Job *PersistedJob
}

// Hooks carries optional callbacks observing the retry/abort lifecycle. Nil
// callbacks are skipped. Hooks run synchronously on the executing goroutine,
// so they should return quickly.
type Hooks struct {
	OnRetry func(RetryingJob)
	OnAbort func(AbortedJob)
}

func (h Hooks) retrying(err error, job *PersistedJob) {
	if h.OnRetry != nil {
		h.OnRetry(RetryingJob{Err: err, Job: job})
	}
}

func (h Hooks) aborted(err error, job *PersistedJob) {
	if h.OnAbort != nil {
		h.OnAbort(AbortedJob{Err: err, Job: job})
	}
}
