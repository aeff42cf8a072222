// Package queue provides a job queue with pluggable drivers, priority
// scheduling, a composable middleware pipeline, bounded worker pools and a
// dead letter queue for jobs that exhaust their retries.
//
// Introduction
//
// Deferred work in Go usually starts as "go doSomething()". That stops being
// enough the moment jobs must survive a restart, run after a delay, retry on
// failure, or be throttled. This package covers that ground: jobs are
// dispatched onto a driver, workers pull them back out, and each execution
// runs through a middleware pipeline that handles logging, timing, timeouts,
// retries, rate limiting and deduplication.
//
// Simple Usage
//
// A job is any type implementing the Job interface:
//
//	type Job interface {
//		Type() string
//		Execute(ctx context.Context) error
//	}
//
// Dispatch it through a Manager:
//
//	m, _ := queue.NewManager(queue.DefaultConfig())
//	m.Dispatch(ctx, job)
//
// Tune a dispatch with persist options — run after 3 minutes, 5 attempts,
// critical priority:
//
//	m.Dispatch(ctx, job,
//		queue.Defer(3*time.Minute),
//		queue.MaxAttempts(5),
//		queue.WithPriority(queue.PriorityCritical),
//	)
//
// Nothing runs until a worker drives the driver:
//
//	w, _ := m.StartWorker(ctx, queue.WorkerConcurrency(4))
//	defer w.Stop()
//
// Or drive it by hand, one job per call, which is how tests usually do it:
//
//	for m.Process(ctx) == nil {
//	}
//
// Drivers
//
// Four drivers are bundled. The sync driver executes inline on dispatch, for
// tests and development. The in-memory driver holds a priority queue in
// process, fast but gone on restart. The file driver writes one JSON record
// per pending job under a directory and survives restarts. The redis driver
// keeps the queue in redis, the only variant visible across processes.
//
// Drivers that persist jobs outside the process reconstruct them through a
// Registry, a mapping from the job's type tag to a factory:
//
//	m.Registry().Register("email.send", func(raw json.RawMessage) (queue.Job, error) {
//		var j SendEmail
//		if err := json.Unmarshal(raw, &j); err != nil {
//			return nil, err
//		}
//		return &j, nil
//	})
//
// Register every persisted job type at boot. Dequeuing an unregistered tag
// fails hard with ErrUnregisteredJobType rather than silently dropping the
// job; a tag that can never be reconstructed would otherwise poison the queue.
//
// Retries and the Dead Letter Queue
//
// A failing job is retried with linear backoff up to its MaxAttempts, then
// recorded in the configured DeadLetterQueue with its payload, error, stack
// and attempt count. The DLQ is a passive store: Retry(id) removes and returns
// the record, and redispatching it is the caller's decision.
//
// Note that retried jobs imply at-least-once execution. Keeping Execute
// idempotent for the same logical work is the job author's responsibility.
//
// Timeouts are best-effort: a job that ignores its context keeps its
// goroutine until it returns on its own. The pipeline stops waiting, fails
// the job with ErrJobTimeout, and moves on. Job bodies doing long loops
// should check ctx.Done().
//
// Configuration
//
// The package reads its configuration from a koanf tree under the "queue"
// key:
//
//	queue:
//	  default: default
//	  drivers:
//	    default:
//	      driver: redis
//	      host: 127.0.0.1
//	      port: 6379
//	      use_dlq: true
//	      max_retries: 3
//	      auto_start: true
//	      run_in_background: true
//
// Metrics
//
// Set track_metrics on a driver block to count pushes, pops and failures and
// observe push latency. Feed UseGauge a gauge (presumably Prometheus-backed)
// to report waiting/delayed/failed channel lengths periodically.
package queue
