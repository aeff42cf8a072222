package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/pkg/errors"
)

// Worker pulls jobs from one driver and executes them through a Runner under a
// concurrency bound. Per-iteration errors (a bad job, a transient driver
// disconnect) are reported through the error callback and never terminate the
// loop; only the stop conditions do: an explicit Stop, the max-job count, or
// the wall-clock budget.
//
// Shutdown is a best-effort drain: in-flight executions get until the shutdown
// timeout to finish, then the worker proceeds anyway and logs the stragglers.
type Worker struct {
	driver Driver
	runner Runner
	logger log.Logger

	concurrency     int
	pollInterval    time.Duration
	jobTimeout      time.Duration
	maxJobs         int64
	budget          time.Duration
	shutdownTimeout time.Duration
	onError         func(error)
	onShutdown      func()
	gauge           metrics.Gauge
	gaugeInterval   time.Duration

	sem        chan struct{}
	wg         sync.WaitGroup
	stop       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	started    int32
	dispatched int64
}

// WorkerOption tunes a Worker.
type WorkerOption func(*Worker)

// WorkerConcurrency bounds how many jobs run at once. Default 1.
func WorkerConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// PollInterval sets how long the loop waits when the driver is empty or all
// slots are busy. Default 100ms.
func PollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// JobTimeout bounds each execution when the envelope doesn't carry its own
// HandleTimeout. Zero means unbounded.
func JobTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.jobTimeout = d
	}
}

// MaxJobs stops the worker gracefully after n jobs have been dispatched.
// Zero means unlimited.
func MaxJobs(n int64) WorkerOption {
	return func(w *Worker) {
		w.maxJobs = n
	}
}

// Budget stops the worker gracefully once the wall-clock duration has elapsed.
// Zero means unlimited.
func Budget(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.budget = d
	}
}

// ShutdownTimeout bounds the graceful drain. Default 30s.
func ShutdownTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.shutdownTimeout = d
		}
	}
}

// OnError installs a callback invoked with every error the loop absorbs.
func OnError(f func(error)) WorkerOption {
	return func(w *Worker) {
		w.onError = f
	}
}

// OnShutdown installs a callback invoked once the worker has stopped and the
// drain has finished (or given up).
func OnShutdown(f func()) WorkerOption {
	return func(w *Worker) {
		w.onShutdown = f
	}
}

// WorkerLogger feeds the worker a logger of choice.
func WorkerLogger(logger log.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WorkerGauge reports the driver's channel lengths to the gauge on the given
// interval, labeled by channel.
func WorkerGauge(gauge metrics.Gauge, interval time.Duration) WorkerOption {
	return func(w *Worker) {
		w.gauge = gauge
		w.gaugeInterval = interval
	}
}

// NewWorker creates a worker bound to one driver and one runner.
func NewWorker(driver Driver, runner Runner, opts ...WorkerOption) *Worker {
	w := &Worker{
		driver:          driver,
		runner:          runner,
		logger:          log.NewNopLogger(),
		concurrency:     1,
		pollInterval:    100 * time.Millisecond,
		shutdownTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.sem = make(chan struct{}, w.concurrency)
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	return w
}

// Start runs the poll loop in the background until a stop condition is met or
// ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	atomic.StoreInt32(&w.started, 1)
	go w.loop(ctx)
	if w.gauge != nil {
		go w.gaugeLoop(ctx)
	}
}

// Run blocks, processing jobs until ctx is canceled or a stop condition is
// met, then drains and returns. Running a worker that was already stopped
// returns ErrWorkerStopped.
func (w *Worker) Run(ctx context.Context) error {
	if w.Stopped() {
		return ErrWorkerStopped
	}
	atomic.StoreInt32(&w.started, 1)
	if w.gauge != nil {
		go w.gaugeLoop(ctx)
	}
	w.loop(ctx)
	return nil
}

// Stop triggers graceful shutdown: no new jobs are started, in-flight jobs get
// the shutdown timeout to finish, then the shutdown callback fires. Safe to
// call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}

// Join blocks until the worker's loop has exited and its drain finished. It
// returns immediately for a worker that was never started.
func (w *Worker) Join() {
	if atomic.LoadInt32(&w.started) == 0 {
		return
	}
	<-w.done
}

// Stopped reports whether a stop condition has triggered.
func (w *Worker) Stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer w.drain()

	var budgetC <-chan time.Time
	if w.budget > 0 {
		budgetTimer := time.NewTimer(w.budget)
		defer budgetTimer.Stop()
		budgetC = budgetTimer.C
	}

	for {
		// A free semaphore slot must not race the stop signal: once Stop has
		// been called, no further job is dispatched.
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			w.Stop()
			return
		default:
		}

		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			w.Stop()
			return
		case <-budgetC:
			_ = level.Info(w.logger).Log("msg", "wall-clock budget exhausted, stopping worker")
			w.Stop()
			return
		case w.sem <- struct{}{}:
			if !w.dispatchOne(ctx) {
				<-w.sem
				if !w.sleep(ctx) {
					return
				}
				continue
			}
			if w.maxJobs > 0 && atomic.AddInt64(&w.dispatched, 1) >= w.maxJobs {
				_ = level.Info(w.logger).Log("msg", "max job count reached, stopping worker", "max_jobs", w.maxJobs)
				w.Stop()
				return
			}
		default:
			// All slots busy.
			if !w.sleep(ctx) {
				return
			}
		}
	}
}

// dispatchOne pops one ready job and starts its execution; the caller has
// already reserved a semaphore slot. It reports whether a job was started; on
// false the caller releases the slot.
func (w *Worker) dispatchOne(ctx context.Context) bool {
	job, err := w.driver.Pop(ctx)
	if errors.Is(err, ErrEmpty) {
		return false
	}
	if err != nil {
		w.reportError(err)
		return false
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.execute(ctx, job)
	}()
	return true
}

func (w *Worker) execute(ctx context.Context, job *PersistedJob) {
	timeout := job.HandleTimeout
	if timeout <= 0 {
		timeout = w.jobTimeout
	}

	run := func(ctx context.Context) error {
		return w.runner.Run(ctx, job)
	}
	var err error
	if timeout > 0 {
		err = w.runBounded(ctx, job, run, timeout)
	} else {
		err = run(ctx)
	}
	if err != nil {
		w.reportError(err)
	}
}

// runBounded abandons the wait when the deadline passes. The job body keeps
// its goroutine until it returns on its own; the worker only stops waiting.
func (w *Worker) runBounded(ctx context.Context, job *PersistedJob, run func(context.Context) error, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- run(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Wrapf(ErrJobTimeout, "job %s exceeded worker timeout %s", job.Key, timeout)
	}
}

// sleep waits one poll interval. It returns false when a stop condition fired
// during the wait.
func (w *Worker) sleep(ctx context.Context) bool {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-w.stop:
		return false
	case <-ctx.Done():
		w.Stop()
		return false
	}
}

func (w *Worker) drain() {
	defer close(w.done)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.shutdownTimeout):
		_ = level.Warn(w.logger).Log("msg", "shutdown deadline elapsed with jobs still in flight, proceeding anyway")
	}
	if w.onShutdown != nil {
		w.onShutdown()
	}
}

func (w *Worker) reportError(err error) {
	_ = level.Warn(w.logger).Log("err", err)
	if w.onError != nil {
		w.onError(err)
	}
}

func (w *Worker) gaugeLoop(ctx context.Context) {
	interval := w.gaugeInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			info, err := w.driver.Info(ctx)
			if err != nil {
				_ = level.Warn(w.logger).Log("err", err)
				continue
			}
			w.gauge.With("channel", "waiting").Set(float64(info.Waiting))
			w.gauge.With("channel", "delayed").Set(float64(info.Delayed))
			w.gauge.With("channel", "failed").Set(float64(info.Failed))
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}
