package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Manager binds the configured drivers and exposes the programmatic surface
// the rest of the application uses: Dispatch, DispatchBatch, Process,
// StartWorker. One Manager owns one Registry, one Codec, one DLQ and a pipeline
// shared by every driver it constructs.
type Manager struct {
	logger     log.Logger
	registry   *Registry
	codec      Codec
	dlq        DeadLetterQueue
	hooks      Hooks
	middleware []Middleware
	retryDelay time.Duration
	retryIf    func(error) bool
	gauge      Gauge
	gaugeEvery time.Duration
	instrument *DriverMetrics

	config  Config
	drivers map[string]Driver
	redis   redis.UniversalClient
}

// ManagerOption tunes a Manager.
type ManagerOption func(*Manager)

// UseLogger feeds the manager (and everything it constructs) a logger.
func UseLogger(logger log.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// UseRegistry supplies the job registry. Without it the manager creates a
// fresh one; share a registry when several managers must reconstruct the same
// job types.
func UseRegistry(registry *Registry) ManagerOption {
	return func(m *Manager) {
		m.registry = registry
	}
}

// UseCodec replaces the default JSON codec.
func UseCodec(codec Codec) ManagerOption {
	return func(m *Manager) {
		m.codec = codec
	}
}

// UseDLQ supplies the dead letter queue used by drivers configured with
// use_dlq. Without it those failures are logged and dropped.
func UseDLQ(dlq DeadLetterQueue) ManagerOption {
	return func(m *Manager) {
		m.dlq = dlq
	}
}

// UseHooks installs retry/abort observers.
func UseHooks(hooks Hooks) ManagerOption {
	return func(m *Manager) {
		m.hooks = hooks
	}
}

// UseMiddleware appends custom middleware to the pipeline, between the
// built-in logging/timing pair and the retry stage.
func UseMiddleware(middleware ...Middleware) ManagerOption {
	return func(m *Manager) {
		m.middleware = append(m.middleware, middleware...)
	}
}

// UseRetryDelay sets the base backoff between retry attempts. Default 1s.
func UseRetryDelay(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.retryDelay = d
	}
}

// UseRetryPredicate gates which errors are retried. Default: everything except
// ErrUnregisteredJobType and ErrJobDeserialization.
func UseRetryPredicate(f func(error) bool) ManagerOption {
	return func(m *Manager) {
		m.retryIf = f
	}
}

// UseRedisClient supplies a shared redis client for redis drivers instead of
// letting the manager dial from host/port config.
func UseRedisClient(client redis.UniversalClient) ManagerOption {
	return func(m *Manager) {
		m.redis = client
	}
}

// UseGauge makes every started worker report queue lengths to the gauge on
// the given interval.
func UseGauge(gauge Gauge, interval time.Duration) ManagerOption {
	return func(m *Manager) {
		m.gauge = gauge
		m.gaugeEvery = interval
	}
}

// UseDriverMetrics supplies the instruments used for drivers configured with
// track_metrics. Without it in-process generic metrics are used.
func UseDriverMetrics(m DriverMetrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.instrument = &m
	}
}

// NewManager constructs a Manager from configuration, building one driver per
// configured name. Construction fails if a block names an unknown driver kind
// or a file driver's path cannot be prepared.
func NewManager(cfg Config, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		logger:     log.NewNopLogger(),
		codec:      JSONCodec{},
		retryDelay: time.Second,
		config:     cfg,
		drivers:    make(map[string]Driver),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = NewRegistry()
	}
	if m.retryIf == nil {
		m.retryIf = defaultRetryPredicate
	}
	if len(cfg.Drivers) == 0 {
		m.config = DefaultConfig()
	}
	if m.config.Default == "" {
		m.config.Default = "default"
	}
	for name, dc := range m.config.Drivers {
		driver, err := m.buildDriver(name, dc)
		if err != nil {
			return nil, err
		}
		if dc.TrackMetrics {
			instruments := defaultDriverMetrics()
			if m.instrument != nil {
				instruments = *m.instrument
			}
			driver = InstrumentDriver(driver, instruments)
		}
		m.drivers[name] = driver
	}
	if _, ok := m.drivers[m.config.Default]; !ok {
		return nil, errors.Wrapf(ErrDriverNotFound, "default driver %q not configured", m.config.Default)
	}
	return m, nil
}

func defaultRetryPredicate(err error) bool {
	return !errors.Is(err, ErrUnregisteredJobType) && !errors.Is(err, ErrJobDeserialization)
}

func (m *Manager) buildDriver(name string, dc DriverConfig) (Driver, error) {
	switch dc.Driver {
	case DriverSync:
		return NewSyncDriver(m.runnerFor(dc)), nil
	case DriverInMemory, "":
		return NewInProcessDriver(), nil
	case DriverFile:
		if dc.Path == "" {
			return nil, errors.Wrapf(ErrDriverNotFound, "file driver %q needs a path", name)
		}
		return NewFileDriver(dc.Path)
	case DriverRedis:
		client := m.redis
		if client == nil {
			client = redis.NewClient(&redis.Options{
				Addr:     fmt.Sprintf("%s:%d", dc.Host, dc.Port),
				Password: dc.Password,
			})
		}
		queueName := dc.QueueName
		if queueName == "" {
			queueName = name
		}
		return &RedisDriver{
			Logger:        m.logger,
			RedisClient:   client,
			ChannelConfig: NamespacedChannelConfig("queue", "live", queueName),
		}, nil
	default:
		return nil, errors.Wrapf(ErrDriverNotFound, "unknown driver kind %q for %q", dc.Driver, name)
	}
}

// Registry returns the manager's job registry, for registering factories at
// boot.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Driver returns a configured driver by name.
func (m *Manager) Driver(name string) (Driver, error) {
	driver, ok := m.drivers[name]
	if !ok {
		return nil, errors.Wrapf(ErrDriverNotFound, "%q", name)
	}
	return driver, nil
}

// Dispatch hands the job to the default driver. Errors returned here are
// dispatch-time errors only: configuration problems (unknown driver,
// unserializable job) or an unreachable backing store. Job-body failures
// surface asynchronously through logs, hooks and the DLQ, never through
// Dispatch — except that the sync driver reports ErrDriverUnavailable-class
// problems like every other driver.
func (m *Manager) Dispatch(ctx context.Context, job Job, opts ...PersistOption) error {
	return m.DispatchTo(ctx, m.config.Default, job, opts...)
}

// DispatchTo is Dispatch against a named driver.
func (m *Manager) DispatchTo(ctx context.Context, driverName string, job Job, opts ...PersistOption) error {
	driver, ok := m.drivers[driverName]
	if !ok {
		return errors.Wrapf(ErrDriverNotFound, "%q", driverName)
	}
	dc := m.config.Drivers[driverName]
	// Persistent drivers must be able to reconstruct the job later; catching a
	// missing factory here keeps unreconstructable envelopes out of the store.
	if (dc.Driver == DriverFile || dc.Driver == DriverRedis) && !m.registry.Has(job.Type()) {
		return errors.Wrapf(ErrUnregisteredJobType, "cannot dispatch %q to persistent driver %q", job.Type(), driverName)
	}

	spec := newEnvelopeSpec()
	if dc.MaxRetries > 0 {
		spec.maxAttempts = dc.MaxRetries
	}
	if sc, ok := job.(SelfConfigurer); ok {
		for _, opt := range sc.PersistOptions() {
			opt(&spec)
		}
	}
	for _, opt := range opts {
		opt(&spec)
	}

	value, err := m.codec.Marshal(job)
	if err != nil {
		return err
	}
	envelope := &PersistedJob{
		UniqueID:      spec.uniqueID,
		Key:           job.Type(),
		Value:         value,
		Queue:         spec.queue,
		Priority:      spec.priority,
		MaxAttempts:   spec.maxAttempts,
		HandleTimeout: spec.handleTimeout,
		DedupKey:      spec.dedupKey,
		EnqueuedAt:    time.Now(),
		job:           job,
	}
	if err := driver.Push(ctx, envelope, spec.delay); err != nil {
		if isDispatchError(err) {
			return err
		}
		// A sync driver ran the job inline and it failed; that failure has
		// already been logged and routed, it does not surface here.
		return nil
	}
	return nil
}

func isDispatchError(err error) bool {
	return errors.Is(err, ErrDriverUnavailable) ||
		errors.Is(err, ErrDriverNotFound) ||
		errors.Is(err, ErrUnregisteredJobType) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// DispatchBatch dispatches several jobs, pushing concurrently, and returns the
// first dispatch-time error encountered.
func (m *Manager) DispatchBatch(ctx context.Context, jobs []Job, opts ...PersistOption) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			return m.Dispatch(ctx, job, opts...)
		})
	}
	return g.Wait()
}

// Process advances the default driver by exactly one job: pop, run through
// the pipeline, route terminal failure. It returns ErrEmpty when nothing is
// ready — useful for driving the queue manually in tests.
func (m *Manager) Process(ctx context.Context) error {
	driver := m.drivers[m.config.Default]
	envelope, err := driver.Pop(ctx)
	if err != nil {
		return err
	}
	return m.Runner().Run(ctx, envelope)
}

// Runner returns the shared pipeline runner for the default driver's
// configuration, for wiring workers manually.
func (m *Manager) Runner() Runner {
	return m.runnerFor(m.config.Drivers[m.config.Default])
}

// RunnerFor returns the pipeline runner configured for a named driver.
func (m *Manager) RunnerFor(driverName string) (Runner, error) {
	dc, ok := m.config.Drivers[driverName]
	if !ok {
		return nil, errors.Wrapf(ErrDriverNotFound, "%q", driverName)
	}
	return m.runnerFor(dc), nil
}

// StartWorker builds and starts a worker on the default driver. Explicit
// options win over the configured auto-boot settings.
func (m *Manager) StartWorker(ctx context.Context, opts ...WorkerOption) (*Worker, error) {
	return m.startWorkerOn(ctx, m.config.Default, nil, opts...)
}

// Boot starts workers for every driver configured with auto_start. Foreground
// workers (run_in_background false) run on the calling goroutine, so Boot
// blocks until they stop; with only background workers Boot returns at once.
func (m *Manager) Boot(ctx context.Context) error {
	var foreground []*Worker
	for name, dc := range m.config.Drivers {
		dc := dc
		if !dc.AutoStart {
			continue
		}
		if dc.RunInBackground {
			if _, err := m.startWorkerOn(ctx, name, &dc); err != nil {
				return err
			}
			continue
		}
		w, err := m.buildWorkerOn(name, &dc)
		if err != nil {
			return err
		}
		foreground = append(foreground, w)
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range foreground {
		w := w
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	return g.Wait()
}

func (m *Manager) startWorkerOn(ctx context.Context, name string, dc *DriverConfig, opts ...WorkerOption) (*Worker, error) {
	w, err := m.buildWorkerOn(name, dc, opts...)
	if err != nil {
		return nil, err
	}
	w.Start(ctx)
	return w, nil
}

func (m *Manager) buildWorkerOn(name string, dc *DriverConfig, opts ...WorkerOption) (*Worker, error) {
	driver, ok := m.drivers[name]
	if !ok {
		return nil, errors.Wrapf(ErrDriverNotFound, "%q", name)
	}
	if dc == nil {
		conf := m.config.Drivers[name]
		dc = &conf
	}
	workerOpts := []WorkerOption{WorkerLogger(m.logger)}
	if dc.MaxJobs > 0 {
		workerOpts = append(workerOpts, MaxJobs(dc.MaxJobs))
	}
	if dc.Delay > 0 {
		workerOpts = append(workerOpts, PollInterval(dc.Delay))
	}
	if dc.Timeout > 0 {
		workerOpts = append(workerOpts, JobTimeout(dc.Timeout))
	}
	if m.gauge != nil {
		workerOpts = append(workerOpts, WorkerGauge(m.gauge, m.gaugeEvery))
	}
	workerOpts = append(workerOpts, opts...)
	return NewWorker(driver, m.runnerFor(*dc), workerOpts...), nil
}

// NewPool builds a worker pool of the given size on the default driver.
func (m *Manager) NewPool(size int, opts ...WorkerOption) *WorkerPool {
	driver := m.drivers[m.config.Default]
	workerOpts := append([]WorkerOption{WorkerLogger(m.logger)}, opts...)
	pool := NewWorkerPool(driver, m.Runner(), size, workerOpts...)
	pool.UsePoolLogger(m.logger)
	return pool
}

// runnerFor assembles the per-driver pipeline: logging and timing outermost,
// custom middleware, then retry wrapping a per-attempt timeout around the
// terminal execution. Terminal failures are routed here, so every driver and
// every worker shares one failure path.
func (m *Manager) runnerFor(dc DriverConfig) Runner {
	handler := &FailedJobHandler{Logger: m.logger}
	if dc.UseDLQ {
		handler.DLQ = m.dlq
	}
	return RunnerFunc(func(ctx context.Context, envelope *PersistedJob) error {
		jc := newJobContext(envelope)

		job := envelope.Job()
		if job == nil {
			reconstructed, err := m.codec.Unmarshal(envelope.Value, m.registry)
			if err != nil {
				jc.Err = err
				m.hooks.aborted(err, envelope)
				_ = handler.Handle(ctx, jc, err)
				return err
			}
			job = reconstructed
		}

		maxAttempts := envelope.MaxAttempts
		if maxAttempts < 1 {
			maxAttempts = DefaultMaxAttempts
		}

		chain := []Middleware{Logging(m.logger), Timing()}
		chain = append(chain, m.middleware...)
		chain = append(chain, Retry(RetryOptions{
			MaxAttempts: maxAttempts,
			Delay:       m.retryDelay,
			RetryIf:     m.retryIf,
			OnRetry: func(attempt int, err error) {
				_ = level.Info(m.logger).Log(
					"msg", "job failed, retrying",
					"type", envelope.Key,
					"name", displayName(job),
					"attempt", attempt,
					"err", err,
				)
				m.hooks.retrying(err, envelope)
			},
		}))
		if envelope.HandleTimeout > 0 {
			chain = append(chain, WithTimeout(envelope.HandleTimeout))
		}

		run := Chain(terminalRun(job), chain...)
		err := run(ctx, jc)
		if err != nil {
			jc.Err = err
			m.hooks.aborted(err, envelope)
			_ = handler.Handle(ctx, jc, err)
			return err
		}
		return nil
	})
}

// terminalRun executes the job body with panic containment: a panicking job is
// a failed job with a captured stack, not a crashed worker.
func terminalRun(job Job) RunFunc {
	return func(ctx context.Context, jc *JobContext) (err error) {
		defer func() {
			if p := recover(); p != nil {
				jc.Stack = string(debug.Stack())
				err = errors.Errorf("job %s panicked: %v", jc.Envelope.Key, p)
			}
		}()
		return job.Execute(ctx)
	}
}
