package queue

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() Config {
	return Config{
		Default: "default",
		Drivers: map[string]DriverConfig{
			"default": {Driver: DriverInMemory, UseDLQ: true, MaxRetries: 3},
		},
	}
}

func TestManagerDefaultsWhenConfigIsEmpty(t *testing.T) {
	m, err := NewManager(Config{})
	require.NoError(t, err)
	_, err = m.Driver("default")
	assert.NoError(t, err)
}

func TestManagerRejectsUnknownDriverKind(t *testing.T) {
	_, err := NewManager(Config{
		Default: "default",
		Drivers: map[string]DriverConfig{"default": {Driver: "carrier-pigeon"}},
	})
	assert.True(t, errors.Is(err, ErrDriverNotFound))
}

func TestManagerRejectsFileDriverWithoutPath(t *testing.T) {
	_, err := NewManager(Config{
		Default: "default",
		Drivers: map[string]DriverConfig{"default": {Driver: DriverFile}},
	})
	assert.True(t, errors.Is(err, ErrDriverNotFound))
}

func TestManagerRejectsMissingDefault(t *testing.T) {
	_, err := NewManager(Config{
		Default: "primary",
		Drivers: map[string]DriverConfig{"other": {Driver: DriverInMemory}},
	})
	assert.True(t, errors.Is(err, ErrDriverNotFound))
}

func TestManagerDispatchAndProcess(t *testing.T) {
	m, err := NewManager(memoryConfig())
	require.NoError(t, err)
	ctx := context.Background()

	var ran int32
	job := JobFunc("count.up", func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	require.NoError(t, m.Dispatch(ctx, job))
	require.NoError(t, m.Process(ctx))
	assert.EqualValues(t, 1, atomic.LoadInt32(&ran))

	assert.True(t, errors.Is(m.Process(ctx), ErrEmpty))
}

func TestManagerPersistentDispatchRequiresRegistration(t *testing.T) {
	m, err := NewManager(Config{
		Default: "default",
		Drivers: map[string]DriverConfig{
			"default": {Driver: DriverFile, Path: t.TempDir()},
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	err = m.Dispatch(ctx, sendEmail{To: "a@b.c"})
	assert.True(t, errors.Is(err, ErrUnregisteredJobType))

	m.Registry().Register("email.send", sendEmailFactory)
	require.NoError(t, m.Dispatch(ctx, sendEmail{To: "a@b.c"}))

	var ran int32
	m.Registry().Register("email.send", func(raw json.RawMessage) (Job, error) {
		return JobFunc("email.send", func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}), nil
	})
	require.NoError(t, m.Process(ctx))
	assert.EqualValues(t, 1, atomic.LoadInt32(&ran))
}

func TestManagerDispatchToUnknownDriver(t *testing.T) {
	m, err := NewManager(memoryConfig())
	require.NoError(t, err)
	err = m.DispatchTo(context.Background(), "nope", JobFunc("noop", func(ctx context.Context) error { return nil }))
	assert.True(t, errors.Is(err, ErrDriverNotFound))
}

func TestManagerProcessesByPriority(t *testing.T) {
	m, err := NewManager(memoryConfig())
	require.NoError(t, err)
	ctx := context.Background()

	var order []string
	track := func(name string) Job {
		return JobFunc("track."+name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	require.NoError(t, m.Dispatch(ctx, track("low"), WithPriority(PriorityLow)))
	require.NoError(t, m.Dispatch(ctx, track("critical"), WithPriority(PriorityCritical)))
	require.NoError(t, m.Dispatch(ctx, track("normal"), WithPriority(PriorityNormal)))

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Process(ctx))
	}
	assert.Equal(t, []string{"critical", "normal", "low"}, order)
}

func TestManagerRetriesThenMovesToDLQ(t *testing.T) {
	dlq := NewInMemoryDLQ()
	var retried, aborted int32
	m, err := NewManager(memoryConfig(),
		UseDLQ(dlq),
		UseRetryDelay(time.Millisecond),
		UseHooks(Hooks{
			OnRetry: func(e RetryingJob) { atomic.AddInt32(&retried, 1) },
			OnAbort: func(e AbortedJob) { atomic.AddInt32(&aborted, 1) },
		}),
	)
	require.NoError(t, err)
	ctx := context.Background()

	var attempts int32
	job := JobFunc("always.fails", func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("boom")
	})
	require.NoError(t, m.Dispatch(ctx, job))

	err = m.Process(ctx)
	assert.Error(t, err)

	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts), "max_retries bounds the attempt count")
	assert.EqualValues(t, 2, atomic.LoadInt32(&retried), "a retry hook per re-attempt, none for the terminal failure")
	assert.EqualValues(t, 1, atomic.LoadInt32(&aborted))

	records, err := dlq.GetAll(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "always.fails", records[0].JobType)
	assert.Equal(t, 3, records[0].Attempts)
	assert.Equal(t, "boom", records[0].Error)
}

func TestManagerRetryPredicateShortCircuits(t *testing.T) {
	fatal := errors.New("fatal")
	m, err := NewManager(memoryConfig(),
		UseRetryDelay(time.Millisecond),
		UseRetryPredicate(func(err error) bool { return !errors.Is(err, fatal) }),
	)
	require.NoError(t, err)
	ctx := context.Background()

	var attempts int32
	require.NoError(t, m.Dispatch(ctx, JobFunc("fatal.job", func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return fatal
	})))
	assert.Error(t, m.Process(ctx))
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts))
}

func TestManagerMaxAttemptsOptionOverridesConfig(t *testing.T) {
	m, err := NewManager(memoryConfig(), UseRetryDelay(time.Millisecond))
	require.NoError(t, err)
	ctx := context.Background()

	var attempts int32
	require.NoError(t, m.Dispatch(ctx, JobFunc("flaky", func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("boom")
	}), MaxAttempts(1)))
	assert.Error(t, m.Process(ctx))
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts))
}

func TestManagerContainsPanickingJobs(t *testing.T) {
	dlq := NewInMemoryDLQ()
	m, err := NewManager(memoryConfig(), UseDLQ(dlq), UseRetryDelay(time.Millisecond))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Dispatch(ctx, JobFunc("panics", func(ctx context.Context) error {
		panic("kaboom")
	}), MaxAttempts(1)))
	assert.Error(t, m.Process(ctx))

	records, err := dlq.GetAll(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Error, "kaboom")
	assert.NotEmpty(t, records[0].Stack)
}

func TestManagerSyncDriverFailureRoutesToDLQNotDispatch(t *testing.T) {
	dlq := NewInMemoryDLQ()
	m, err := NewManager(Config{
		Default: "default",
		Drivers: map[string]DriverConfig{
			"default": {Driver: DriverSync, UseDLQ: true, MaxRetries: 1},
		},
	}, UseDLQ(dlq), UseRetryDelay(time.Millisecond))
	require.NoError(t, err)
	ctx := context.Background()

	err = m.Dispatch(ctx, JobFunc("inline.fails", func(ctx context.Context) error {
		return errors.New("boom")
	}))
	assert.NoError(t, err, "job-body failures do not surface through Dispatch")

	count, err := dlq.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestManagerDispatchBatch(t *testing.T) {
	m, err := NewManager(memoryConfig())
	require.NoError(t, err)
	ctx := context.Background()

	var ran int32
	jobs := make([]Job, 5)
	for i := range jobs {
		jobs[i] = JobFunc("batch", func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		})
	}
	require.NoError(t, m.DispatchBatch(ctx, jobs))

	info, err := mustDriver(t, m).Info(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, info.Waiting)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Process(ctx))
	}
	assert.EqualValues(t, 5, atomic.LoadInt32(&ran))
}

func TestManagerDelayedDispatch(t *testing.T) {
	m, err := NewManager(memoryConfig())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Dispatch(ctx, JobFunc("later", func(ctx context.Context) error { return nil }), Defer(time.Minute)))
	assert.True(t, errors.Is(m.Process(ctx), ErrEmpty))

	info, err := mustDriver(t, m).Info(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.Delayed)
}

func TestManagerStartWorkerProcessesJobs(t *testing.T) {
	m, err := NewManager(memoryConfig())
	require.NoError(t, err)
	ctx := context.Background()

	var ran int32
	require.NoError(t, m.Dispatch(ctx, JobFunc("bg", func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})))

	w, err := m.StartWorker(ctx, PollInterval(5*time.Millisecond))
	require.NoError(t, err)
	defer func() {
		w.Stop()
		w.Join()
	}()

	waitUntil(t, time.Second, func() bool { return atomic.LoadInt32(&ran) == 1 })
}

func TestManagerBootStartsBackgroundWorkers(t *testing.T) {
	m, err := NewManager(Config{
		Default: "default",
		Drivers: map[string]DriverConfig{
			"default": {
				Driver:          DriverInMemory,
				AutoStart:       true,
				RunInBackground: true,
				Delay:           5 * time.Millisecond,
			},
			"idle": {Driver: DriverInMemory},
		},
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ran int32
	require.NoError(t, m.Dispatch(ctx, JobFunc("bg.boot", func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})))
	require.NoError(t, m.DispatchTo(ctx, "idle", JobFunc("never", func(ctx context.Context) error { return nil })))

	// With only background drivers Boot returns at once; the worker picks the
	// job up behind it.
	booted := make(chan error, 1)
	go func() { booted <- m.Boot(ctx) }()
	select {
	case err := <-booted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Boot must not block when every auto_start driver runs in background")
	}
	waitUntil(t, time.Second, func() bool { return atomic.LoadInt32(&ran) == 1 })

	// Drivers without auto_start get no worker.
	idle, err := m.Driver("idle")
	require.NoError(t, err)
	info, err := idle.Info(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.Waiting)
}

func TestManagerBootBlocksOnForegroundWorker(t *testing.T) {
	m, err := NewManager(Config{
		Default: "default",
		Drivers: map[string]DriverConfig{
			"default": {
				Driver:    DriverInMemory,
				AutoStart: true,
				MaxJobs:   1,
				Delay:     5 * time.Millisecond,
			},
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	var ran int32
	require.NoError(t, m.Dispatch(ctx, JobFunc("fg.boot", func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})))

	// The foreground worker runs on Boot's goroutine and stops after max_jobs,
	// so Boot returns only once the job has been processed.
	require.NoError(t, m.Boot(ctx))
	assert.EqualValues(t, 1, atomic.LoadInt32(&ran))
}

func TestManagerSelfConfiguringJob(t *testing.T) {
	m, err := NewManager(memoryConfig())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Dispatch(ctx, urgentJob{}))

	driver := mustDriver(t, m)
	envelope, err := driver.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, PriorityCritical, envelope.Priority)
	assert.Equal(t, 30*time.Second, envelope.HandleTimeout)
}

func mustDriver(t *testing.T, m *Manager) Driver {
	t.Helper()
	driver, err := m.Driver("default")
	require.NoError(t, err)
	return driver
}

type urgentJob struct{}

func (urgentJob) Type() string { return "urgent" }

func (urgentJob) Execute(ctx context.Context) error { return nil }

func (urgentJob) PersistOptions() []PersistOption {
	return []PersistOption{WithPriority(PriorityCritical), Timeout(30 * time.Second)}
}
