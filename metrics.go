package queue

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/generic"
)

// Gauge is an alias for the queue-length gauge fed to WorkerGauge. Label it
// with "channel" before use.
type Gauge metrics.Gauge

// DriverMetrics holds the per-driver throughput and latency instruments
// recorded by an instrumented driver.
type DriverMetrics struct {
	// Pushed counts accepted envelopes, labeled by job type.
	Pushed metrics.Counter
	// Popped counts retrieved envelopes, labeled by job type.
	Popped metrics.Counter
	// Errors counts failed driver calls, labeled by operation.
	Errors metrics.Counter
	// PushLatency observes Push round-trip seconds.
	PushLatency metrics.Histogram
}

// defaultDriverMetrics backs track_metrics when no instruments were supplied:
// in-process go-kit generic metrics, readable but not exported anywhere.
func defaultDriverMetrics() DriverMetrics {
	return DriverMetrics{
		Pushed:      generic.NewCounter("queue_jobs_pushed"),
		Popped:      generic.NewCounter("queue_jobs_popped"),
		Errors:      generic.NewCounter("queue_driver_errors"),
		PushLatency: generic.NewHistogram("queue_push_latency_seconds", 50),
	}
}

// InstrumentDriver wraps a driver with throughput/latency counters. Enabled
// by the track_metrics configuration flag.
func InstrumentDriver(next Driver, m DriverMetrics) Driver {
	return &instrumentedDriver{next: next, m: m}
}

type instrumentedDriver struct {
	next Driver
	m    DriverMetrics
}

func (d *instrumentedDriver) Push(ctx context.Context, job *PersistedJob, delay time.Duration) error {
	start := time.Now()
	err := d.next.Push(ctx, job, delay)
	if d.m.PushLatency != nil {
		d.m.PushLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if d.m.Errors != nil {
			d.m.Errors.With("op", "push").Add(1)
		}
		return err
	}
	if d.m.Pushed != nil {
		d.m.Pushed.With("type", job.Key).Add(1)
	}
	return nil
}

func (d *instrumentedDriver) Pop(ctx context.Context) (*PersistedJob, error) {
	job, err := d.next.Pop(ctx)
	if err != nil {
		if d.m.Errors != nil && !errors.Is(err, ErrEmpty) {
			d.m.Errors.With("op", "pop").Add(1)
		}
		return nil, err
	}
	if d.m.Popped != nil {
		d.m.Popped.With("type", job.Key).Add(1)
	}
	return job, nil
}

func (d *instrumentedDriver) Info(ctx context.Context) (QueueInfo, error) {
	return d.next.Info(ctx)
}
