package queue_test

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	queue "github.com/queuekit/queue"
)

func Example_metrics() {
	gauge := prometheus.NewGaugeFrom(
		stdprometheus.GaugeOpts{
			Namespace: "myapp",
			Subsystem: "live",
			Name:      "queue_length",
			Help:      "The number of jobs per channel.",
		}, []string{"channel"},
	)

	manager, err := queue.NewManager(
		queue.DefaultConfig(),
		queue.UseGauge(gauge, 10*time.Millisecond),
	)
	if err != nil {
		panic(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	_ = manager.Dispatch(ctx, queue.JobFunc("greet", func(ctx context.Context) error {
		fmt.Println("hello world")
		close(done)
		return nil
	}))

	worker, err := manager.StartWorker(ctx, queue.PollInterval(5*time.Millisecond))
	if err != nil {
		panic(err)
	}
	<-done
	worker.Stop()
	worker.Join()

	// Output:
	// hello world
}
