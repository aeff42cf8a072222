package queue_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	queue "github.com/queuekit/queue"
)

func Example_deadLetterQueue() {
	dlq := queue.NewInMemoryDLQ()
	manager, err := queue.NewManager(
		queue.DefaultConfig(),
		queue.UseDLQ(dlq),
		queue.UseRetryDelay(time.Millisecond),
	)
	if err != nil {
		panic(err)
	}
	ctx := context.Background()

	doomed := queue.JobFunc("doomed", func(ctx context.Context) error {
		return errors.New("downstream unavailable")
	})
	_ = manager.Dispatch(ctx, doomed, queue.MaxAttempts(2))
	_ = manager.Process(ctx)

	records, _ := dlq.GetAll(ctx, 10, 0)
	for _, record := range records {
		fmt.Println(record.JobType, record.Attempts, record.Error)
	}

	// Output:
	// doomed 2 downstream unavailable
}
