package queue_test

import (
	"context"
	"fmt"
	"time"

	queue "github.com/queuekit/queue"
)

func Example_minimum() {
	manager, err := queue.NewManager(queue.DefaultConfig())
	if err != nil {
		panic(err)
	}
	ctx := context.Background()

	greet := queue.JobFunc("greet", func(ctx context.Context) error {
		fmt.Println("hello world")
		return nil
	})
	_ = manager.Dispatch(ctx, greet)
	_ = manager.Dispatch(ctx, greet, queue.Defer(time.Hour))

	// Only the first job is ready; the second stays in the delayed set.
	for manager.Process(ctx) == nil {
	}

	// Output:
	// hello world
}
