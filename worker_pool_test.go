package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolProcessesAcrossWorkers(t *testing.T) {
	d := NewInProcessDriver()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Push(ctx, makeJob("j", PriorityNormal, time.Now()), 0))
	}

	runner := &countingRunner{}
	p := NewWorkerPool(d, runner, 3, PollInterval(5*time.Millisecond))
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	waitUntil(t, 2*time.Second, func() bool { return runner.count() == 10 })
}

func TestWorkerPoolStartTwiceFails(t *testing.T) {
	p := NewWorkerPool(NewInProcessDriver(), &countingRunner{}, 1, PollInterval(5*time.Millisecond))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()
	assert.Error(t, p.Start(context.Background()))
}

func TestWorkerPoolScaleUpAndDown(t *testing.T) {
	d := NewInProcessDriver()
	runner := &countingRunner{}
	p := NewWorkerPool(d, runner, 2, PollInterval(5*time.Millisecond))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Equal(t, 2, p.Size())

	p.Scale(5)
	assert.Equal(t, 5, p.Size())

	// Shrinking waits for the removed workers to drain.
	p.Scale(2)
	assert.Equal(t, 2, p.Size())

	// The survivors still process work.
	require.NoError(t, d.Push(context.Background(), makeJob("after-scale", PriorityNormal, time.Now()), 0))
	waitUntil(t, time.Second, func() bool { return runner.count() == 1 })
}

func TestWorkerPoolScaleNoop(t *testing.T) {
	p := NewWorkerPool(NewInProcessDriver(), &countingRunner{}, 2, PollInterval(5*time.Millisecond))
	p.Scale(2)
	assert.Equal(t, 2, p.Size())
	p.Scale(-1)
	assert.Equal(t, 0, p.Size())
}

func TestWorkerPoolScaleBeforeStart(t *testing.T) {
	d := NewInProcessDriver()
	runner := &countingRunner{}
	p := NewWorkerPool(d, runner, 0, PollInterval(5*time.Millisecond))
	p.Scale(2)
	assert.Equal(t, 2, p.Size())

	require.NoError(t, d.Push(context.Background(), makeJob("pre-start", PriorityNormal, time.Now()), 0))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	waitUntil(t, time.Second, func() bool { return runner.count() == 1 })
}

func TestWorkerPoolRunSurvivesScaleDown(t *testing.T) {
	d := NewInProcessDriver()
	runner := &countingRunner{}
	p := NewWorkerPool(d, runner, 3, PollInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitUntil(t, time.Second, func() bool {
		p.mu.Lock()
		started := p.started
		p.mu.Unlock()
		return started
	})

	p.Scale(2)
	assert.Equal(t, 2, p.Size())

	// The pool must keep running after the shrink.
	select {
	case err := <-done:
		t.Fatalf("Run returned after Scale: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// And the surviving workers still process work.
	require.NoError(t, d.Push(context.Background(), makeJob("survivor", PriorityNormal, time.Now()), 0))
	waitUntil(t, time.Second, func() bool { return runner.count() == 1 })

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestWorkerPoolRunStopsOnContextCancel(t *testing.T) {
	p := NewWorkerPool(NewInProcessDriver(), &countingRunner{}, 2, PollInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
