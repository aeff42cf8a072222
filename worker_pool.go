package queue

import (
	"context"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/oklog/run"
	"github.com/pkg/errors"
)

// WorkerPool manages N independent workers sharing one driver and supports
// scaling at runtime: growing starts new workers immediately, shrinking
// gracefully stops and removes the excess workers from the tail.
type WorkerPool struct {
	driver  Driver
	runner  Runner
	logger  log.Logger
	opts    []WorkerOption
	mu      sync.Mutex
	workers []*Worker
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewWorkerPool creates a pool of size workers. Every worker is built with the
// same options; the pool injects its own shutdown wiring on top.
func NewWorkerPool(driver Driver, runner Runner, size int, opts ...WorkerOption) *WorkerPool {
	if size < 0 {
		size = 0
	}
	p := &WorkerPool{
		driver: driver,
		runner: runner,
		logger: log.NewNopLogger(),
		opts:   opts,
	}
	for i := 0; i < size; i++ {
		p.workers = append(p.workers, NewWorker(driver, runner, opts...))
	}
	return p
}

// UsePoolLogger feeds the pool a logger. Must be called before Start.
func (p *WorkerPool) UsePoolLogger(logger log.Logger) {
	p.logger = logger
}

// Start launches every worker in the background.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("worker pool already started")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	for _, w := range p.workers {
		w.Start(p.ctx)
	}
	p.started = true
	_ = level.Info(p.logger).Log("msg", "worker pool started", "size", len(p.workers))
	return nil
}

// Run blocks until ctx is canceled, then stops and drains every worker before
// returning. Workers run in the background exactly as under Start, so dynamic
// Scale calls work while Run is blocking: a shrink removes only the tail
// workers and the pool keeps running.
func (p *WorkerPool) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	_ = level.Info(p.logger).Log("msg", "worker pool running", "size", p.Size())

	var group run.Group
	group.Add(func() error {
		<-p.ctx.Done()
		return p.ctx.Err()
	}, func(error) {
		p.cancel()
	})
	err := group.Run()
	p.Stop()

	p.mu.Lock()
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()
	for _, w := range workers {
		w.Join()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Scale adjusts the pool to n workers. Growth is immediate; shrinking stops
// the tail workers gracefully and waits for their drain.
func (p *WorkerPool) Scale(n int) {
	if n < 0 {
		n = 0
	}
	p.mu.Lock()
	current := len(p.workers)
	switch {
	case n > current:
		for i := current; i < n; i++ {
			w := NewWorker(p.driver, p.runner, p.opts...)
			p.workers = append(p.workers, w)
			if p.started {
				w.Start(p.ctx)
			}
		}
		p.mu.Unlock()
		_ = level.Info(p.logger).Log("msg", "worker pool scaled up", "from", current, "to", n)
	case n < current:
		excess := p.workers[n:]
		p.workers = p.workers[:n]
		p.mu.Unlock()
		var wg sync.WaitGroup
		for _, w := range excess {
			w := w
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.Stop()
				w.Join()
			}()
		}
		wg.Wait()
		_ = level.Info(p.logger).Log("msg", "worker pool scaled down", "from", current, "to", n)
	default:
		p.mu.Unlock()
	}
}

// Size returns the current number of workers.
func (p *WorkerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Stop gracefully stops every worker.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	cancel := p.cancel
	p.started = false
	p.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	if cancel != nil {
		cancel()
	}
	_ = level.Info(p.logger).Log("msg", "worker pool stopped")
}
