package queue

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// RunFunc is one stage of the execution pipeline: it runs the remainder of the
// chain for the given job context.
type RunFunc func(ctx context.Context, jc *JobContext) error

// Middleware wraps a RunFunc with cross-cutting behavior. Composition is the
// classic onion: the first middleware in a chain sees the run first on entry
// and last on exit.
type Middleware func(next RunFunc) RunFunc

// Chain composes middleware around a terminal RunFunc, outermost first. With
// no middleware the terminal function runs directly.
func Chain(terminal RunFunc, middleware ...Middleware) RunFunc {
	run := terminal
	for i := len(middleware) - 1; i >= 0; i-- {
		run = middleware[i](run)
	}
	return run
}

// Logging emits a start line before and a completion or failure line after the
// rest of the chain. It never alters control flow.
func Logging(logger log.Logger) Middleware {
	return func(next RunFunc) RunFunc {
		return func(ctx context.Context, jc *JobContext) error {
			_ = level.Debug(logger).Log(
				"msg", "job started",
				"type", jc.Envelope.Key,
				"id", jc.Envelope.UniqueID,
				"queue", jc.Envelope.Queue,
			)
			err := next(ctx, jc)
			if err != nil {
				_ = level.Warn(logger).Log(
					"msg", "job failed",
					"type", jc.Envelope.Key,
					"id", jc.Envelope.UniqueID,
					"err", err,
				)
				return err
			}
			_ = level.Debug(logger).Log(
				"msg", "job completed",
				"type", jc.Envelope.Key,
				"id", jc.Envelope.UniqueID,
			)
			return nil
		}
	}
}

// Timing records the elapsed wall-clock duration of the rest of the chain into
// the context metadata, success or failure alike.
func Timing() Middleware {
	return func(next RunFunc) RunFunc {
		return func(ctx context.Context, jc *JobContext) error {
			start := time.Now()
			defer func() {
				jc.Meta[MetaElapsed] = time.Since(start)
			}()
			return next(ctx, jc)
		}
	}
}

// WithTimeout bounds the rest of the chain with a deadline. On expiry it
// returns an error wrapping ErrJobTimeout without waiting for the inner call
// to come back.
//
// The timeout is best-effort: the context handed to the job is canceled, but a
// job body that ignores cancellation keeps running on its goroutine until it
// returns on its own. The pipeline just stops waiting for it.
func WithTimeout(timeout time.Duration) Middleware {
	return func(next RunFunc) RunFunc {
		return func(ctx context.Context, jc *JobContext) error {
			if timeout <= 0 {
				return next(ctx, jc)
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- next(ctx, jc)
			}()
			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return errors.Wrapf(ErrJobTimeout, "job %s exceeded %s", jc.Envelope.Key, timeout)
			}
		}
	}
}

// RetryOptions tunes the Retry middleware.
type RetryOptions struct {
	// MaxAttempts is the total number of executions, first try included.
	// Values below 1 are treated as 1.
	MaxAttempts int
	// Delay is the base backoff: the wait before attempt n+1 is Delay * n
	// (linear backoff).
	Delay time.Duration
	// RetryIf, when set, gates retries: returning false rethrows the error
	// immediately with no further attempts. Nil retries every error.
	RetryIf func(err error) bool
	// OnRetry, when set, observes each retry decision before the backoff
	// sleep. It does not fire for the terminal failure.
	OnRetry func(attempt int, err error)
}

// Retry re-invokes the rest of the chain on error, up to MaxAttempts total
// executions, sleeping Delay * attemptNumber between attempts. The attempt
// counter is kept in context metadata under MetaAttempt.
func Retry(opts RetryOptions) Middleware {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return func(next RunFunc) RunFunc {
		return func(ctx context.Context, jc *JobContext) error {
			var err error
			for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
				jc.Meta[MetaAttempt] = attempt
				jc.Envelope.Attempts = attempt
				err = next(ctx, jc)
				if err == nil {
					return nil
				}
				if opts.RetryIf != nil && !opts.RetryIf(err) {
					return err
				}
				if attempt == opts.MaxAttempts {
					break
				}
				if opts.OnRetry != nil {
					opts.OnRetry(attempt, err)
				}
				backoff := opts.Delay * time.Duration(attempt)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return err
		}
	}
}

// RateLimit allows at most n executions in any trailing one-second window,
// sleeping the calling execution until capacity frees up. The window is
// tracked with a timestamp ring, a cheap stand-in for a token bucket.
func RateLimit(n int) Middleware {
	var (
		mu   sync.Mutex
		ring = make([]time.Time, 0, n)
	)
	return func(next RunFunc) RunFunc {
		return func(ctx context.Context, jc *JobContext) error {
			for {
				mu.Lock()
				now := time.Now()
				// Drop timestamps that left the window.
				for len(ring) > 0 && now.Sub(ring[0]) >= time.Second {
					ring = ring[1:]
				}
				if len(ring) < n {
					ring = append(ring, now)
					mu.Unlock()
					break
				}
				wait := time.Second - now.Sub(ring[0])
				mu.Unlock()
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return next(ctx, jc)
		}
	}
}

// Deduplicate skips an execution when the job's dedup key was already seen
// within the window. A skip counts as success, not as an error; it is marked
// in metadata under MetaDeduplicated. Jobs without a dedup key always run.
func Deduplicate(window time.Duration) Middleware {
	var (
		mu   sync.Mutex
		seen = make(map[string]time.Time)
	)
	return func(next RunFunc) RunFunc {
		return func(ctx context.Context, jc *JobContext) error {
			key := jc.Envelope.DedupKey
			if key == "" {
				return next(ctx, jc)
			}
			now := time.Now()
			mu.Lock()
			if at, ok := seen[key]; ok && now.Sub(at) < window {
				mu.Unlock()
				jc.Meta[MetaDeduplicated] = true
				return nil
			}
			seen[key] = now
			// Opportunistic cleanup keeps the map from growing forever.
			for k, at := range seen {
				if now.Sub(at) >= window {
					delete(seen, k)
				}
			}
			mu.Unlock()
			return next(ctx, jc)
		}
	}
}

// Conditional applies the inner middleware only when the predicate holds for
// the job context; otherwise the rest of the chain runs unwrapped.
func Conditional(predicate func(jc *JobContext) bool, inner Middleware) Middleware {
	return func(next RunFunc) RunFunc {
		wrapped := inner(next)
		return func(ctx context.Context, jc *JobContext) error {
			if predicate(jc) {
				return wrapped(ctx, jc)
			}
			return next(ctx, jc)
		}
	}
}
