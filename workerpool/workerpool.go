// Package workerpool implements the bounded parallel task executor the
// orchestrator drives every install/sync batch through: an
// errgroup.Group with a concurrency limit, a per-task retry envelope, and
// a pool-wide cancellation signal.
package workerpool

import (
	"context"
	"errors"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flashpack/flashpack/internal/dcontext"
	"github.com/flashpack/flashpack/internal/metrics"
)

// RetryCallback is invoked between retry attempts with the error that just
// occurred and the attempt number that failed (1-indexed).
type RetryCallback func(err error, attempt int)

// Policy configures retries and per-task timeouts applied around every
// submitted task.
type Policy struct {
	MaxRetries  int           // default 2
	RetryDelay  time.Duration // default 0 (immediate)
	TaskTimeout time.Duration // 0 disables the per-task timeout
	OnRetry     RetryCallback
}

func (p Policy) normalized() Policy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 2
	}
	return p
}

// DefaultConcurrency returns max(1, cpus-1), the pool's default size.
func DefaultConcurrency() int {
	if n := runtime.NumCPU() - 1; n > 0 {
		return n
	}
	return 1
}

// Pool runs tasks with bounded concurrency. It keeps no state between Run
// calls: each Run builds its own errgroup.
type Pool struct {
	concurrency int
	policy      Policy
}

// New constructs a Pool with the given concurrency (values below 1 select
// DefaultConcurrency()) and retry/timeout policy.
func New(concurrency int, policy Policy) *Pool {
	if concurrency < 1 {
		concurrency = DefaultConcurrency()
	}
	return &Pool{concurrency: concurrency, policy: policy.normalized()}
}

// Task is one unit of work submitted to the pool. It must itself observe
// ctx cancellation at any blocking point (network read, process wait).
type Task func(ctx context.Context) error

// Run submits every task in tasks to the pool and blocks until all have
// completed or ctx is cancelled. It returns the first error from a task
// that exhausted its retries, if any; other tasks are still allowed to
// finish (errgroup cancels the shared context but does not kill already
// dispatched goroutines).
func (p *Pool) Run(ctx context.Context, tasks []Task) error {
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, task := range tasks {
		task := task
		metrics.TasksSubmitted()
		g.Go(func() error {
			return p.runWithRetry(groupCtx, task)
		})
	}

	return g.Wait()
}

func (p *Pool) runWithRetry(ctx context.Context, task Task) error {
	var lastErr error
	for attempt := 1; attempt <= p.policy.MaxRetries+1; attempt++ {
		taskCtx := ctx
		var cancel context.CancelFunc
		if p.policy.TaskTimeout > 0 {
			taskCtx, cancel = context.WithTimeout(ctx, p.policy.TaskTimeout)
		}

		err := task(taskCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isRetryable(err) || attempt > p.policy.MaxRetries {
			break
		}

		metrics.TasksRetried()
		if p.policy.OnRetry != nil {
			p.policy.OnRetry(err, attempt)
		}
		dcontext.GetLogger(ctx).Warnf("task attempt %d failed, retrying: %v", attempt, err)

		if p.policy.RetryDelay > 0 {
			timer := time.NewTimer(p.policy.RetryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}

	metrics.TasksFailed()
	return lastErr
}

type retryableErr interface {
	Retryable() bool
}

func isRetryable(err error) bool {
	var r retryableErr
	return errors.As(err, &r) && r.Retryable()
}
