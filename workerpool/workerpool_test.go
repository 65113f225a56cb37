package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type retryableError struct{ msg string }

func (e retryableError) Error() string   { return e.msg }
func (e retryableError) Retryable() bool { return true }

func TestRunExecutesAllTasks(t *testing.T) {
	p := New(4, Policy{})
	var count int64

	tasks := make([]Task, 10)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		}
	}

	require.NoError(t, p.Run(context.Background(), tasks))
	require.Equal(t, int64(10), count)
}

func TestRunRetriesRetryableErrors(t *testing.T) {
	var attempts int64
	p := New(1, Policy{MaxRetries: 2})

	task := Task(func(ctx context.Context) error {
		n := atomic.AddInt64(&attempts, 1)
		if n < 3 {
			return retryableError{"transient"}
		}
		return nil
	})

	err := p.Run(context.Background(), []Task{task})
	require.NoError(t, err)
	require.Equal(t, int64(3), attempts)
}

func TestRunDoesNotRetryNonRetryableErrors(t *testing.T) {
	var attempts int64
	p := New(1, Policy{MaxRetries: 2})

	task := Task(func(ctx context.Context) error {
		atomic.AddInt64(&attempts, 1)
		return errors.New("fatal")
	})

	err := p.Run(context.Background(), []Task{task})
	require.Error(t, err)
	require.Equal(t, int64(1), attempts)
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	p := New(2, Policy{})
	var current, max int64

	tasks := make([]Task, 8)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			n := atomic.AddInt64(&current, 1)
			for {
				old := atomic.LoadInt64(&max)
				if n <= old || atomic.CompareAndSwapInt64(&max, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return nil
		}
	}

	require.NoError(t, p.Run(context.Background(), tasks))
	require.LessOrEqual(t, max, int64(2))
}

func TestRunCancellation(t *testing.T) {
	p := New(2, Policy{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int64
	tasks := []Task{func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		return ctx.Err()
	}}

	err := p.Run(ctx, tasks)
	require.Error(t, err)
}
