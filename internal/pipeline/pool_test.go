package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedJobs(t *testing.T) {
	t.Parallel()

	pool := NewPool(2, 4, discardLogger())
	pool.Start()
	defer pool.Stop(context.Background())

	var ran atomic.Int32

	handles := make([]*Handle, 0, 4)
	for i := 0; i < 4; i++ {
		handle, err := pool.Submit(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
		require.NoError(t, err)
		handles = append(handles, handle)
	}

	for _, handle := range handles {
		require.NoError(t, handle.Wait(context.Background()))
	}

	require.EqualValues(t, 4, ran.Load())
}

func TestPoolHandleCarriesJobError(t *testing.T) {
	t.Parallel()

	pool := NewPool(1, 1, discardLogger())
	pool.Start()
	defer pool.Stop(context.Background())

	jobErr := errors.New("job exploded")

	handle, err := pool.Submit(func(ctx context.Context) error {
		return jobErr
	})
	require.NoError(t, err)

	<-handle.Done()
	require.ErrorIs(t, handle.Err(), jobErr)
}

func TestPoolQueueFull(t *testing.T) {
	t.Parallel()

	pool := NewPool(1, 1, discardLogger())
	pool.Start()
	defer pool.Stop(context.Background())

	release := make(chan struct{})

	// Occupy the single worker, then fill the single queue slot.
	busy, err := pool.Submit(func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	var queued *Handle
	require.Eventually(t, func() bool {
		h, err := pool.Submit(func(ctx context.Context) error { return nil })
		if err == nil {
			queued = h
		}
		return err == nil
	}, time.Second, 10*time.Millisecond)

	// Worker busy, queue occupied: the next submission is rejected
	// rather than queued unbounded.
	require.Eventually(t, func() bool {
		_, err := pool.Submit(func(ctx context.Context) error { return nil })
		return errors.Is(err, ErrQueueFull)
	}, time.Second, 10*time.Millisecond)

	close(release)
	require.NoError(t, busy.Wait(context.Background()))
	require.NoError(t, queued.Wait(context.Background()))
}

func TestPoolStopDrainsQueuedJobs(t *testing.T) {
	t.Parallel()

	pool := NewPool(1, 8, discardLogger())
	pool.Start()

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		_, err := pool.Submit(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, pool.Stop(context.Background()))
	require.EqualValues(t, 5, ran.Load())
}

func TestPoolSubmitAfterStop(t *testing.T) {
	t.Parallel()

	pool := NewPool(1, 1, discardLogger())
	pool.Start()
	require.NoError(t, pool.Stop(context.Background()))

	_, err := pool.Submit(func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrPoolStopped)
}

func TestPoolSubmitDuringStop(t *testing.T) {
	t.Parallel()

	// Hammer Submit from several goroutines while Stop closes the
	// queue. Any send racing the close panics the process, so a clean
	// pass is the assertion.
	for i := 0; i < 200; i++ {
		pool := NewPool(1, 4, discardLogger())
		pool.Start()

		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					if _, err := pool.Submit(func(ctx context.Context) error { return nil }); errors.Is(err, ErrPoolStopped) {
						return
					}
				}
			}()
		}

		require.NoError(t, pool.Stop(context.Background()))
		wg.Wait()
	}
}

func TestHandleWaitRespectsContext(t *testing.T) {
	t.Parallel()

	pool := NewPool(1, 1, discardLogger())
	pool.Start()
	defer pool.Stop(context.Background())

	release := make(chan struct{})
	handle, err := pool.Submit(func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, handle.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, handle.Wait(context.Background()))
}
