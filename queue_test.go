package rcon_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schultz-is/rcon-go/v2"
)

func TestQueueStartsInFIFOOrder(t *testing.T) {
	for _, limit := range []int{1, 3} {
		q := rcon.NewQueue[int](limit)
		q.Pause()

		var (
			mu      sync.Mutex
			started []int
		)
		futures := make([]*rcon.Future[int], 20)
		for i := range futures {
			i := i
			futures[i] = q.Enqueue(context.Background(), func(context.Context) (int, error) {
				mu.Lock()
				started = append(started, i)
				mu.Unlock()
				return i * 2, nil
			})
		}
		require.Equal(t, len(futures), q.Len())

		q.Resume()
		for i, f := range futures {
			v, err := f.Wait(context.Background())
			require.NoError(t, err)
			assert.Equal(t, i*2, v)
		}

		if limit == 1 {
			mu.Lock()
			for i, v := range started {
				assert.Equal(t, i, v)
			}
			mu.Unlock()
		}
	}
}

func TestQueueBoundsConcurrency(t *testing.T) {
	const limit = 3
	q := rcon.NewQueue[struct{}](limit)

	var running, peak atomic.Int32
	release := make(chan struct{})

	futures := make([]*rcon.Future[struct{}], 10)
	for i := range futures {
		futures[i] = q.Enqueue(context.Background(), func(context.Context) (struct{}, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return struct{}{}, nil
		})
	}

	require.Eventually(t, func() bool { return q.Running() == limit }, time.Second, time.Millisecond)
	assert.Equal(t, len(futures)-limit, q.Len())

	close(release)
	for _, f := range futures {
		_, err := f.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.EqualValues(t, limit, peak.Load())
	assert.Zero(t, q.Running())
}

func TestQueueFailureIsIsolated(t *testing.T) {
	q := rcon.NewQueue[string](1)
	boom := errors.New("boom")

	f1 := q.Enqueue(context.Background(), func(context.Context) (string, error) { return "", boom })
	f2 := q.Enqueue(context.Background(), func(context.Context) (string, error) { return "second", nil })

	_, err := f1.Wait(context.Background())
	require.ErrorIs(t, err, boom)

	v, err := f2.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "second", v)
}

func TestQueuePauseLetsRunningFinish(t *testing.T) {
	q := rcon.NewQueue[int](1)
	release := make(chan struct{})

	f1 := q.Enqueue(context.Background(), func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	f2 := q.Enqueue(context.Background(), func(context.Context) (int, error) { return 2, nil })

	require.Eventually(t, func() bool { return q.Running() == 1 }, time.Second, time.Millisecond)
	q.Pause()
	close(release)

	v, err := f1.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, v)

	// The second item must stay queued while paused.
	select {
	case <-f2.Done():
		t.Fatal("operation dispatched while the queue was paused")
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, 1, q.Len())

	q.Resume()
	v, err = f2.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestQueueFlushRejectsWaitingItems(t *testing.T) {
	q := rcon.NewQueue[int](1)
	q.Pause()

	var ran atomic.Bool
	futures := make([]*rcon.Future[int], 5)
	for i := range futures {
		futures[i] = q.Enqueue(context.Background(), func(context.Context) (int, error) {
			ran.Store(true)
			return 0, nil
		})
	}

	require.Equal(t, len(futures), q.Flush(rcon.ErrConnectionClosed))
	for _, f := range futures {
		_, err := f.Wait(context.Background())
		require.ErrorIs(t, err, rcon.ErrConnectionClosed)
	}

	q.Resume()
	time.Sleep(20 * time.Millisecond)
	require.False(t, ran.Load())
	require.Zero(t, q.Len())
}

func TestFutureWaitHonoursContext(t *testing.T) {
	q := rcon.NewQueue[int](1)
	q.Pause()
	f := q.Enqueue(context.Background(), func(context.Context) (int, error) { return 1, nil })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewQueueClampsConcurrency(t *testing.T) {
	q := rcon.NewQueue[int](0)
	release := make(chan struct{})
	for i := 0; i < 2; i++ {
		q.Enqueue(context.Background(), func(context.Context) (int, error) {
			<-release
			return 0, nil
		})
	}
	require.Eventually(t, func() bool { return q.Running() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, 1, q.Len())
	close(release)
}
