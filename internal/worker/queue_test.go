package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueue_RunsJobsInOrderPerKey(t *testing.T) {
	q := NewQueue(context.Background(), QueueOptions{MaxConcurrent: 4})
	defer q.Stop()

	var mu sync.Mutex
	got := map[string][]int{}
	for i := 0; i < 20; i++ {
		for _, key := range []string{"a", "b"} {
			i, key := i, key
			require.NoError(t, q.Enqueue(Job{Key: key, Run: func(context.Context) error {
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
				return nil
			}}))
		}
	}
	require.True(t, q.WaitIdle(2*time.Second))

	for _, key := range []string{"a", "b"} {
		require.Len(t, got[key], 20)
		for i, v := range got[key] {
			require.Equal(t, i, v)
		}
	}
}

func TestQueue_BoundsConcurrencyAcrossKeys(t *testing.T) {
	q := NewQueue(context.Background(), QueueOptions{MaxConcurrent: 2})
	defer q.Stop()

	var running, peak atomic.Int64
	for i := 0; i < 8; i++ {
		require.NoError(t, q.Enqueue(Job{Key: fmt.Sprintf("k%d", i), Run: func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return nil
		}}))
	}
	require.True(t, q.WaitIdle(2*time.Second))
	require.LessOrEqual(t, peak.Load(), int64(2))
}

func TestQueue_SameKeyNeverRunsConcurrently(t *testing.T) {
	q := NewQueue(context.Background(), QueueOptions{MaxConcurrent: 8})
	defer q.Stop()

	var running atomic.Int64
	var overlapped atomic.Bool
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(Job{Key: "same", Run: func(context.Context) error {
			if running.Add(1) > 1 {
				overlapped.Store(true)
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		}}))
	}
	require.True(t, q.WaitIdle(2*time.Second))
	require.False(t, overlapped.Load())
}

func TestQueue_ReapsIdleLanes(t *testing.T) {
	q := NewQueue(context.Background(), QueueOptions{LaneIdle: 20 * time.Millisecond})
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{Key: "a", Run: func(context.Context) error { return nil }}))
	require.True(t, q.WaitIdle(time.Second))
	require.Eventually(t, func() bool { return q.Lanes() == 0 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	require.NoError(t, q.Enqueue(Job{Key: "a", Run: func(context.Context) error { close(done); return nil }}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job on a reaped key did not run")
	}
}

func TestQueue_FailingAndPanickingJobsDoNotStopLane(t *testing.T) {
	q := NewQueue(context.Background(), QueueOptions{})
	defer q.Stop()

	var ran atomic.Int64
	require.NoError(t, q.Enqueue(Job{Key: "a", Run: func(context.Context) error { return errors.New("boom") }}))
	require.NoError(t, q.Enqueue(Job{Key: "a", Run: func(context.Context) error { panic("bad job") }}))
	require.NoError(t, q.Enqueue(Job{Key: "a", Run: func(context.Context) error { ran.Add(1); return nil }}))
	require.True(t, q.WaitIdle(time.Second))
	require.Equal(t, int64(1), ran.Load())
}

func TestQueue_JobTimeout(t *testing.T) {
	q := NewQueue(context.Background(), QueueOptions{JobTimeout: 10 * time.Millisecond})
	defer q.Stop()

	errCh := make(chan error, 1)
	require.NoError(t, q.Enqueue(Job{Key: "a", Run: func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}}))
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("job was not cancelled")
	}
}

func TestQueue_EnqueueAfterStop(t *testing.T) {
	q := NewQueue(context.Background(), QueueOptions{})
	q.Stop()
	err := q.Enqueue(Job{Key: "a", Run: func(context.Context) error { return nil }})
	require.ErrorIs(t, err, ErrQueueStopped)
}
