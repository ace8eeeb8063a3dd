package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrQueueStopped is returned by Enqueue once Stop has been called.
var ErrQueueStopped = errors.New("queue stopped")

const laneBuffer = 100

// Job is one unit of work for a key.
type Job struct {
	Key  string
	Name string
	Run  func(ctx context.Context) error
}

// Queue runs jobs in FIFO order per key while a global semaphore bounds how
// many keys make progress at once. Lanes that stay empty for the idle period
// are reaped.
type Queue struct {
	lanes     map[string]chan Job
	semaphore *semaphore.Weighted
	idle      time.Duration
	timeout   time.Duration
	logger    *zap.Logger
	inflight  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// QueueOptions tunes a Queue.
type QueueOptions struct {
	MaxConcurrent int64
	LaneIdle      time.Duration
	JobTimeout    time.Duration
	Logger        *zap.Logger
}

// NewQueue creates a queue bound to ctx; cancelling ctx stops it.
func NewQueue(ctx context.Context, opts QueueOptions) *Queue {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 16
	}
	if opts.LaneIdle <= 0 {
		opts.LaneIdle = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	q := &Queue{
		lanes:     make(map[string]chan Job),
		semaphore: semaphore.NewWeighted(opts.MaxConcurrent),
		idle:      opts.LaneIdle,
		timeout:   opts.JobTimeout,
		logger:    opts.Logger,
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	return q
}

// Enqueue appends job to its key's lane, starting the lane on first use.
func (q *Queue) Enqueue(job Job) error {
	if job.Run == nil {
		return errors.New("job has no run func")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ctx.Err() != nil {
		return ErrQueueStopped
	}

	lane, exists := q.lanes[job.Key]
	if !exists {
		lane = make(chan Job, laneBuffer)
		q.lanes[job.Key] = lane
		q.wg.Add(1)
		go q.processLane(job.Key, lane)
	}

	select {
	case lane <- job:
		q.inflight.Add(1)
		return nil
	default:
		return fmt.Errorf("queue full for key %s", job.Key)
	}
}

// Stop cancels in-flight jobs and waits for every lane to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
}

// Lanes reports how many keys currently have a lane.
func (q *Queue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

// WaitIdle blocks until every enqueued job has finished, or the timeout
// expires. It reports whether the queue went idle.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.inflight.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *Queue) processLane(key string, lane chan Job) {
	defer q.wg.Done()
	timer := time.NewTimer(q.idle)
	defer timer.Stop()

	for {
		select {
		case job := <-lane:
			q.run(job)
			q.inflight.Add(-1)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(q.idle)
		case <-timer.C:
			q.mu.Lock()
			if len(lane) == 0 {
				delete(q.lanes, key)
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			timer.Reset(q.idle)
		case <-q.ctx.Done():
			q.mu.Lock()
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
	}
}

func (q *Queue) run(job Job) {
	if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
		return
	}
	defer q.semaphore.Release(1)

	ctx := q.ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job panicked", zap.String("key", job.Key), zap.String("job", job.Name), zap.Any("panic", r))
		}
	}()
	if err := job.Run(ctx); err != nil {
		q.logger.Error("job failed", zap.String("key", job.Key), zap.String("job", job.Name), zap.Error(err))
	}
}
