package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pamdocs/docpipe/internal/common"
)

type delivery struct {
	msg     Message
	attempt int
}

// MemoryQueue is the in-process backend: buffered channel, worker pool,
// timer-based delays, bounded redelivery on handler failure.
type MemoryQueue struct {
	log     *zap.SugaredLogger
	workers int
	timeout time.Duration

	maxAttempts int
	retryDelay  time.Duration

	ch      chan delivery
	wg      sync.WaitGroup
	once    sync.Once
	handler Handler

	// stop aborts senders blocked on a full channel during shutdown; senders
	// tracks them so the channel is only closed once none are in flight.
	stop    chan struct{}
	senders sync.WaitGroup

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
}

// MemoryOption configures a MemoryQueue.
type MemoryOption func(*MemoryQueue)

func WithWorkers(n int) MemoryOption {
	return func(q *MemoryQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) MemoryOption {
	return func(q *MemoryQueue) {
		if n > 0 {
			q.ch = make(chan delivery, n)
		}
	}
}

func WithHandleTimeout(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func WithMaxAttempts(n int) MemoryOption {
	return func(q *MemoryQueue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) {
		if d >= 0 {
			q.retryDelay = d
		}
	}
}

// NewMemoryQueue builds the queue. Workers do not run until Start binds a
// handler; messages sent before Start buffer in the channel.
func NewMemoryQueue(log *zap.SugaredLogger, opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		log:         log,
		workers:     4,
		timeout:     3 * time.Minute,
		maxAttempts: 5,
		retryDelay:  5 * time.Second,
		ch:          make(chan delivery, 256),
		stop:        make(chan struct{}),
		timers:      map[*time.Timer]struct{}{},
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Start launches the worker pool bound to h.
func (q *MemoryQueue) Start(h Handler) {
	q.once.Do(func() {
		q.handler = h
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.log.Infow("queue.worker.started", "worker_id", workerID)
				for d := range q.ch {
					q.handle(workerID, d)
				}
				q.log.Infow("queue.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *MemoryQueue) handle(workerID int, d delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	err := q.handler(ctx, d.msg)
	cancel()

	if err == nil {
		q.log.Infow("queue.handle.ok", "worker_id", workerID, "type", d.msg.Type, "job_id", d.msg.Job.JobID)
		return
	}

	// A job identity with no record never resolves; drop it instead of
	// redelivering.
	if errors.Is(err, common.ErrNotFound) {
		q.log.Warnw("queue.handle.dropped", "worker_id", workerID, "type", d.msg.Type, "job_id", d.msg.Job.JobID, "err", err)
		return
	}

	if d.attempt >= q.maxAttempts {
		q.log.Errorw("queue.handle.exhausted", "worker_id", workerID, "type", d.msg.Type, "job_id", d.msg.Job.JobID, "attempts", d.attempt, "err", err)
		return
	}

	q.log.Warnw("queue.handle.retry", "worker_id", workerID, "type", d.msg.Type, "job_id", d.msg.Job.JobID, "attempt", d.attempt, "err", err)
	q.later(q.retryDelay, delivery{msg: d.msg, attempt: d.attempt + 1})
}

// Send enqueues a message, deferring delivery when delay is positive.
func (q *MemoryQueue) Send(_ context.Context, m Message, delay time.Duration) error {
	d := delivery{msg: m, attempt: 1}
	if delay > 0 {
		q.later(delay, d)
		return nil
	}
	q.enqueue(d)
	return nil
}

func (q *MemoryQueue) later(delay time.Duration, d delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		q.enqueue(d)
	})
	q.timers[timer] = struct{}{}
}

// enqueue never blocks while holding q.mu: workers call Send from inside
// handlers, so a blocking send under the lock would deadlock the whole pool
// against Shutdown once the buffer fills.
func (q *MemoryQueue) enqueue(d delivery) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.log.Warnw("queue.enqueue.rejected", "type", d.msg.Type, "job_id", d.msg.Job.JobID)
		return
	}
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	select {
	case q.ch <- d:
		return
	default:
	}
	q.log.Warnw("queue.enqueue.backpressure", "type", d.msg.Type)
	select {
	case q.ch <- d:
	case <-q.stop:
		q.log.Warnw("queue.enqueue.rejected", "type", d.msg.Type, "job_id", d.msg.Job.JobID)
	}
}

// Shutdown stops pending timers, closes the channel and waits for workers to
// drain, bounded by ctx.
func (q *MemoryQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	close(q.stop)
	q.mu.Unlock()

	// Senders blocked on a full channel abort via stop; wait them out before
	// closing the channel.
	q.senders.Wait()
	close(q.ch)

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.log.Warnw("queue.shutdown.interrupted")
	case <-done:
		q.log.Infow("queue.shutdown.drained")
	}
}
