// Package async runs pipeline jobs on a bounded worker pool. The batch
// CLI uses it to fan out over a directory without spawning a goroutine
// per file.
package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Job is one unit of work: a single file to analyze.
type Job struct {
	Path        string
	SubmittedAt time.Time
}

// Handler processes one job. The context carries the per-job timeout.
type Handler func(ctx context.Context, job Job) error

type Queue struct {
	handler Handler
	log     *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewQueue(handler Handler, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		handler: handler,
		log:     logger,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Start launches the workers. Jobs run under ctx; cancelling it stops
// the pool without draining what is still queued.
func (q *Queue) Start(ctx context.Context) {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.log.Info("async.worker_started", "worker_id", workerID)

				for {
					select {
					case <-ctx.Done():
						q.log.Info("async.worker_stopped", "worker_id", workerID, "reason", "cancelled")
						return
					case job, ok := <-q.ch:
						if !ok {
							q.log.Info("async.worker_stopped", "worker_id", workerID, "reason", "drained")
							return
						}
						q.run(ctx, workerID, job)
					}
				}
			}(i + 1)
		}
	})
}

func (q *Queue) run(ctx context.Context, workerID int, job Job) {
	jobCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	if err := q.handler(jobCtx, job); err != nil {
		q.log.Error("async.job_failed", "worker_id", workerID, "path", job.Path, "error", err)
		return
	}
	q.log.Info("async.job_done", "worker_id", workerID, "path", job.Path)
}

// Enqueue hands a job to the pool, blocking for space when the buffer
// is full.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("queue is shut down")
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}

	select {
	case q.ch <- job:
	default:
		q.log.Warn("async.queue_full", "path", job.Path)
		select {
		case q.ch <- job:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Shutdown stops intake and waits for queued jobs to finish, or for
// ctx to expire.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.log.Warn("async.shutdown_interrupted")
	case <-done:
		q.log.Info("async.queue_drained")
	}
}
