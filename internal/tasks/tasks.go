// Package tasks is the in-process deferred-job queue: a buffered channel
// drained by worker goroutines. Jobs that must run at most once across
// workers guard themselves with pkg/lock; the queue itself only promises
// eventual execution within this process.
package tasks

import (
	"context"
	"log/slog"
	"sync"
)

// Job is one deferred unit of work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Queue runs submitted jobs on a fixed worker pool.
type Queue struct {
	jobs   chan Job
	logger *slog.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
	inflight map[string]bool
}

// NewQueue creates a queue with the given buffer depth.
func NewQueue(buffer int, logger *slog.Logger) *Queue {
	return &Queue{
		jobs:     make(chan Job, buffer),
		logger:   logger,
		inflight: map[string]bool{},
	}
}

// Start launches the workers; they drain the queue until ctx is cancelled.
func (q *Queue) Start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.run(ctx, job)
		}
	}
}

func (q *Queue) run(ctx context.Context, job Job) {
	defer func() {
		q.mu.Lock()
		delete(q.inflight, job.Name)
		q.mu.Unlock()
	}()
	if err := job.Run(ctx); err != nil {
		q.logger.Error("deferred job failed", "job", job.Name, "error", err)
	}
}

// Submit enqueues a job. A job whose name is already queued or running is
// dropped (the running instance will observe the current state anyway).
// Returns false when the queue is full or shut down.
func (q *Queue) Submit(job Job) bool {
	q.mu.Lock()
	if q.closed || q.inflight[job.Name] {
		q.mu.Unlock()
		return false
	}
	q.inflight[job.Name] = true
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return true
	default:
		q.mu.Lock()
		delete(q.inflight, job.Name)
		q.mu.Unlock()
		q.logger.Warn("job queue full, dropping", "job", job.Name)
		return false
	}
}

// Close stops accepting jobs and waits for the workers to drain.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.jobs)
	q.wg.Wait()
}
