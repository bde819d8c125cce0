package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// queued is one process request waiting for a worker.
type queued struct {
	JobID   string
	Options ProcessOptions
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.size = n
		}
	}
}

func WithProcessTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// Queue runs process calls on a bounded pool of workers so a burst of
// uploads cannot stack unbounded tesseract and API work.
type Queue struct {
	processor *Processor
	logger    *slog.Logger

	workers int
	size    int
	timeout time.Duration

	jobs      chan queued
	startOnce sync.Once
	wg        sync.WaitGroup
}

func NewQueue(processor *Processor, logger *slog.Logger, opts ...QueueOption) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		processor: processor,
		logger:    logger,
		workers:   2,
		size:      32,
		timeout:   5 * time.Minute,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan queued, q.size)
	return q
}

// Start launches the workers. Safe to call more than once.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.worker(i)
		}
		q.logger.Info("queue.started", "workers", q.workers, "capacity", q.size)
	})
}

// ErrQueueFull is returned when the backlog is at capacity; the caller should
// retry or process synchronously.
var ErrQueueFull = errors.New("process queue is full")

// Enqueue submits a job for background processing.
func (q *Queue) Enqueue(jobID string, opts ProcessOptions) error {
	select {
	case q.jobs <- queued{JobID: jobID, Options: opts}:
		q.logger.Debug("queue.enqueued", "job_id", jobID)
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for item := range q.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		res, err := q.processor.Process(ctx, item.JobID, item.Options)
		cancel()
		switch {
		case err != nil:
			q.logger.Error("queue.job_failed", "worker", id, "job_id", item.JobID, "error", err)
		case res.RequiresConfirmation:
			q.logger.Warn("queue.job_needs_confirmation", "worker", id, "job_id", item.JobID)
		default:
			q.logger.Info("queue.job_done", "worker", id, "job_id", item.JobID, "invoice_id", res.InvoiceID)
		}
	}
}

// Shutdown stops intake and waits for in-flight jobs, bounded by ctx.
func (q *Queue) Shutdown(ctx context.Context) error {
	close(q.jobs)
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.logger.Info("queue.stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
