package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	ErrQueueFull   = errors.New("processing queue is full")
	ErrQueueClosed = errors.New("processing queue is shutting down")
)

// Processor is the work a Queue hands each job id to.
type Processor interface {
	Process(ctx context.Context, id string) (Result, error)
}

// Queue runs Process for enqueued job ids on a fixed pool of workers.
type Queue struct {
	proc    Processor
	logger  *slog.Logger
	workers int

	ch   chan string
	wg   sync.WaitGroup
	once sync.Once

	mu      sync.Mutex
	closed  bool
	pending map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

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
			q.ch = make(chan string, n)
		}
	}
}

func NewQueue(proc Processor, logger *slog.Logger, opts ...QueueOption) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		proc:    proc,
		logger:  logger,
		workers: 2,
		ch:      make(chan string, 64),
		pending: make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("worker started", "worker_id", workerID)

				for id := range q.ch {
					q.mu.Lock()
					delete(q.pending, id)
					q.mu.Unlock()

					res, err := q.proc.Process(q.ctx, id)
					if err != nil {
						q.logger.Error("processing failed", "worker_id", workerID, "job_id", id, "error", err)
					} else {
						q.logger.Info("processed job", "worker_id", workerID, "job_id", id, "segments", len(res.Segments))
					}
				}

				q.logger.Debug("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// Enqueue schedules id for processing. A job already waiting in the queue
// is rejected with ErrAlreadyProcessing, and a full queue with ErrQueueFull.
func (q *Queue) Enqueue(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if _, ok := q.pending[id]; ok {
		return ErrAlreadyProcessing
	}
	select {
	case q.ch <- id:
		q.pending[id] = struct{}{}
		q.logger.Info("queued job for processing", "job_id", id)
		return nil
	default:
		q.logger.Warn("queue full", "job_id", id)
		return ErrQueueFull
	}
}

// Pending reports whether id is waiting for a worker.
func (q *Queue) Pending(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[id]
	return ok
}

// Shutdown stops accepting work and waits for queued jobs to drain. When
// ctx expires first, running transcodes are cancelled.
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
		q.cancel()
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.cancel()
		q.logger.Info("queue drained, shutdown complete")
	}
}
