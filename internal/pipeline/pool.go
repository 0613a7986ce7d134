package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueFull is returned by Submit when the job queue has no room. The
// HTTP layer maps it to a retryable error instead of letting submissions
// pile up unbounded.
var ErrQueueFull = errors.New("pipeline queue is full")

// ErrPoolStopped is returned by Submit after Stop has been called.
var ErrPoolStopped = errors.New("pipeline pool is stopped")

// Job is one unit of background work
type Job func(ctx context.Context) error

// Handle lets the submitter observe a job's completion instead of
// fire-and-forget
type Handle struct {
	done chan struct{}
	err  error
}

// Done returns a channel closed when the job has finished
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the job's error. Only valid after Done is closed.
func (h *Handle) Err() error {
	return h.err
}

// Wait blocks until the job finishes or ctx is cancelled
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type submission struct {
	job    Job
	handle *Handle
}

// Pool runs jobs on a fixed number of workers with a bounded queue. One
// job corresponds to one module's pipeline run; items within a module are
// processed sequentially by the single worker that picked the job up.
type Pool struct {
	queue   chan submission
	workers int
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewPool creates a pool with the given worker count and queue capacity
func NewPool(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		queue:   make(chan submission, queueSize),
		workers: workers,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Info("Pipeline pool started", slog.Int("workers", p.workers))
}

// Submit enqueues a job without blocking. The caller gets a handle it can
// await or discard; the request path discards it after logging.
func (p *Pool) Submit(job Job) (*Handle, error) {
	// The lock must cover the enqueue itself: Stop closes the queue
	// under the same lock, and a send racing that close would panic.
	// The send never blocks, so holding the lock across it is safe.
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, ErrPoolStopped
	}

	handle := &Handle{done: make(chan struct{})}

	select {
	case p.queue <- submission{job: job, handle: handle}:
		return handle, nil
	default:
		return nil, ErrQueueFull
	}
}

// QueueDepth returns the number of jobs waiting for a worker
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// Stop drains queued jobs and waits for in-flight work to finish. Jobs
// running at shutdown see a cancelled context once ctx expires.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for sub := range p.queue {
		err := sub.job(p.ctx)
		if err != nil {
			p.logger.Error("Pipeline job failed",
				slog.Int("worker", id),
				slog.String("error", err.Error()),
			)
		}
		sub.handle.err = err
		close(sub.handle.done)
	}
}
