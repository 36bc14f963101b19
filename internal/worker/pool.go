package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Task is one unit of work run by the pool
type Task func(ctx context.Context)

// Pool runs submitted tasks on a fixed set of workers over a bounded
// queue. Stopping lets the task each worker is currently executing finish;
// queued tasks that never started are discarded. Stop must be called at
// most once.
type Pool struct {
	logger *zap.Logger
	size   int
	tasks  chan Task
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewPool creates a pool with the given worker count and queue capacity
func NewPool(size, queueSize int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = size * 2
	}
	return &Pool{
		logger: logger.Named("worker-pool"),
		size:   size,
		tasks:  make(chan Task, queueSize),
		stop:   make(chan struct{}),
	}
}

// Start launches the workers. Tasks receive ctx as-is; the pool never
// cancels it, so stopping the pool does not interrupt running work.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-p.stop:
					return
				case task := <-p.tasks:
					if task != nil {
						task(ctx)
					}
				}
			}
		}()
	}
	p.logger.Info("Worker pool started",
		zap.Int("workers", p.size),
		zap.Int("queue_size", cap(p.tasks)))
}

// Submit enqueues a task without blocking, reporting false when the queue
// is full
func (p *Pool) Submit(task Task) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Stop signals the workers and waits for in-flight tasks to finish
func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}
