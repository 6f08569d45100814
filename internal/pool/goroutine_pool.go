// Package pool provides the bounded worker pool used by background writers
// and a small generic object pool.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task represents a unit of work. The context is cancelled when the pool is
// force-closed.
type Task func(ctx context.Context) error

// WorkerPoolConfig configures the pool.
type WorkerPoolConfig struct {
	Workers      int       `json:"workers"`
	QueueSize    int       `json:"queue_size"`
	PanicHandler func(any) `json:"-"`
}

// DefaultWorkerPoolConfig returns sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:   4,
		QueueSize: 1024,
	}
}

// WorkerPool runs tasks on a fixed set of goroutines fed by a bounded queue.
type WorkerPool struct {
	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool

	panicHandler func(any)

	active    atomic.Int32
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	panicked  atomic.Int64
}

// NewWorkerPool starts the workers immediately.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		tasks:        make(chan Task, config.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With(zap.String("component", "worker_pool")),
		panicHandler: config.PanicHandler,
	}
	p.wg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go p.worker()
	}
	return p
}

// TrySubmit queues a task without blocking.
func (p *WorkerPool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

// Submit queues a task, waiting for room until ctx is done.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.active.Add(1)
		err := p.run(task)
		p.active.Add(-1)
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}
}

func (p *WorkerPool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.logger.Error("task panicked", zap.Any("panic", r))
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(p.ctx)
}

// Close stops accepting tasks and waits for the queue to drain. If ctx ends
// first the running tasks are cancelled and ctx.Err() is returned.
func (p *WorkerPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns pool statistics.
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		Active:    int(p.active.Load()),
		Queued:    len(p.tasks),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// WorkerPoolStats contains pool statistics.
type WorkerPoolStats struct {
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
	Panicked  int64 `json:"panicked"`
}
