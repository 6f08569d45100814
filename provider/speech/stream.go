package speech

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/BaSui01/callflow/provider"
)

const (
	jobQueueSize = 8
	outQueueSize = 64
)

// job runs one upstream request and emits its results in order.
type job func(ctx context.Context, emit func(provider.Chunk) error) error

// jobStream 串行执行作业的通用 provider.Stream 实现。
// 作业按提交顺序运行，结果经 out 按顺序交付。
type jobStream struct {
	ctx    context.Context
	cancel context.CancelFunc

	jobs chan job
	out  chan provider.Chunk
	done chan struct{}
	err  error

	mu      sync.Mutex
	sealed  bool
	stopped bool
}

func newJobStream(parent context.Context) *jobStream {
	ctx, cancel := context.WithCancel(parent)
	s := &jobStream{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan job, jobQueueSize),
		out:    make(chan provider.Chunk, outQueueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *jobStream) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case j, ok := <-s.jobs:
			if !ok {
				return
			}
			if err := j(s.ctx, s.emit); err != nil {
				if s.ctx.Err() == nil || !errors.Is(err, context.Canceled) {
					s.err = err
				}
				return
			}
		}
	}
}

func (s *jobStream) emit(c provider.Chunk) error {
	select {
	case s.out <- c:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// submit enqueues j without blocking. A sealing job closes the input side.
func (s *jobStream) submit(j job, seal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.sealed {
		return provider.ErrStreamStopped
	}
	select {
	case s.jobs <- j:
	default:
		return provider.ErrBackpressure
	}
	if seal {
		s.sealed = true
		close(s.jobs)
	}
	return nil
}

func (s *jobStream) Pull(ctx context.Context) (provider.Chunk, error) {
	select {
	case c := <-s.out:
		return c, nil
	case <-s.done:
		select {
		case c := <-s.out:
			return c, nil
		default:
		}
		if s.err != nil {
			return provider.Chunk{}, s.err
		}
		return provider.Chunk{}, io.EOF
	case <-ctx.Done():
		return provider.Chunk{}, ctx.Err()
	}
}

func (s *jobStream) Stop() error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if !s.sealed {
			s.sealed = true
			close(s.jobs)
		}
	}
	s.mu.Unlock()
	s.cancel()
	<-s.done
	return nil
}
