package buffer

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("turn buffer closed")

	// ErrBackpressure is returned by TryPush when the buffer is full.
	ErrBackpressure = errors.New("turn buffer full")
)

// DropFunc observes every drop together with the running total.
type DropFunc func(buffer string, dropped int, total int64, reason string)

// Option configures a TurnBuffer.
type Option func(*options)

type options struct {
	onDrop DropFunc
	logger *zap.Logger
}

// WithOnDrop registers the degraded-quality signal for drops.
func WithOnDrop(fn DropFunc) Option {
	return func(o *options) { o.onDrop = fn }
}

// WithLogger sets the logger used to report drops.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Stats is a point-in-time view of a buffer.
type Stats struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	Len      int    `json:"len"`
	Pushed   int64  `json:"pushed"`
	Pulled   int64  `json:"pulled"`
	Dropped  int64  `json:"dropped"`
	Closed   bool   `json:"closed"`
}

// TurnBuffer is a bounded FIFO with blocking back-pressure. Items are never
// reordered; every item leaves through Pull or is counted as a drop.
type TurnBuffer[T any] struct {
	name     string
	capacity int
	onDrop   DropFunc
	logger   *zap.Logger

	mu      sync.Mutex
	ring    []T
	head    int
	count   int
	closed  bool
	changed chan struct{}

	pushed  atomic.Int64
	pulled  atomic.Int64
	dropped atomic.Int64
}

// New creates a buffer holding at most capacity items (minimum 1).
func New[T any](name string, capacity int, opts ...Option) *TurnBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return &TurnBuffer[T]{
		name:     name,
		capacity: capacity,
		onDrop:   o.onDrop,
		logger:   o.logger.With(zap.String("buffer", name)),
		ring:     make([]T, capacity),
		changed:  make(chan struct{}),
	}
}

// notifyLocked wakes every waiter. Caller holds mu.
func (b *TurnBuffer[T]) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

func (b *TurnBuffer[T]) enqueueLocked(item T) {
	b.ring[(b.head+b.count)%b.capacity] = item
	b.count++
	b.pushed.Add(1)
	b.notifyLocked()
}

func (b *TurnBuffer[T]) dequeueLocked() T {
	var zero T
	item := b.ring[b.head]
	b.ring[b.head] = zero
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.pulled.Add(1)
	b.notifyLocked()
	return item
}

// Push appends item, blocking while the buffer is full until space frees up,
// ctx is done or the buffer is closed.
func (b *TurnBuffer[T]) Push(ctx context.Context, item T) error {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return ErrClosed
		}
		if b.count < b.capacity {
			b.enqueueLocked(item)
			b.mu.Unlock()
			return nil
		}
		wait := b.changed
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryPush appends item or returns ErrBackpressure immediately when full.
func (b *TurnBuffer[T]) TryPush(item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.count >= b.capacity {
		return ErrBackpressure
	}
	b.enqueueLocked(item)
	return nil
}

// Offer appends item when there is room; otherwise the item is dropped and
// counted. It reports whether the item was accepted.
func (b *TurnBuffer[T]) Offer(item T) bool {
	b.mu.Lock()
	if !b.closed && b.count < b.capacity {
		b.enqueueLocked(item)
		b.mu.Unlock()
		return true
	}
	reason := "full"
	if b.closed {
		reason = "closed"
	}
	b.mu.Unlock()

	b.recordDrop(1, reason)
	return false
}

// Pull removes the oldest item, blocking until one is available. It returns
// io.EOF once the buffer is closed and empty.
func (b *TurnBuffer[T]) Pull(ctx context.Context) (T, error) {
	var zero T
	for {
		b.mu.Lock()
		if b.count > 0 {
			item := b.dequeueLocked()
			b.mu.Unlock()
			return item, nil
		}
		if b.closed {
			b.mu.Unlock()
			return zero, io.EOF
		}
		wait := b.changed
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// TryPull removes the oldest item if there is one.
func (b *TurnBuffer[T]) TryPull() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.dequeueLocked(), true
}

// WaitEmpty blocks until every buffered item has been pulled or discarded.
func (b *TurnBuffer[T]) WaitEmpty(ctx context.Context) error {
	for {
		b.mu.Lock()
		if b.count == 0 {
			b.mu.Unlock()
			return nil
		}
		wait := b.changed
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops further writes. Buffered items remain available to Pull.
func (b *TurnBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.notifyLocked()
}

// Discard drops every buffered item, counting each one, and returns how many
// were dropped.
func (b *TurnBuffer[T]) Discard(reason string) int {
	b.mu.Lock()
	n := b.count
	var zero T
	for i := 0; i < n; i++ {
		b.ring[(b.head+i)%b.capacity] = zero
	}
	b.head, b.count = 0, 0
	if n > 0 {
		b.notifyLocked()
	}
	b.mu.Unlock()

	if n > 0 {
		b.recordDrop(n, reason)
	}
	return n
}

// RecordDrop counts items the owner discarded after pulling them, e.g. caller
// audio received while the agent holds the floor.
func (b *TurnBuffer[T]) RecordDrop(n int, reason string) {
	if n > 0 {
		b.recordDrop(n, reason)
	}
}

func (b *TurnBuffer[T]) recordDrop(n int, reason string) {
	total := b.dropped.Add(int64(n))
	b.logger.Warn("turn buffer dropped items",
		zap.Int("dropped", n),
		zap.Int64("total_dropped", total),
		zap.String("reason", reason),
	)
	if b.onDrop != nil {
		b.onDrop(b.name, n, total, reason)
	}
}

// Name returns the buffer name.
func (b *TurnBuffer[T]) Name() string { return b.name }

// Cap returns the fixed capacity.
func (b *TurnBuffer[T]) Cap() int { return b.capacity }

// Len returns the number of buffered items.
func (b *TurnBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Drops returns the number of items dropped so far.
func (b *TurnBuffer[T]) Drops() int64 { return b.dropped.Load() }

// Closed reports whether Close was called.
func (b *TurnBuffer[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Stats returns counters for the buffer.
func (b *TurnBuffer[T]) Stats() Stats {
	b.mu.Lock()
	n, closed := b.count, b.closed
	b.mu.Unlock()
	return Stats{
		Name:     b.name,
		Capacity: b.capacity,
		Len:      n,
		Pushed:   b.pushed.Load(),
		Pulled:   b.pulled.Load(),
		Dropped:  b.dropped.Load(),
		Closed:   closed,
	}
}
