package persistence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/internal/circuitbreaker"
	"github.com/BaSui01/callflow/internal/pool"
	"github.com/BaSui01/callflow/internal/retry"
)

// Drop reasons reported to the Observer.
const (
	DropSpoolFull = "spool_full"
	DropClosed    = "closed"
	DropShutdown  = "shutdown"
)

// Observer receives delivery outcomes. Implementations must be non-blocking.
type Observer interface {
	EventDelivered(sink string, typ EventType, d time.Duration)
	EventFailed(sink string, typ EventType)
	EventDropped(reason string)
	SpoolDepth(n int)
}

type nopObserver struct{}

func (nopObserver) EventDelivered(string, EventType, time.Duration) {}
func (nopObserver) EventFailed(string, EventType) {}
func (nopObserver) EventDropped(string) {}
func (nopObserver) SpoolDepth(int) {}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithObserver sets the delivery observer.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithFlushInterval sets how often spooled events are retried.
func WithFlushInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.flushEvery = interval
		}
	}
}

// DispatcherStats 分发器统计
type DispatcherStats struct {
	Delivered int64                `json:"delivered"`
	Failed    int64                `json:"failed"`
	Dropped   int64                `json:"dropped"`
	Spooled   int                  `json:"spooled"`
	Breaker   string               `json:"breaker"`
	Workers   pool.WorkerPoolStats `json:"workers"`
}

// Dispatcher 是非阻塞的 Publisher：事件进入有界队列，由 worker 池写入 Sink。
// 写入经过重试与熔断保护，失败或队列满的事件进入有界 spool 等待重放，
// spool 满时丢弃最旧的事件并计数。
type Dispatcher struct {
	sink     Sink
	workers  *pool.WorkerPool
	retryer  retry.Retryer
	breaker  circuitbreaker.CircuitBreaker
	observer Observer
	logger   *zap.Logger

	spoolSize  int
	flushEvery time.Duration

	mu    sync.Mutex
	spool []Event

	closed    atomic.Bool
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

var _ Publisher = (*Dispatcher)(nil)

// NewDispatcher starts the worker pool and the spool flusher.
func NewDispatcher(sink Sink, cfg config.PersistenceConfig, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "persistence"), zap.String("sink", sink.Name()))

	d := &Dispatcher{
		sink:       sink,
		observer:   nopObserver{},
		logger:     logger,
		spoolSize:  cfg.SpoolSize,
		flushEvery: time.Second,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.workers = pool.NewWorkerPool(pool.WorkerPoolConfig{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	}, logger)
	d.breaker = circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Threshold:    cfg.BreakerThreshold,
		Timeout:      cfg.WriteTimeout,
		ResetTimeout: cfg.BreakerResetTimeout,
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn("sink circuit state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}, logger)
	d.retryer = retry.NewBackoffRetryer(&retry.RetryPolicy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		ShouldRetry:  retryableWrite,
	}, logger)

	go d.flushLoop()
	return d
}

func retryableWrite(err error) bool {
	return !errors.Is(err, circuitbreaker.ErrCircuitOpen) &&
		!errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen) &&
		!errors.Is(err, context.Canceled)
}

// PublishTurn implements Publisher.
func (d *Dispatcher) PublishTurn(ev TurnCompleted) {
	d.publish(Event{Type: EventTurnCompleted, Turn: &ev})
}

// PublishSessionEnded implements Publisher.
func (d *Dispatcher) PublishSessionEnded(ev SessionEnded) {
	d.publish(Event{Type: EventSessionEnded, Session: &ev})
}

func (d *Dispatcher) publish(ev Event) {
	if d.closed.Load() {
		d.drop(ev, DropClosed)
		return
	}
	if err := d.workers.TrySubmit(d.task(ev)); err != nil {
		d.toSpool(ev)
	}
}

func (d *Dispatcher) task(ev Event) pool.Task {
	return func(ctx context.Context) error {
		if err := d.deliver(ctx, ev); err != nil {
			d.toSpool(ev)
			return err
		}
		return nil
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) error {
	start := time.Now()
	err := d.retryer.Do(ctx, func() error {
		return d.breaker.Call(ctx, func(ctx context.Context) error {
			return d.sink.Write(ctx, ev)
		})
	})
	if err != nil {
		d.failed.Add(1)
		d.observer.EventFailed(d.sink.Name(), ev.Type)
		d.logger.Warn("persist event failed",
			zap.String("type", string(ev.Type)),
			zap.String("session_id", ev.SessionID()),
			zap.String("key", ev.Key()),
			zap.Error(err))
		return err
	}
	d.delivered.Add(1)
	d.observer.EventDelivered(d.sink.Name(), ev.Type, time.Since(start))
	return nil
}

func (d *Dispatcher) toSpool(ev Event) {
	if d.spoolSize <= 0 {
		d.drop(ev, DropSpoolFull)
		return
	}

	d.mu.Lock()
	var evicted *Event
	if len(d.spool) >= d.spoolSize {
		oldest := d.spool[0]
		evicted = &oldest
		d.spool = d.spool[1:]
	}
	d.spool = append(d.spool, ev)
	depth := len(d.spool)
	d.mu.Unlock()

	if evicted != nil {
		d.drop(*evicted, DropSpoolFull)
	}
	d.observer.SpoolDepth(depth)
}

func (d *Dispatcher) drop(ev Event, reason string) {
	n := d.dropped.Add(1)
	d.observer.EventDropped(reason)
	d.logger.Warn("persistence event dropped",
		zap.String("reason", reason),
		zap.String("type", string(ev.Type)),
		zap.String("key", ev.Key()),
		zap.Int64("dropped_total", n))
}

func (d *Dispatcher) takeSpool() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	batch := d.spool
	d.spool = nil
	return batch
}

// requeue puts events back at the head of the spool, ahead of newer ones.
func (d *Dispatcher) requeue(events []Event) {
	if len(events) == 0 {
		return
	}
	d.mu.Lock()
	merged := append(events, d.spool...)
	var overflow []Event
	if d.spoolSize > 0 && len(merged) > d.spoolSize {
		overflow = merged[:len(merged)-d.spoolSize]
		merged = merged[len(merged)-d.spoolSize:]
	}
	d.spool = merged
	depth := len(d.spool)
	d.mu.Unlock()

	for _, ev := range overflow {
		d.drop(ev, DropSpoolFull)
	}
	d.observer.SpoolDepth(depth)
}

func (d *Dispatcher) flushLoop() {
	defer close(d.done)
	ticker := time.NewTicker(d.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.flush()
		}
	}
}

func (d *Dispatcher) flush() {
	if d.breaker.State() == circuitbreaker.StateOpen {
		return
	}
	batch := d.takeSpool()
	for i, ev := range batch {
		if err := d.workers.TrySubmit(d.task(ev)); err != nil {
			d.requeue(batch[i:])
			return
		}
	}
	if len(batch) > 0 {
		d.observer.SpoolDepth(d.SpoolLen())
	}
}

// SpoolLen returns the number of events awaiting replay.
func (d *Dispatcher) SpoolLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.spool)
}

// Sink returns the sink events are written to.
func (d *Dispatcher) Sink() Sink { return d.sink }

// Ping checks the sink when it supports it; sinks without a backend are
// always reachable.
func (d *Dispatcher) Ping(ctx context.Context) error {
	if p, ok := d.sink.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Stats returns a snapshot of delivery counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Spooled:   d.SpoolLen(),
		Breaker:   d.breaker.State().String(),
		Workers:   d.workers.Stats(),
	}
}

// Close stops accepting events, drains queued writes, makes one final pass
// over the spool and closes the sink. Events still pending when ctx ends are
// dropped and counted.
func (d *Dispatcher) Close(ctx context.Context) error {
	var err error
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		<-d.done

		if werr := d.workers.Close(ctx); werr != nil {
			d.logger.Warn("persistence workers did not drain", zap.Error(werr))
		}

		for _, ev := range d.takeSpool() {
			if ctx.Err() != nil {
				d.drop(ev, DropShutdown)
				continue
			}
			werr := d.breaker.Call(ctx, func(ctx context.Context) error {
				return d.sink.Write(ctx, ev)
			})
			if werr != nil {
				d.failed.Add(1)
				d.observer.EventFailed(d.sink.Name(), ev.Type)
				d.drop(ev, DropShutdown)
				continue
			}
			d.delivered.Add(1)
		}
		d.observer.SpoolDepth(0)

		err = d.sink.Close(ctx)
		stats := d.Stats()
		d.logger.Info("persistence dispatcher closed",
			zap.Int64("delivered", stats.Delivered),
			zap.Int64("failed", stats.Failed),
			zap.Int64("dropped", stats.Dropped))
	})
	return err
}
