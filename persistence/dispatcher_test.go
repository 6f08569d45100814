package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/testutil"
	"github.com/BaSui01/callflow/testutil/fixtures"
)

// flakySink 按脚本失败的 Sink
type flakySink struct {
	*MemorySink
	failing atomic.Bool
	failN   atomic.Int32
	writes  atomic.Int32
	closed  atomic.Bool
}

func newFlakySink() *flakySink { return &flakySink{MemorySink: NewMemorySink()} }

func (s *flakySink) Name() string { return "flaky" }

func (s *flakySink) Write(ctx context.Context, ev Event) error {
	s.writes.Add(1)
	if s.failing.Load() {
		return errors.New("sink unavailable")
	}
	if s.failN.Load() > 0 {
		s.failN.Add(-1)
		return errors.New("transient write failure")
	}
	return s.MemorySink.Write(ctx, ev)
}

func (s *flakySink) Close(ctx context.Context) error {
	s.closed.Store(true)
	return nil
}

type countingObserver struct {
	mu        sync.Mutex
	delivered int
	failed    int
	dropped   map[string]int
	depth     int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{dropped: map[string]int{}}
}

func (o *countingObserver) EventDelivered(string, EventType, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delivered++
}

func (o *countingObserver) EventFailed(string, EventType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed++
}

func (o *countingObserver) EventDropped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped[reason]++
}

func (o *countingObserver) SpoolDepth(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.depth = n
}

func fastConfig() config.PersistenceConfig {
	cfg := config.DefaultPersistenceConfig()
	cfg.Workers = 2
	cfg.QueueSize = 16
	cfg.SpoolSize = 8
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Millisecond
	cfg.WriteTimeout = time.Second
	cfg.BreakerThreshold = 100
	cfg.BreakerResetTimeout = 50 * time.Millisecond
	return cfg
}

func turnEvent(sessionID string, seq int64) TurnCompleted {
	return NewTurnCompleted(sessionID, fixtures.CallSID, fixtures.CompletedTurn(seq, "hello", "hi there"))
}

func TestDispatcher_DeliversEvents(t *testing.T) {
	sink := NewMemorySink()
	obs := newCountingObserver()
	d := NewDispatcher(sink, fastConfig(), zaptest.NewLogger(t), WithObserver(obs))

	d.PublishTurn(turnEvent("s1", 1))
	d.PublishTurn(turnEvent("s1", 2))
	d.PublishSessionEnded(SessionEnded{ID: "s1:ended", SessionID: "s1", Reason: "caller_hangup", Turns: 2, Completed: 2})

	testutil.AssertEventuallyEqual(t, 3, func() any { return sink.Len() }, 2*time.Second)
	turns := sink.Turns("s1")
	require.Len(t, turns, 2)
	assert.EqualValues(t, 1, turns[0].Turn)
	ended, ok := sink.Session("s1")
	require.True(t, ok)
	assert.Equal(t, "caller_hangup", ended.Reason)

	require.NoError(t, d.Close(testutil.TestContext(t)))
	stats := d.Stats()
	assert.EqualValues(t, 3, stats.Delivered)
	assert.Zero(t, stats.Dropped)
	obs.mu.Lock()
	assert.Equal(t, 3, obs.delivered)
	obs.mu.Unlock()
}

func TestDispatcher_RetriesTransientFailures(t *testing.T) {
	sink := newFlakySink()
	sink.failN.Store(1)
	cfg := fastConfig()
	cfg.Workers = 1
	d := NewDispatcher(sink, cfg, nil)
	defer d.Close(context.Background())

	d.PublishTurn(turnEvent("s1", 1))

	testutil.AssertEventuallyEqual(t, 1, func() any { return sink.Len() }, 2*time.Second)
	assert.EqualValues(t, 2, sink.writes.Load())
	assert.Zero(t, d.Stats().Failed)
}

func TestDispatcher_SpoolsAndReplaysAfterOutage(t *testing.T) {
	sink := newFlakySink()
	sink.failing.Store(true)
	obs := newCountingObserver()
	d := NewDispatcher(sink, fastConfig(), nil, WithObserver(obs), WithFlushInterval(20*time.Millisecond))
	defer d.Close(context.Background())

	d.PublishTurn(turnEvent("s1", 1))
	d.PublishTurn(turnEvent("s1", 2))

	testutil.AssertEventuallyTrue(t, func() bool { return d.Stats().Failed >= 2 }, 2*time.Second)
	assert.Zero(t, sink.Len())

	sink.failing.Store(false)
	testutil.AssertEventuallyEqual(t, 2, func() any { return sink.Len() }, 3*time.Second)
	testutil.AssertEventuallyEqual(t, 0, func() any { return d.SpoolLen() }, time.Second)
	assert.Zero(t, d.Stats().Dropped)
}

func TestDispatcher_SpoolOverflowDropsOldest(t *testing.T) {
	sink := newFlakySink()
	sink.failing.Store(true)
	obs := newCountingObserver()
	cfg := fastConfig()
	cfg.SpoolSize = 2
	cfg.BreakerThreshold = 1
	cfg.BreakerResetTimeout = time.Hour
	d := NewDispatcher(sink, cfg, nil, WithObserver(obs), WithFlushInterval(time.Hour))

	for i := int64(1); i <= 5; i++ {
		d.PublishTurn(turnEvent("s1", i))
	}

	testutil.AssertEventuallyTrue(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.dropped[DropSpoolFull] == 3
	}, 2*time.Second)
	assert.Equal(t, 2, d.SpoolLen())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.True(t, sink.closed.Load())
	obs.mu.Lock()
	assert.Equal(t, 2, obs.dropped[DropShutdown], "breaker is open so the final flush cannot write")
	obs.mu.Unlock()
}

func TestDispatcher_CloseFlushesSpool(t *testing.T) {
	sink := newFlakySink()
	sink.failing.Store(true)
	d := NewDispatcher(sink, fastConfig(), nil, WithFlushInterval(time.Hour))

	d.PublishTurn(turnEvent("s1", 1))
	testutil.AssertEventuallyEqual(t, 1, func() any { return d.SpoolLen() }, 2*time.Second)

	sink.failing.Store(false)
	require.NoError(t, d.Close(testutil.TestContext(t)))
	assert.Equal(t, 1, sink.Len())
	assert.True(t, sink.closed.Load())
}

func TestDispatcher_PublishAfterCloseIsDropped(t *testing.T) {
	sink := NewMemorySink()
	obs := newCountingObserver()
	d := NewDispatcher(sink, fastConfig(), nil, WithObserver(obs))
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	d.PublishTurn(turnEvent("s1", 1))
	assert.Zero(t, sink.Len())
	obs.mu.Lock()
	assert.Equal(t, 1, obs.dropped[DropClosed])
	obs.mu.Unlock()
}

func TestDispatcher_DuplicateDeliveryIsIdempotent(t *testing.T) {
	sink := NewMemorySink()
	d := NewDispatcher(sink, fastConfig(), nil)
	defer d.Close(context.Background())

	ev := turnEvent("s1", 1)
	d.PublishTurn(ev)
	d.PublishTurn(ev)

	testutil.AssertEventuallyEqual(t, int64(2), func() any { return d.Stats().Delivered }, 2*time.Second)
	assert.Equal(t, 1, sink.Len())
}

func TestDispatcher_PublishNeverBlocks(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{release: block}
	cfg := fastConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1
	cfg.SpoolSize = 100
	d := NewDispatcher(sink, cfg, nil, WithFlushInterval(time.Hour))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			d.PublishTurn(turnEvent(fmt.Sprintf("s%d", i), 1))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a stalled sink")
	}
	assert.Greater(t, d.SpoolLen(), 0)

	close(block)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Write(ctx context.Context, ev Event) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *blockingSink) Close(context.Context) error { return nil }
