package circuitbreaker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// NewCircuitBreaker
// ---------------------------------------------------------------------------

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "nil config uses defaults", cfg: nil},
		{name: "zero values corrected", cfg: &Config{HalfOpenMaxCalls: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewCircuitBreaker(tt.cfg, nil).(*breaker)
			assert.Equal(t, 5, b.config.Threshold)
			assert.Equal(t, 5*time.Second, b.config.Timeout)
			assert.Equal(t, 30*time.Second, b.config.ResetTimeout)
			assert.Equal(t, 1, b.config.HalfOpenMaxCalls)
			assert.Equal(t, StateClosed, b.State())
		})
	}
}

// ---------------------------------------------------------------------------
// State transitions
// ---------------------------------------------------------------------------

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(&Config{Threshold: 3, Timeout: time.Second, ResetTimeout: time.Hour}, zap.NewNop())
	fail := errors.New("sink down")

	for i := 0; i < 3; i++ {
		err := b.Call(context.Background(), func(context.Context) error { return fail })
		assert.ErrorIs(t, err, fail)
	}

	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Call(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	b := NewCircuitBreaker(&Config{Threshold: 1, Timeout: time.Second, ResetTimeout: 10 * time.Millisecond}, nil)

	_ = b.Call(context.Background(), func(context.Context) error { return errors.New("x") })
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	err := b.Call(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewCircuitBreaker(&Config{Threshold: 1, Timeout: time.Second, ResetTimeout: 10 * time.Millisecond}, nil)

	_ = b.Call(context.Background(), func(context.Context) error { return errors.New("x") })
	time.Sleep(20 * time.Millisecond)
	_ = b.Call(context.Background(), func(context.Context) error { return errors.New("still down") })

	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenAdmitsLimitedTrials(t *testing.T) {
	b := NewCircuitBreaker(&Config{Threshold: 1, Timeout: time.Second, ResetTimeout: 10 * time.Millisecond}, nil)

	_ = b.Call(context.Background(), func(context.Context) error { return errors.New("x") })
	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	trial := make(chan error, 1)
	go func() {
		trial <- b.Call(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := b.Call(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrTooManyCallsInHalfOpen)

	close(release)
	require.NoError(t, <-trial)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_TimeoutCountsAsFailure(t *testing.T) {
	b := NewCircuitBreaker(&Config{Threshold: 1, Timeout: 10 * time.Millisecond, ResetTimeout: time.Hour}, nil)

	err := b.Call(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_IsFailureFilter(t *testing.T) {
	ignored := errors.New("duplicate key")
	b := NewCircuitBreaker(&Config{
		Threshold:    1,
		Timeout:      time.Second,
		ResetTimeout: time.Hour,
		IsFailure:    func(err error) bool { return !errors.Is(err, ignored) },
	}, nil)

	err := b.Call(context.Background(), func(context.Context) error { return ignored })
	assert.ErrorIs(t, err, ignored)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ResetAndCallback(t *testing.T) {
	var changes atomic.Int32
	b := NewCircuitBreaker(&Config{
		Threshold:     1,
		Timeout:       time.Second,
		ResetTimeout:  time.Hour,
		OnStateChange: func(from, to State) { changes.Add(1) },
	}, nil)

	_ = b.Call(context.Background(), func(context.Context) error { return errors.New("x") })
	b.Reset()

	assert.Equal(t, StateClosed, b.State())
	assert.Eventually(t, func() bool { return changes.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "Open", StateOpen.String())
	assert.Equal(t, "HalfOpen", StateHalfOpen.String())
	assert.Equal(t, "Unknown", State(42).String())
}
