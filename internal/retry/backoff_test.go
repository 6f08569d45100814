package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
}

func TestBackoffRetryer_MaxRetriesExceeded(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(2), zap.NewNop())

	callCount := 0
	testErr := errors.New("persistent error")
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return testErr
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, testErr)
	assert.Equal(t, 3, callCount, "MaxRetries=2 意味着共 3 次尝试")
}

func TestProviderPolicy_OnlyRetriesTransient(t *testing.T) {
	policy := ProviderPolicy(config.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2,
	})
	assert.Equal(t, 2, policy.MaxRetries)
	retryer := NewBackoffRetryer(policy, nil)

	t.Run("transient is retried then surfaced", func(t *testing.T) {
		calls := 0
		err := retryer.Do(context.Background(), func() error {
			calls++
			return types.NewProviderError("deepgram", types.ProviderTransient, errors.New("503"))
		})
		assert.Equal(t, 3, calls)
		assert.True(t, types.IsTransient(err))
	})

	t.Run("fatal escalates immediately", func(t *testing.T) {
		calls := 0
		err := retryer.Do(context.Background(), func() error {
			calls++
			return types.NewProviderError("deepgram", types.ProviderFatal, errors.New("401"))
		})
		assert.Equal(t, 1, calls)
		assert.True(t, types.IsFatal(err))
	})
}

func TestBackoffRetryer_ContextCancel(t *testing.T) {
	retryer := NewBackoffRetryer(&RetryPolicy{
		MaxRetries:   5,
		InitialDelay: time.Second,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := retryer.Do(ctx, func() error { return errors.New("fail") })

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestBackoffRetryer_CalculateDelay(t *testing.T) {
	r := NewBackoffRetryer(&RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}, nil).(*backoffRetryer)

	assert.Equal(t, 200*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 400*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 800*time.Millisecond, r.calculateDelay(3))
	assert.Equal(t, time.Second, r.calculateDelay(4), "受 MaxDelay 限制")
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	var attempts []int
	policy := fastPolicy(2)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	_ = NewBackoffRetryer(policy, nil).Do(context.Background(), func() error {
		return errors.New("fail")
	})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoWithResultTyped(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(1), nil)

	calls := 0
	got, err := DoWithResultTyped[[]byte](retryer, context.Background(), func() ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("once")
		}
		return []byte("audio"), nil
	})

	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), got)
}
