package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/types"
	"go.uber.org/zap"
)

// RetryPolicy 描述一次调用的退避重试方式。总尝试次数 = MaxRetries+1。
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool // ±25%，不低于 InitialDelay

	// ShouldRetry 为空时所有错误都重试
	ShouldRetry func(err error) bool
	OnRetry     func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy 200ms 起步、倍增 2、共 3 次尝试。
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
}

// ProviderPolicy 由供应商重试配置构建策略，只重试 transient 错误。
func ProviderPolicy(cfg config.RetryConfig) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   max(cfg.MaxAttempts-1, 0),
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.Multiplier,
		Jitter:       cfg.Jitter,
		ShouldRetry:  types.IsTransient,
	}
}

// Retryer 按策略重复执行一个操作。
type Retryer interface {
	Do(ctx context.Context, fn func() error) error
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

type backoffRetryer struct {
	policy RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer 返回指数退避的 Retryer；policy 为 nil 时使用 DefaultRetryPolicy。
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := *policy
	p.MaxRetries = max(p.MaxRetries, 0)
	if p.InitialDelay <= 0 {
		p.InitialDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return &backoffRetryer{policy: p, logger: logger}
}

func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) { return nil, fn() })
	return err
}

func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	attempts := r.policy.MaxRetries + 1
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if werr := r.wait(ctx, attempt, err); werr != nil {
				return nil, werr
			}
		}

		var result any
		if result, err = fn(); err == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		if r.policy.ShouldRetry != nil && !r.policy.ShouldRetry(err) {
			return nil, err
		}
	}

	r.logger.Warn("retries exhausted", zap.Int("attempts", attempts), zap.Error(err))
	return nil, fmt.Errorf("failed after %d attempts: %w", attempts, err)
}

// wait sleeps before retry number attempt, or returns early when ctx ends.
func (r *backoffRetryer) wait(ctx context.Context, attempt int, last error) error {
	delay := r.calculateDelay(attempt)
	r.logger.Debug("retrying",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(last),
	)
	if r.policy.OnRetry != nil {
		r.policy.OnRetry(attempt, last, delay)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled: %w", errors.Join(ctx.Err(), last))
	case <-timer.C:
		return nil
	}
}

// calculateDelay = InitialDelay * Multiplier^(attempt-1)，封顶 MaxDelay。
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	p := r.policy
	d := math.Min(float64(p.InitialDelay)*math.Pow(p.Multiplier, float64(attempt-1)), float64(p.MaxDelay))
	if p.Jitter {
		d += d * 0.25 * (rand.Float64()*2 - 1)
	}
	return time.Duration(math.Max(d, float64(p.InitialDelay)))
}
