package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{StateClosed: "Closed", StateOpen: "Open", StateHalfOpen: "HalfOpen"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

var (
	// ErrCircuitOpen is returned without calling fn while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyCallsInHalfOpen is returned when the half-open trial slots are taken.
	ErrTooManyCallsInHalfOpen = errors.New("too many calls in half-open state")
)

// Config 熔断器配置。零值字段取 DefaultConfig 中的值。
type Config struct {
	Threshold        int           // 连续失败多少次后打开
	Timeout          time.Duration // 单次调用超时，超时计为失败
	ResetTimeout     time.Duration // Open 保持多久后放行试探调用
	HalfOpenMaxCalls int

	// IsFailure 为 nil 时所有错误都计入失败
	IsFailure     func(err error) bool
	OnStateChange func(from, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Threshold:        5,
		Timeout:          5 * time.Second,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreaker 在下游持续失败时短路调用。
type CircuitBreaker interface {
	Call(ctx context.Context, fn func(ctx context.Context) error) error
	State() State
	Reset()
}

type breaker struct {
	config *Config
	logger *zap.Logger

	mu       sync.RWMutex
	state    State
	failures int
	openedAt time.Time
	trials   int
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(config *Config, logger *zap.Logger) CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c, def := *config, DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = def.Threshold
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = def.ResetTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return &breaker{config: &c, logger: logger}
}

// Call runs fn with a per-call timeout unless the breaker refuses it.
func (b *breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		err = fmt.Errorf("call timed out: %w", callCtx.Err())
	}
	b.record(err == nil || (b.config.IsFailure != nil && !b.config.IsFailure(err)))
	return err
}

func (b *breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) <= b.config.ResetTimeout {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.trials = 1
	case StateHalfOpen:
		if b.trials >= b.config.HalfOpenMaxCalls {
			return ErrTooManyCallsInHalfOpen
		}
		b.trials++
	}
	return nil
}

func (b *breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ok {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	switch {
	case b.state == StateHalfOpen:
		b.transition(StateOpen)
	case b.state == StateClosed && b.failures >= b.config.Threshold:
		b.transition(StateOpen)
	}
}

// transition must be called with mu held.
func (b *breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	switch to {
	case StateOpen:
		b.openedAt = time.Now()
		b.trials = 0
		b.logger.Warn("circuit opened", zap.Stringer("from", from), zap.Int("failures", b.failures))
	case StateHalfOpen:
		b.logger.Info("circuit half-open")
	case StateClosed:
		b.trials = 0
		b.logger.Info("circuit closed", zap.Stringer("from", from))
	}
	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(from, to)
	}
}

func (b *breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Reset closes the breaker and clears its failure count.
func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.transition(StateClosed)
}
