// Package cache manages the shared Redis connection.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/internal/tlsutil"
)

// =============================================================================
// 💾 Redis 连接管理器
// =============================================================================

// ErrClosed Manager 已关闭
var ErrClosed = errors.New("redis manager is closed")

// Manager 持有 Redis 客户端，负责连接探活、幂等键与优雅关闭
type Manager struct {
	client *redis.Client
	config config.RedisConfig
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// NewManager 连接 Redis 并启动健康检查
func NewManager(cfg config.RedisConfig, logger *zap.Logger) (*Manager, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.TLS {
		opts.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	return newManager(redis.NewClient(opts), cfg, logger)
}

func newManager(client *redis.Client, cfg config.RedisConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		client: client,
		config: cfg,
		logger: logger.With(zap.String("component", "redis")),
		stop:   make(chan struct{}),
	}
	if cfg.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}

	m.logger.Info("redis manager initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize))
	return m, nil
}

// Client 返回底层客户端，供管道与 Stream 操作使用
func (m *Manager) Client() *redis.Client { return m.client }

// Key 拼接带前缀的键
func (m *Manager) Key(parts ...string) string {
	key := m.config.KeyPrefix
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

// Claim 以 SETNX 占用幂等键。返回 false 表示该键已被占用。
func (m *Manager) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	if ttl <= 0 {
		ttl = m.config.EventTTL
	}

	ok, err := m.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

// Release 释放幂等键，写入失败后允许重试
func (m *Manager) Release(ctx context.Context, key string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return m.client.Del(ctx, key).Err()
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return m.client.Ping(ctx).Err()
}

// Close 关闭连接
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stop)
	m.logger.Info("closing redis manager")
	return m.client.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.Ping(ctx); err != nil && !errors.Is(err, ErrClosed) {
			m.logger.Error("redis health check failed", zap.Error(err))
		} else {
			stats := m.client.PoolStats()
			m.logger.Debug("redis health check passed",
				zap.Uint32("total_conns", stats.TotalConns),
				zap.Uint32("idle_conns", stats.IdleConns))
		}
		cancel()
	}
}

// Stats 连接池统计
type Stats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
}

// GetStats 返回连接池统计
func (m *Manager) GetStats() Stats {
	s := m.client.PoolStats()
	return Stats{
		Hits:       s.Hits,
		Misses:     s.Misses,
		Timeouts:   s.Timeouts,
		TotalConns: s.TotalConns,
		IdleConns:  s.IdleConns,
		StaleConns: s.StaleConns,
	}
}
