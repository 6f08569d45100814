package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/callflow/config"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	mr := miniredis.RunT(t)

	cfg := config.DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0

	manager, err := NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return mr, manager
}

func TestNewManager(t *testing.T) {
	_, manager := setupTestRedis(t)

	assert.NotNil(t, manager.Client())
	assert.NoError(t, manager.Ping(context.Background()))
}

func TestNewManager_Unreachable(t *testing.T) {
	cfg := config.DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"

	_, err := NewManager(cfg, nil)
	assert.Error(t, err)
}

func TestManager_Key(t *testing.T) {
	_, manager := setupTestRedis(t)

	assert.Equal(t, "callflow:session:abc:transcript", manager.Key("session", "abc", "transcript"))
	assert.Equal(t, "callflow:", manager.Key())
}

func TestManager_ClaimIsExclusive(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	ok, err := manager.Claim(ctx, "callflow:event:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = manager.Claim(ctx, "callflow:event:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("callflow:event:1"))

	require.NoError(t, manager.Release(ctx, "callflow:event:1"))
	ok, err = manager.Claim(ctx, "callflow:event:1", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 24*time.Hour, mr.TTL("callflow:event:1"))
}

func TestManager_ClosedOperationsFail(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	_, err := manager.Claim(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
	assert.ErrorIs(t, manager.Release(ctx, "k"), ErrClosed)
}

func TestManager_PingFailsWhenServerDown(t *testing.T) {
	mr, manager := setupTestRedis(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, manager.Ping(ctx))
}
