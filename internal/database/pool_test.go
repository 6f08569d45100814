package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/callflow/config"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{Conn: mockDB})
	gormDB, err := gorm.Open(dialector, &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	return mockDB, mock, gormDB
}

func testPoolConfig() PoolConfig {
	return PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}
}

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, gormDB, manager.DB())
	assert.Equal(t, 10, manager.GetStats().MaxOpenConnections)

	_, err = NewPoolManager(nil, testPoolConfig(), nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(ctx))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.Error(t, manager.Ping(ctx))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransaction(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit()
	assert.NoError(t, manager.WithTransaction(ctx, func(tx *gorm.DB) error { return nil }))

	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.Error(t, manager.WithTransaction(ctx, func(tx *gorm.DB) error { return assert.AnError }))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err = manager.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		calls++
		if calls == 1 {
			return errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)

	mock.ExpectBegin()
	mock.ExpectRollback()
	calls = 0
	err = manager.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		calls++
		return errors.New("duplicate key value violates unique constraint")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable errors are returned immediately")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_Close(t *testing.T) {
	_, mock, gormDB := setupTestDB(t)

	manager, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5, HealthCheckInterval: time.Hour}, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectClose()
	assert.NoError(t, manager.Close())
	assert.NoError(t, manager.Close())
	assert.ErrorIs(t, manager.Ping(context.Background()), ErrPoolClosed)
	assert.ErrorIs(t, manager.WithTransaction(context.Background(), func(tx *gorm.DB) error { return nil }), ErrPoolClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("deadlock detected"), true},
		{errors.New("pq: could not serialize access due to concurrent update (SQLSTATE 40001)"), true},
		{errors.New("Error 1205: Lock wait timeout exceeded"), true},
		{errors.New("driver: bad connection"), true},
		{errors.New("database is locked"), true},
		{errors.New("syntax error at or near"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.err), "%v", tt.err)
	}
}

func TestDialector(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DatabaseConfig
		dialect string
		wantErr bool
	}{
		{"postgres", config.DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432}, "postgres", false},
		{"mysql", config.DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306}, "mysql", false},
		{"sqlite", config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"}, "sqlite", false},
		{"sqlite without path", config.DatabaseConfig{Driver: "sqlite"}, "", true},
		{"empty", config.DatabaseConfig{}, "", true},
		{"unknown", config.DatabaseConfig{Driver: "oracle"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Dialector(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dialect, d.Name())
		})
	}
}

func TestOpen_SQLite(t *testing.T) {
	cfg := config.DefaultDatabaseConfig()
	cfg.Driver = "sqlite"
	cfg.Name = ":memory:"
	cfg.HealthCheckInterval = 0

	manager, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	defer manager.Close()

	assert.NoError(t, manager.Ping(context.Background()))
	assert.Equal(t, cfg.MaxOpenConns, manager.GetStats().MaxOpenConnections)
}

func TestPoolConfigFrom(t *testing.T) {
	pc := PoolConfigFrom(config.DatabaseConfig{MaxOpenConns: 7, HealthCheckInterval: time.Second})
	assert.Equal(t, 7, pc.MaxOpenConns)
	assert.Equal(t, DefaultPoolConfig().MaxIdleConns, pc.MaxIdleConns)
	assert.Equal(t, time.Second, pc.HealthCheckInterval)
}
