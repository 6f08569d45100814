package persistence

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/internal/cache"
	"github.com/BaSui01/callflow/internal/database"
)

// NewSinkFromConfig builds the sink selected by persistence.driver. It
// returns a nil Sink for "none". Connections opened here are closed by the
// sink's Close.
func NewSinkFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Persistence.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemorySink(), nil
	case "redis":
		manager, err := cache.NewManager(cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		sink := NewRedisSink(manager, cfg.Redis)
		sink.owned = true
		return sink, nil
	case "database":
		pm, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		sink, err := NewGormSink(pm, cfg.Database.AutoMigrate)
		if err != nil {
			_ = pm.Close()
			return nil, err
		}
		sink.owned = true
		return sink, nil
	case "mongo":
		return NewMongoSink(ctx, cfg.Mongo)
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", cfg.Persistence.Driver)
	}
}

// NewPublisher wires the configured sink behind a Dispatcher. With no sink
// it returns NopPublisher and a no-op close.
func NewPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...DispatcherOption) (Publisher, func(context.Context) error, error) {
	sink, err := NewSinkFromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if sink == nil {
		return NopPublisher{}, func(context.Context) error { return nil }, nil
	}
	d := NewDispatcher(sink, cfg.Persistence, logger, opts...)
	return d, d.Close, nil
}
