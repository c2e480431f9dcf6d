package persistence

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/config"
	"github.com/spec-kit/account-service/internal/store"
	"github.com/spec-kit/account-service/internal/store/dynamostore"
	"github.com/spec-kit/account-service/internal/store/pgstore"
	"github.com/spec-kit/account-service/internal/store/redisstore"
)

// Backend is an opened record store and the connections behind it.
type Backend struct {
	Store store.Store
	// Sweeper is nil for backends with native per-item expiry.
	Sweeper store.Sweeper
	closers []func()
}

// Close releases every connection held by the backend.
func (b *Backend) Close() {
	if b == nil {
		return
	}
	_ = b.Store.Close()
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// OpenStore connects the record store selected by STORE_BACKEND.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	grace := cfg.Store.ReclaimGrace()
	prefix := cfg.Store.KeyPrefix

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		pool, err := NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Postgres.RunMigrations {
			if err := RunMigrations(ctx, pool, logger); err != nil {
				pool.Close()
				return nil, err
			}
		}
		s := pgstore.New(pool, pgstore.Options{Prefix: prefix, ReclaimGrace: grace})
		logger.Info("record store ready", zap.String("backend", cfg.Store.Backend))
		return &Backend{Store: s, Sweeper: s, closers: []func(){pool.Close}}, nil

	case config.BackendDynamoDB:
		client, err := NewDynamoDB(ctx, cfg.DynamoDB, logger)
		if err != nil {
			return nil, err
		}
		s := dynamostore.New(client, dynamostore.Options{
			Table:        cfg.DynamoDB.Table,
			Prefix:       prefix,
			ReclaimGrace: grace,
		})
		logger.Info("record store ready", zap.String("backend", cfg.Store.Backend))
		return &Backend{Store: s}, nil

	default:
		client, err := NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		s := redisstore.New(client, redisstore.Options{Prefix: prefix, ReclaimGrace: grace})
		logger.Info("record store ready", zap.String("backend", cfg.Store.Backend))
		return &Backend{Store: s}, nil
	}
}
