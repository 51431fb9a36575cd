package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"stark-claimer/internal/config"
	"stark-claimer/internal/storage"
	"stark-claimer/internal/storage/jsonfile"
	"stark-claimer/internal/storage/memory"
	"stark-claimer/internal/storage/migrations"
	"stark-claimer/internal/storage/postgres"
	"stark-claimer/internal/storage/redis"
)

// OpenStore opens the wallet store selected by cfg.Driver. Postgres schemas
// are migrated before the store is returned.
func OpenStore(ctx context.Context, cfg config.StorageConfig, log logrus.FieldLogger) (storage.WalletStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		log.Info("using in-memory wallet store")
		return memory.NewWalletStore(), nil

	case config.DriverJSON:
		store, err := jsonfile.NewWalletStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		log.WithField("path", store.Path()).Info("using json wallet store")
		return store, nil

	case config.DriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("storage driver %s requires a dsn", cfg.Driver)
		}
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		log.Info("using postgres wallet store")
		return postgres.NewWalletStore(pool), nil

	case config.DriverRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("storage driver %s requires a url", cfg.Driver)
		}
		store, err := redis.NewWalletStore(ctx, cfg.RedisURL, cfg.RedisKey)
		if err != nil {
			return nil, err
		}
		log.Info("using redis wallet store")
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
