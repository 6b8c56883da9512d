package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"petri/internal/config"
	"petri/internal/infra/persistence/badger"
	"petri/internal/infra/persistence/memory"
	"petri/internal/infra/persistence/postgres"
	"petri/internal/infra/persistence/redis"
	"petri/internal/infra/persistence/sqlite"
	"petri/pkg/domain"
)

// StorageDriver identifies a concrete key-value storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageRedis    StorageDriver = "redis"    // Redis server, keys namespaced by prefix
	StorageBadger   StorageDriver = "badger"   // embedded badger directory
)

// OpenKeyValueStore selects a backend from storage configuration.
// Defaults to sqlite when the driver is unset.
func OpenKeyValueStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (domain.KeyValueStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver := cfg.Driver
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath)
	case StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case StorageRedis:
		return redis.NewStore(ctx, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		}, logger)
	case StorageBadger:
		return badger.Open(badger.Config{Path: cfg.BadgerPath, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
