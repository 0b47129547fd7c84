package main

import (
	"context"
	"fmt"

	"github.com/xraph/grove"
	"github.com/xraph/grove/kv"

	"github.com/xraph/payhook/store"
	"github.com/xraph/payhook/store/memory"
	mongostore "github.com/xraph/payhook/store/mongo"
	pgstore "github.com/xraph/payhook/store/postgres"
	redisstore "github.com/xraph/payhook/store/redis"
	sqlitestore "github.com/xraph/payhook/store/sqlite"
)

const (
	driverMemory   = "memory"
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
	driverMongo    = "mongo"
	driverRedis    = "redis"
)

// openStore connects the configured backend and runs its migrations.
func openStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch cfg.Driver {
	case driverMemory:
		s = memory.New()
	case driverRedis:
		var kvs *kv.Store
		kvs, err = kv.Open(ctx, driverRedis, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("store: open redis: %w", err)
		}
		s = redisstore.New(kvs)
	default:
		s, err = openGrove(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("store: ping %s: %w", cfg.Driver, err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("store: migrate %s: %w", cfg.Driver, err)
	}
	return s, nil
}

// openGrove opens a grove database and picks the store matching the driver
// grove reports.
func openGrove(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	name := cfg.Driver
	if name == driverPostgres {
		name = "pg"
	}
	db, err := grove.Open(ctx, name, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Driver, err)
	}

	switch driverName := db.Driver().Name(); driverName {
	case "pg":
		return pgstore.New(db), nil
	case "sqlite":
		return sqlitestore.New(db), nil
	case "mongo":
		return mongostore.New(db), nil
	default:
		_ = db.Close()
		return nil, fmt.Errorf("store: unsupported grove driver %q", driverName)
	}
}
