package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/doc-cache/internal/config"
	"github.com/Sternrassler/doc-cache/pkg/docstore"
	"github.com/Sternrassler/doc-cache/pkg/docstore/couchdb"
	"github.com/Sternrassler/doc-cache/pkg/docstore/dynamostore"
	"github.com/Sternrassler/doc-cache/pkg/docstore/redisstore"
	"github.com/Sternrassler/doc-cache/pkg/docstore/sqlstore"
)

// openStore builds the configured backend and checks that it is reachable.
// The returned close function releases the backend's connections.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (docstore.Store, func() error, error) {
	store, closeFn, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}

	if p, ok := store.(docstore.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			_ = closeFn()
			return nil, nil, fmt.Errorf("ping %s store: %w", cfg.Backend, err)
		}
	}

	logger.Info().Str("backend", string(cfg.Backend)).Msg("Connected to document store")
	return store, closeFn, nil
}

func buildStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (docstore.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendCouchDB:
		ccfg := couchdb.DefaultConfig()
		ccfg.Host = cfg.CouchDB.URL
		ccfg.Port = 0
		ccfg.Database = cfg.CouchDB.Database
		ccfg.Username = cfg.CouchDB.Username
		ccfg.Password = cfg.CouchDB.Password
		ccfg.AuthType = couchdb.AuthType(cfg.CouchDB.Auth)
		if cfg.CouchDB.Timeout > 0 {
			ccfg.Timeout = cfg.CouchDB.Timeout
		}

		store, err := couchdb.New(ccfg, couchdb.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureDatabase(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store, err := redisstore.New(client, redisstore.Options{
			KeyPrefix: cfg.Redis.KeyPrefix,
			Logger:    &logger,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil

	case config.BackendSQLite:
		store, err := sqlstore.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case config.BackendDynamoDB:
		client, err := dynamostore.NewClient(ctx, cfg.DynamoDB.Region, cfg.DynamoDB.Endpoint)
		if err != nil {
			return nil, nil, err
		}
		store, err := dynamostore.New(client, dynamostore.Config{
			Table:  cfg.DynamoDB.Table,
			Logger: &logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
