package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rpattn/gist/internal/config"
	"github.com/rpattn/gist/internal/db"
	"github.com/rpattn/gist/internal/fixtures"
	"github.com/rpattn/gist/internal/gist"
	"github.com/rpattn/gist/internal/integrity"
	"github.com/rpattn/gist/internal/metrics"
	"github.com/rpattn/gist/internal/registry"
	"github.com/rpattn/gist/internal/repository"
)

// app holds the components shared by the serve and check commands.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	registry  *registry.Registry
	store     repository.Store
	engine    *gist.Engine
	integrity *integrity.Service
	metrics   *metrics.Collector

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.NewCollector()}

	reg, err := loadRegistry(cfg.Gist.SchemaFile)
	if err != nil {
		return nil, err
	}
	a.registry = reg

	var pool *db.Connection
	switch cfg.Store.Driver {
	case "postgres":
		pool, err = db.NewConnection(ctx, cfg.Database, logger.Named("store"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		a.store = repository.NewPostgresStore(pool.Pool, reg)
	default:
		a.store = repository.NewMemoryStore(reg)
	}

	for _, path := range cfg.Store.Fixtures {
		summary, err := loadFixtures(ctx, reg, a.store, pool, path)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("loaded fixtures", zap.String("file", path), zap.Int("records", summary.Total()))
	}

	jobs, err := a.jobStore(ctx, pool)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.engine = gist.NewEngine(reg, a.store,
		gist.WithLogger(logger.Named("gist")),
		gist.WithRecorder(a.metrics),
		gist.WithQueryOptions(cfg.Gist.QueryOptions()),
		gist.WithOfflineLevels(cfg.Gist.OfflineLevels),
	)
	a.integrity = integrity.NewService(reg, a.store, jobs,
		integrity.WithLogger(logger.Named("integrity")),
		integrity.WithRecorder(a.metrics),
		integrity.WithJobTimeout(cfg.Integrity.JobTimeout),
	)
	return a, nil
}

func (a *app) jobStore(ctx context.Context, pool *db.Connection) (repository.JobStore, error) {
	switch a.cfg.Integrity.JobStore {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: a.cfg.Integrity.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", a.cfg.Integrity.RedisAddr, err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return repository.NewRedisJobStore(client, "", a.cfg.Integrity.JobTTL), nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("integrity job store postgres requires store driver postgres")
		}
		return repository.NewPostgresJobStore(pool.Pool), nil
	default:
		return repository.NewMemoryJobStore(), nil
	}
}

// loadFixtures seeds one file. With Postgres the whole file is one
// transaction.
func loadFixtures(ctx context.Context, reg *registry.Registry, store repository.Store, pool *db.Connection, path string) (fixtures.Summary, error) {
	if pool == nil {
		return fixtures.NewLoader(reg, store).LoadFile(ctx, path)
	}
	var summary fixtures.Summary
	err := pool.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		summary, err = fixtures.NewLoader(reg, repository.NewPostgresStore(tx, reg)).LoadFile(ctx, path)
		return err
	})
	return summary, err
}

// loadRegistry reads entity types from a GraphQL SDL file, or falls back to
// the built-in catalog.
func loadRegistry(schemaFile string) (*registry.Registry, error) {
	if schemaFile == "" {
		return registry.Catalog()
	}
	source, err := os.ReadFile(schemaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return registry.LoadSDL(schemaFile, string(source))
}
