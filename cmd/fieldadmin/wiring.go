package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/fieldadmin/internal/config"
	"github.com/pitabwire/fieldadmin/internal/invoker"
	"github.com/pitabwire/fieldadmin/internal/observability"
	"github.com/pitabwire/fieldadmin/internal/openapi"
	"github.com/pitabwire/fieldadmin/internal/records"
	"github.com/pitabwire/fieldadmin/internal/schema"
	"github.com/pitabwire/fieldadmin/internal/store"
	"github.com/pitabwire/fieldadmin/internal/workflow"
)

const schemaCachePrefix = "fieldadmin"

// backend holds the engines bound to one remote API client.
type backend struct {
	index        *openapi.Index
	client       *invoker.Client
	cache        schema.Cache
	observations workflow.ObservationStore
	descriptor   *schema.Descriptor
	records      *records.Engine
	definitions  *workflow.Definitions
	executions   *workflow.Executions
	closers      []func()
}

// buildBackend builds the remote client, the schema cache, the observation
// store and the engines over them. metrics may be nil.
func buildBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (*backend, error) {
	idx, err := openapi.LoadRemoteAPI()
	if err != nil {
		return nil, fmt.Errorf("remote API contract: %w", err)
	}
	metrics.SetOpenAPIOperationsIndexed(idx.Len())

	cache, cacheCloser, err := buildSchemaCache(cfg.SchemaCache, logger)
	if err != nil {
		return nil, err
	}
	observations, storeCloser, err := buildObservationStore(ctx, cfg.Observations, logger)
	if err != nil {
		if cacheCloser != nil {
			cacheCloser()
		}
		return nil, err
	}

	b := &backend{
		index:        idx,
		cache:        cache,
		observations: observations,
	}
	for _, c := range []func(){cacheCloser, storeCloser} {
		if c != nil {
			b.closers = append(b.closers, c)
		}
	}

	b.client = invoker.NewClient(idx, cfg.Remote,
		invoker.WithMetrics(metrics),
		invoker.WithLogger(logger),
	)
	b.descriptor = schema.NewDescriptor(b.client, cache,
		schema.WithMetrics(metrics),
		schema.WithLogger(logger),
	)
	b.records = records.NewEngine(b.client, b.descriptor,
		records.WithMetrics(metrics),
		records.WithLogger(logger),
	)
	b.definitions = workflow.NewDefinitions(b.client, observations,
		workflow.WithMetrics(metrics),
		workflow.WithLogger(logger),
	)
	b.executions = workflow.NewExecutions(b.client, observations,
		workflow.WithMetrics(metrics),
		workflow.WithLogger(logger),
	)
	return b, nil
}

// service binds the engines to a fresh session set.
func (b *backend) service(sessions *store.Sessions) *store.Service {
	return store.NewService(sessions, b.descriptor, b.records, b.definitions, b.executions)
}

// readiness returns the readiness checks for the backend's dependencies.
func (b *backend) readiness() observability.ReadinessChecks {
	return observability.ReadinessChecks{
		OpenAPILoaded:    func() bool { return b.index.Len() > 0 },
		RemoteAvailable:  b.client.Available,
		SchemaCache:      observability.CheckFunc(b.cache.Ping),
		ObservationStore: observability.CheckFunc(b.observations.Ping),
	}
}

// close releases the cache and store connections.
func (b *backend) close() {
	for _, c := range b.closers {
		c()
	}
}

// buildSchemaCache creates the schema cache based on config.
func buildSchemaCache(cfg config.SchemaCacheConfig, logger *zap.Logger) (schema.Cache, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory schema cache")
		return schema.NewMemoryCache(cfg.TTL, cfg.MaxEntries), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("schema cache: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		closer := func() {
			if err := client.Close(); err != nil {
				logger.Warn("schema cache close failed", zap.Error(err))
			}
		}
		return schema.NewRedisCache(client, cfg.TTL, schemaCachePrefix), closer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported schema cache driver: %q", cfg.Driver)
	}
}

// buildObservationStore creates the execution observation store based on
// config. The postgres driver creates its tables on first use.
func buildObservationStore(ctx context.Context, cfg config.ObservationConfig, logger *zap.Logger) (workflow.ObservationStore, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory observation store")
		return workflow.NewMemoryObservationStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("observation store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("observation store: parse DSN: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		}
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("observation store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("observation store: ping: %w", err)
		}

		pg := workflow.NewPgObservationStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("observation store: %w", err)
		}
		return pg, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported observation store driver: %q", cfg.Driver)
	}
}
