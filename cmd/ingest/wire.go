package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/checkin/internal/config"
	"github.com/JonMunkholm/checkin/internal/dialect"
	"github.com/JonMunkholm/checkin/internal/fields"
	"github.com/JonMunkholm/checkin/internal/hooks"
	"github.com/JonMunkholm/checkin/internal/ingest"
	"github.com/JonMunkholm/checkin/internal/metadata"
	"github.com/JonMunkholm/checkin/internal/store"
)

// services is everything a command needs, built from config.
type services struct {
	cfg    *config.Config
	pool   *pgxpool.Pool
	store  *store.Postgres
	engine *ingest.Engine

	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openPool connects to PostgreSQL with the configured pool limits.
func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}

// openStore connects the pool and the PostgreSQL store. Enough for
// registering, inspecting and retrying files.
func openStore(ctx context.Context, cfg *config.Config) (*services, error) {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &services{
		cfg:     cfg,
		pool:    pool,
		store:   store.NewPostgres(pool),
		closers: []func(){pool.Close},
	}, nil
}

// detector returns the dialect detector configured for registration and runs.
func detector(cfg *config.Config) dialect.Detector {
	return dialect.Detector{
		SampleSize:       cfg.Ingest.SampleSize,
		MinHeaderColumns: cfg.Ingest.MinHeaderColumns,
	}
}

// open wires the store, registry, metadata client, hooks and engine.
func open(ctx context.Context, cfg *config.Config) (*services, error) {
	svc, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := svc.startEngine(ctx); err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

func (s *services) startEngine(ctx context.Context) error {
	cfg := s.cfg

	var registry fields.CommonIDRegistry = s.store
	if strings.EqualFold(cfg.Registry.Backend, "redis") {
		client, err := store.NewRedisClient(ctx, cfg.Registry.RedisAddr, cfg.Registry.RedisPassword, cfg.Registry.RedisDB)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, closeRedis(client))
		registry = store.NewRedisCommonIDs(client, "")
	}

	source, err := metadata.NewClient(cfg.Metadata.BaseURL, cfg.Metadata.Token, cfg.Metadata.Timeout)
	if err != nil {
		return err
	}

	connector, err := store.NewPostgresConnector(cfg.Database.URL)
	if err != nil {
		return err
	}

	var chain hooks.Chain
	if cfg.Hooks.SummaryRecords {
		chain = append(chain, hooks.Summary{Store: s.store, Logger: slog.Default()})
	}
	if len(cfg.Hooks.KafkaBrokers) > 0 {
		k := hooks.NewKafka(cfg.Hooks.KafkaBrokers, cfg.Hooks.KafkaTopic)
		s.closers = append(s.closers, func() {
			if err := k.Close(); err != nil {
				slog.Warn("close kafka writer", "error", err)
			}
		})
		chain = append(chain, k)
	}

	deps := ingest.Deps{
		Files:    s.store,
		Ledger:   s.store,
		Fields:   source,
		Registry: registry,
		Connector: ingest.ConnectorFunc(func(ctx context.Context) (ingest.RecordSink, error) {
			return connector.Connect(ctx)
		}),
	}
	if len(chain) > 0 {
		deps.Hook = chain
	}

	s.engine, err = ingest.NewEngine(deps,
		ingest.WithLogger(slog.Default()),
		ingest.WithBatchSize(cfg.Ingest.BatchSize),
		ingest.WithMaxWorkers(cfg.Ingest.MaxWorkers),
		ingest.WithMinRowsPerWorker(cfg.Ingest.MinRowsPerWorker),
		ingest.WithChunkDir(cfg.Ingest.ChunkDir),
		ingest.WithDetector(detector(cfg)),
	)
	if err != nil {
		return err
	}

	slog.Info("engine ready",
		"registry", cfg.Registry.Backend,
		"hooks", len(chain),
		"batch_size", cfg.Ingest.BatchSize,
		"max_workers", cfg.Ingest.MaxWorkers,
	)
	return nil
}

func closeRedis(client *redis.Client) func() {
	return func() {
		if err := client.Close(); err != nil {
			slog.Warn("close redis client", "error", err)
		}
	}
}
