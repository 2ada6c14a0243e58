// Package infrastructure provides database executors and connection pool setup.
//
// PostgreSQL runs on one shared pgxpool used by both the persistence context
// and River. SQLite runs on a single embedded connection and has no job queue.
package infrastructure

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"

	"reelkit.io/reelkit/internal/config"
	"reelkit.io/reelkit/internal/persistence"
	"reelkit.io/reelkit/internal/pkg/logger"
)

// DatabaseClients contains all database-related clients.
//
// Coding Standard: Use this struct to manage connection pools.
// Do not open a second pool for the same database.
type DatabaseClients struct {
	// Pool is the shared connection pool (persistence + River). nil for SQLite.
	Pool *pgxpool.Pool

	// Executor runs persistence statements on Pool or the SQLite file.
	Executor persistence.Executor

	// RiverClient is the River job queue client backed by the shared pool.
	RiverClient *river.Client[pgx.Tx]
}

// NewDatabaseClients opens the store selected by cfg.Driver.
func NewDatabaseClients(ctx context.Context, cfg config.DatabaseConfig) (*DatabaseClients, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case config.DriverSQLite:
		exec, err := OpenSQLiteExecutor(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("SQLite database opened", zap.String("path", cfg.SQLitePath))
		return &DatabaseClients{Executor: exec}, nil

	default:
		pool, err := newPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		logger.Info("Database connection pool created",
			zap.Int32("max_conns", pool.Config().MaxConns),
			zap.Int32("min_conns", pool.Config().MinConns),
		)
		return &DatabaseClients{Pool: pool, Executor: NewPostgresExecutor(pool)}, nil
	}
}

// Connector hands the shared executor to a persistence context. The
// context's Disconnect leaves the shared handle open; Close owns it.
func (c *DatabaseClients) Connector() persistence.Connector {
	return func(context.Context) (persistence.Executor, error) {
		return sharedExecutor{c.Executor}, nil
	}
}

type sharedExecutor struct {
	persistence.Executor
}

func (sharedExecutor) Close() error { return nil }

// NewConnector returns a connector that opens a dedicated executor on each
// call. It is used by short-lived processes (CLI, seeding) that own their
// connection. Invalid configuration is reported as a non-retryable error.
func NewConnector(cfg config.DatabaseConfig) persistence.Connector {
	return func(ctx context.Context) (persistence.Executor, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if cfg.Driver == config.DriverSQLite {
			return OpenSQLiteExecutor(ctx, cfg.SQLitePath)
		}
		return OpenPostgresExecutor(ctx, cfg)
	}
}

// AutoMigrate runs the River queue table migration. Entity tables are
// created lazily by the persistence context. Only use in development.
func (c *DatabaseClients) AutoMigrate(ctx context.Context) error {
	if c.Pool == nil {
		logger.Info("River migration skipped: no PostgreSQL pool")
		return nil
	}

	logger.Info("Running River migration...")
	migrator, err := rivermigrate.New(riverpgxv5.New(c.Pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	if len(res.Versions) > 0 {
		logger.Info("River migration completed",
			zap.Int("versions_applied", len(res.Versions)),
		)
	} else {
		logger.Info("River migration: already up-to-date")
	}
	return nil
}

// InitRiverClient creates a River client with registered workers and
// periodic jobs. Requires the PostgreSQL driver.
func (c *DatabaseClients) InitRiverClient(workers *river.Workers, periodic []*river.PeriodicJob, cfg config.RiverConfig) error {
	if c.Pool == nil {
		return fmt.Errorf("river requires the %s driver", config.DriverPostgres)
	}
	riverClient, err := river.NewClient(riverpgxv5.New(c.Pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxWorkers},
		},
		Workers:                     workers,
		PeriodicJobs:                periodic,
		CompletedJobRetentionPeriod: cfg.CompletedJobRetentionPeriod,
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	c.RiverClient = riverClient
	logger.Info("River client initialized", zap.Int("max_workers", cfg.MaxWorkers))
	return nil
}

// Close closes the executor and the pool.
func (c *DatabaseClients) Close() {
	if c.Executor != nil && c.Pool == nil {
		if err := c.Executor.Close(); err != nil {
			logger.Warn("Close SQLite database failed", zap.Error(err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
