package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"reelkit.io/reelkit/internal/config"
	"reelkit.io/reelkit/internal/persistence"
)

// pgxQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresExecutor runs persistence statements on a pgxpool. Every call
// borrows its own connection, so concurrent callers never share a cursor.
type PostgresExecutor struct {
	q    pgxQuerier
	pool *pgxpool.Pool
	// owned pools are closed by Close; shared ones belong to DatabaseClients.
	owned bool
}

// NewPostgresExecutor wraps a pool owned by the caller. Close is a no-op.
func NewPostgresExecutor(pool *pgxpool.Pool) *PostgresExecutor {
	return &PostgresExecutor{q: pool, pool: pool}
}

// OpenPostgresExecutor creates a dedicated pool from cfg.
func OpenPostgresExecutor(ctx context.Context, cfg config.DatabaseConfig) (*PostgresExecutor, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresExecutor{q: pool, pool: pool, owned: true}, nil
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	poolConfig.HealthCheckPeriod = time.Minute

	// Set UTC timezone on each new connection
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return pool, nil
}

// Exec implements persistence.Executor.
func (e *PostgresExecutor) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := e.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Query implements persistence.Executor.
func (e *PostgresExecutor) Query(ctx context.Context, sql string, args ...any) (persistence.Rows, error) {
	rows, err := e.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &pgxRows{rows: rows}, nil
}

// InTx implements persistence.Executor. Inside a transaction InTx opens a
// savepoint.
func (e *PostgresExecutor) InTx(ctx context.Context, fn func(persistence.Executor) error) error {
	return pgx.BeginFunc(ctx, e.q, func(tx pgx.Tx) error {
		return fn(&PostgresExecutor{q: tx, pool: e.pool})
	})
}

// Dialect implements persistence.Executor.
func (e *PostgresExecutor) Dialect() persistence.Dialect { return persistence.DialectPostgres }

// Ping implements persistence.Executor.
func (e *PostgresExecutor) Ping(ctx context.Context) error {
	if err := e.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close implements persistence.Executor.
func (e *PostgresExecutor) Close() error {
	if e.owned {
		e.pool.Close()
	}
	return nil
}

type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Columns() []string {
	fds := r.rows.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
	}
	return cols
}

func (r *pgxRows) Next() bool             { return r.rows.Next() }
func (r *pgxRows) Values() ([]any, error) { return r.rows.Values() }
func (r *pgxRows) Err() error             { return r.rows.Err() }
func (r *pgxRows) Close()                 { r.rows.Close() }
