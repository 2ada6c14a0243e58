package infrastructure

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"reelkit.io/reelkit/internal/persistence"
)

// SQLiteExecutor runs persistence statements on an embedded SQLite file.
// The handle is limited to one connection, which serializes statements and
// keeps transactions on the connection that opened them.
type SQLiteExecutor struct {
	db   *sql.DB
	path string
}

// OpenSQLiteExecutor opens (creating if needed) the database at path.
func OpenSQLiteExecutor(ctx context.Context, path string) (*SQLiteExecutor, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	return &SQLiteExecutor{db: db, path: path}, nil
}

// Path returns the database file.
func (s *SQLiteExecutor) Path() string { return s.path }

// Exec implements persistence.Executor.
func (s *SQLiteExecutor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execAffected(s.db.ExecContext(ctx, query, args...))
}

// Query implements persistence.Executor.
func (s *SQLiteExecutor) Query(ctx context.Context, query string, args ...any) (persistence.Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return newSQLRows(rows)
}

// InTx implements persistence.Executor.
func (s *SQLiteExecutor) InTx(ctx context.Context, fn func(persistence.Executor) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&sqliteTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Dialect implements persistence.Executor.
func (s *SQLiteExecutor) Dialect() persistence.Dialect { return persistence.DialectSQLite }

// Ping implements persistence.Executor.
func (s *SQLiteExecutor) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements persistence.Executor.
func (s *SQLiteExecutor) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// sqliteTx is the executor handed to InTx callbacks. Nested InTx calls join
// the open transaction.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execAffected(t.tx.ExecContext(ctx, query, args...))
}

func (t *sqliteTx) Query(ctx context.Context, query string, args ...any) (persistence.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return newSQLRows(rows)
}

func (t *sqliteTx) InTx(_ context.Context, fn func(persistence.Executor) error) error {
	return fn(t)
}

func (t *sqliteTx) Dialect() persistence.Dialect { return persistence.DialectSQLite }
func (t *sqliteTx) Ping(context.Context) error   { return nil }
func (t *sqliteTx) Close() error                 { return nil }

func execAffected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

type sqlRows struct {
	rows *sql.Rows
	cols []string
}

func newSQLRows(rows *sql.Rows) (*sqlRows, error) {
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return &sqlRows{rows: rows, cols: cols}, nil
}

func (r *sqlRows) Columns() []string { return r.cols }
func (r *sqlRows) Next() bool        { return r.rows.Next() }
func (r *sqlRows) Err() error        { return r.rows.Err() }
func (r *sqlRows) Close()            { _ = r.rows.Close() }

func (r *sqlRows) Values() ([]any, error) {
	vals := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}
