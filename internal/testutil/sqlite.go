package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"reelkit.io/reelkit/internal/config"
	"reelkit.io/reelkit/internal/infrastructure"
	"reelkit.io/reelkit/internal/persistence"
	"reelkit.io/reelkit/internal/pkg/logger"
)

// SQLitePath returns a fresh database file path under the test's temp dir.
func SQLitePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "reelkit.db")
}

// OpenSQLite opens an embedded executor on a fresh file.
func OpenSQLite(t *testing.T) *infrastructure.SQLiteExecutor {
	t.Helper()

	exec, err := infrastructure.OpenSQLiteExecutor(context.Background(), SQLitePath(t))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = exec.Close() })
	return exec
}

// NewSQLiteContext returns a persistence context on the SQLite file at path.
// Contexts built on the same path see the same rows, which lets tests model a
// process restart.
func NewSQLiteContext(t *testing.T, path string, opts persistence.Options) *persistence.Context {
	t.Helper()

	_ = logger.Init("error", "json")
	if opts.ConnectRetries == 0 {
		opts.ConnectRetries = 1
	}
	pc := persistence.NewContext(infrastructure.NewConnector(config.DatabaseConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: path,
	}), opts)
	t.Cleanup(pc.Disconnect)
	return pc
}

// NewPostgresContext returns a persistence context on an isolated schema,
// skipping the test when no PostgreSQL DSN is configured.
func NewPostgresContext(t *testing.T, prefix string, opts persistence.Options) *persistence.Context {
	t.Helper()

	_ = logger.Init("error", "json")
	pool := OpenPGXPool(t, prefix)
	pc := persistence.NewContext(func(context.Context) (persistence.Executor, error) {
		return infrastructure.NewPostgresExecutor(pool), nil
	}, opts)
	t.Cleanup(pc.Disconnect)
	return pc
}
