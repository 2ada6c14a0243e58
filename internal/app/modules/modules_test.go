package modules

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelkit.io/reelkit/internal/config"
	"reelkit.io/reelkit/internal/media"
	"reelkit.io/reelkit/internal/persistence"
	"reelkit.io/reelkit/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver:         config.DriverSQLite,
			SQLitePath:     filepath.Join(dir, "reelkit.db"),
			ConnectRetries: 1,
		},
		Worker: config.WorkerConfig{GeneralPoolSize: 4, SyncPoolSize: 2},
		Security: config.SecurityConfig{
			JWTSigningKey:       "modules-test-key-1234567890123456789",
			JWTIssuer:           "reelkit",
			TokenTTL:            time.Hour,
			JWTVerificationKeys: []string{" old-key ", ""},
		},
		Media: config.MediaConfig{
			ExportDir: filepath.Join(dir, "exports"),
			MirrorDir: filepath.Join(dir, "mirror"),
		},
	}
}

func TestJWTConfig(t *testing.T) {
	cfg := sqliteConfig(t)
	got := JWTConfig(cfg)
	if string(got.SigningKey) != cfg.Security.JWTSigningKey {
		t.Fatalf("SigningKey = %q, want %q", got.SigningKey, cfg.Security.JWTSigningKey)
	}
	if len(got.VerificationKeys) != 1 || string(got.VerificationKeys[0]) != "old-key" {
		t.Fatalf("VerificationKeys = %q, want [old-key]", got.VerificationKeys)
	}
	if got.ExpiresIn != time.Hour || got.Issuer != "reelkit" {
		t.Fatalf("ExpiresIn/Issuer = %s/%s, want 1h/reelkit", got.ExpiresIn, got.Issuer)
	}
}

func TestMediaModule_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)

	infra, err := NewInfrastructure(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(infra.Close)

	mod, err := NewMediaModule(ctx, infra)
	require.NoError(t, err)
	assert.Equal(t, "media", mod.Name())
	assert.NotNil(t, mod.syncer, "mirror dir enables the syncer")

	_, err = mod.Library().AddAccount(ctx, media.AccountSpec{Uniquename: "main", Platforms: []string{"tiktok"}}, false)
	require.NoError(t, err)

	workers := river.NewWorkers()
	mod.RegisterWorkers(workers)
	require.Len(t, mod.PeriodicJobs(), 1)
	require.NoError(t, infra.InitRiver(workers, mod.PeriodicJobs()))
	assert.Nil(t, infra.DB.RiverClient, "river is disabled on the embedded store")

	deps := NewServerDeps(cfg, infra, []Module{mod, nil})
	assert.Same(t, mod.Library(), deps.Library)
	assert.Same(t, infra.Persistence, deps.Context)
	assert.Nil(t, deps.Jobs)
	assert.NotNil(t, deps.Audit)

	v, err := mod.Library().NewVideo(ctx, "main", nil)
	require.NoError(t, err)
	v.SetAutoSave(true)
	require.NoError(t, mod.Shutdown(ctx))

	n, err := mod.Library().Videos.Count(ctx, persistence.ByID(v.ID()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "shutdown flushes auto-save entities")
}
