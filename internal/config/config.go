// Package config provides configuration management for reelkit.
//
// Configuration is loaded from:
//  1. config.yaml file (optional)
//  2. Environment variables (DATABASE_HOST, SERVER_PORT, ... plus the short
//     DB_USER/DB_HOST/DB_DATABASE/DB_PORT/DB_PASSWORD aliases)
//  3. Default values
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	apperrors "reelkit.io/reelkit/internal/pkg/errors"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Log         LogConfig         `mapstructure:"log"`
	River       RiverConfig       `mapstructure:"river"`
	Security    SecurityConfig    `mapstructure:"security"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Media       MediaConfig       `mapstructure:"media"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	AllowCredentials      bool     `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool     `mapstructure:"unsafe_allow_all_origins"`
}

// DatabaseConfig contains relational store connection settings.
type DatabaseConfig struct {
	// Driver selects the store: "postgres" (pgxpool) or "sqlite" (embedded).
	Driver string `mapstructure:"driver"`

	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	SQLitePath string `mapstructure:"sqlite_path"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	// ConnectRetries bounds the attempts made by the persistence context
	// before a connection failure becomes fatal.
	ConnectRetries int           `mapstructure:"connect_retries"`
	ConnectBackoff time.Duration `mapstructure:"connect_backoff"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// Validate reports missing or invalid connection parameters.
// The returned error is a configuration error and must not be retried.
func (c DatabaseConfig) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return apperrors.ErrConfigf("database.sqlite_path is required for the sqlite driver")
		}
		return nil
	case DriverPostgres:
		if c.URL != "" {
			return nil
		}
		var missing []string
		if c.Host == "" {
			missing = append(missing, "host")
		}
		if c.User == "" {
			missing = append(missing, "user")
		}
		if c.Database == "" {
			missing = append(missing, "database")
		}
		if len(missing) > 0 {
			return apperrors.ErrConfigf("missing database parameters: %s", strings.Join(missing, ", "))
		}
		if c.Port <= 0 || c.Port > 65535 {
			return apperrors.ErrConfigf("invalid database port %d", c.Port)
		}
		return nil
	default:
		return apperrors.ErrConfigf("unsupported database driver %q", c.Driver)
	}
}

// PersistenceConfig tunes the entity persistence layer.
type PersistenceConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
	SweepInterval               time.Duration `mapstructure:"sweep_interval"`
}

// SecurityConfig contains security-related settings.
// The signing key is generated on first boot if missing.
type SecurityConfig struct {
	JWTSigningKey string        `mapstructure:"jwt_signing_key"`
	JWTIssuer     string        `mapstructure:"jwt_issuer"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	// JWTVerificationKeys are previous signing keys still accepted for
	// verification after a rotation.
	JWTVerificationKeys []string `mapstructure:"jwt_verification_keys"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	SyncPoolSize    int `mapstructure:"sync_pool_size"`
}

// MediaConfig contains settings for produced-video resources.
type MediaConfig struct {
	// ExportDir holds rendered video files owned by Video entities.
	ExportDir string `mapstructure:"export_dir"`
	// MirrorDir is the cloud mirror target used by the sync collaborator.
	MirrorDir string `mapstructure:"mirror_dir"`
	// DownloadDir holds downloaded source videos (VideoData).
	DownloadDir string `mapstructure:"download_dir"`
	// ScenePackDir holds extracted scene packs.
	ScenePackDir string `mapstructure:"scenepack_dir"`
	// DoneRetention is how long a published video is kept after its
	// most recent publication.
	DoneRetention time.Duration `mapstructure:"done_retention"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/reelkit")

	// database.max_conns -> DATABASE_MAX_CONNS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDatabaseAliases(v)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// bindDatabaseAliases accepts the short DB_* variable names used by the
// deployment scripts in addition to the DATABASE_* names.
func bindDatabaseAliases(v *viper.Viper) {
	aliases := map[string]string{
		"database.user":     "DB_USER",
		"database.host":     "DB_HOST",
		"database.database": "DB_DATABASE",
		"database.port":     "DB_PORT",
		"database.password": "DB_PASSWORD",
	}
	for key, alias := range aliases {
		envName := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envName, alias)
	}
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if len(c.Security.JWTSigningKey) < 32 {
		return fmt.Errorf("security.jwt_signing_key must be at least 32 characters")
	}
	if c.Persistence.BatchSize <= 0 {
		return fmt.Errorf("persistence.batch_size must be positive")
	}
	return nil
}

// ensureSecrets auto-generates a missing signing key.
func (c *Config) ensureSecrets() error {
	if c.Security.JWTSigningKey == "" {
		key, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate jwt signing key: %w", err)
		}
		c.Security.JWTSigningKey = key
		logBootstrapWarn(
			"auto-generated jwt_signing_key; set SECURITY_JWT_SIGNING_KEY env var for persistence",
			zap.Int("length", len(key)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)

	// Database
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "reelkit")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "reelkit")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.sqlite_path", "reelkit.db")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.connect_retries", 10)
	v.SetDefault("database.connect_backoff", "1s")
	v.SetDefault("database.auto_migrate", false)

	// Persistence
	v.SetDefault("persistence.batch_size", 1000)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.completed_job_retention_period", "24h")
	v.SetDefault("river.sweep_interval", "1h")

	// Security
	v.SetDefault("security.jwt_issuer", "reelkit")
	v.SetDefault("security.token_ttl", "24h")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 100)
	v.SetDefault("worker.sync_pool_size", 8)

	// Media
	v.SetDefault("media.export_dir", "exports")
	v.SetDefault("media.mirror_dir", "mirror")
	v.SetDefault("media.download_dir", "downloads")
	v.SetDefault("media.scenepack_dir", "scenepacks")
	v.SetDefault("media.done_retention", "744h")
}
