// Package persistence maps entity structs onto one relational table per type
// and manages their identity, status lifecycle and deferred writes.
//
// A Context owns the connection and the registry of entity types. Register
// returns a typed Repository through which entities are created, loaded,
// saved and deleted. Each Repository keeps an identity cache so that, for
// the lifetime of the Context, one id maps to at most one live instance.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "reelkit.io/reelkit/internal/pkg/errors"
	"reelkit.io/reelkit/internal/pkg/logger"
	"reelkit.io/reelkit/internal/pkg/metrics"
)

// Defaults applied by NewContext.
const (
	DefaultConnectRetries = 10
	DefaultConnectBackoff = time.Second
	DefaultBatchSize      = 1000
)

// Options tunes a Context. Zero values select the defaults.
type Options struct {
	ConnectRetries int
	ConnectBackoff time.Duration
	BatchSize      int
	// Now is the clock behind creation tokens.
	Now func() time.Time
	// Logger defaults to the global logger.
	Logger *zap.Logger
}

// repoHandle is the type-erased view of a Repository used for flushing.
type repoHandle interface {
	typeName() string
	flushSaves(ctx context.Context) error
	flushDeletes(ctx context.Context) error
	resetTable()
}

// Context is the persistence context: connection, entity registry and
// creation-token clock. Construct one per process (or per test).
type Context struct {
	connector Connector
	opts      Options
	clock     *tokenClock
	log       *zap.Logger

	mu   sync.Mutex
	exec Executor

	regMu sync.Mutex
	repos []repoHandle
	names map[string]struct{}
}

// NewContext creates a Context that opens connections with connector.
// Nothing is dialed until the first operation needs the store.
func NewContext(connector Connector, opts Options) *Context {
	if opts.ConnectRetries <= 0 {
		opts.ConnectRetries = DefaultConnectRetries
	}
	if opts.ConnectBackoff <= 0 {
		opts.ConnectBackoff = DefaultConnectBackoff
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = logger.L()
	}
	return &Context{
		connector: connector,
		opts:      opts,
		clock:     newTokenClock(opts.Now),
		log:       opts.Logger,
		names:     make(map[string]struct{}),
	}
}

// BatchSize returns the configured rows-per-statement for batch writes.
func (pc *Context) BatchSize() int { return pc.opts.BatchSize }

// Connect returns the shared executor, dialing it on first use. Failed
// attempts are retried with a fixed backoff; configuration errors are
// returned immediately.
func (pc *Context) Connect(ctx context.Context) (Executor, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.exec != nil {
		return pc.exec, nil
	}
	if pc.connector == nil {
		return nil, apperrors.ErrConfigf("persistence context has no connector")
	}

	var lastErr error
	for attempt := 1; attempt <= pc.opts.ConnectRetries; attempt++ {
		exec, err := pc.dial(ctx)
		if err == nil {
			pc.exec = exec
			pc.log.Info("Database connected",
				zap.String("dialect", string(exec.Dialect())),
				zap.Int("attempt", attempt),
			)
			return exec, nil
		}
		if apperrors.HasCode(err, apperrors.CodeConfigInvalid) {
			return nil, err
		}
		lastErr = err
		pc.log.Warn("Database connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", pc.opts.ConnectRetries),
			zap.Error(err),
		)
		if attempt == pc.opts.ConnectRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect: %w", ctx.Err())
		case <-time.After(pc.opts.ConnectBackoff):
		}
	}
	return nil, apperrors.Wrap(lastErr, apperrors.CodeConnectFailed,
		fmt.Sprintf("database unreachable after %d attempts", pc.opts.ConnectRetries),
		http.StatusServiceUnavailable)
}

func (pc *Context) dial(ctx context.Context) (Executor, error) {
	exec, err := pc.connector(ctx)
	if err != nil {
		return nil, err
	}
	if err := exec.Ping(ctx); err != nil {
		_ = exec.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return exec, nil
}

// Connected reports whether an executor is currently open.
func (pc *Context) Connected() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.exec != nil
}

// Disconnect closes the executor. It is safe to call repeatedly; close
// errors are logged, not returned. Tables are re-ensured on reconnect.
func (pc *Context) Disconnect() {
	pc.mu.Lock()
	exec := pc.exec
	pc.exec = nil
	pc.mu.Unlock()

	if exec == nil {
		return
	}
	if err := exec.Close(); err != nil {
		pc.log.Error("Exception ignored closing database connection", zap.Error(err))
	}
	for _, r := range pc.registered() {
		r.resetTable()
	}
	pc.log.Info("Database disconnected")
}

func (pc *Context) register(name string, r repoHandle) error {
	pc.regMu.Lock()
	defer pc.regMu.Unlock()
	if _, dup := pc.names[name]; dup {
		return apperrors.Conflict(apperrors.CodeDuplicateType,
			fmt.Sprintf("entity type %q is already registered", name))
	}
	pc.names[name] = struct{}{}
	pc.repos = append(pc.repos, r)
	return nil
}

func (pc *Context) registered() []repoHandle {
	pc.regMu.Lock()
	defer pc.regMu.Unlock()
	return append([]repoHandle(nil), pc.repos...)
}

// Flush persists deferred work for every registered type, in registration
// order: autoSave records are saved, then autoDelete records are deleted.
// Failures are logged and joined; they never stop the remaining types.
func (pc *Context) Flush(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.RecordFlush(time.Since(start)) }()

	var errs []error
	for _, r := range pc.registered() {
		if err := r.flushSaves(ctx); err != nil {
			pc.log.Error("Deferred save failed", zap.String("entity", r.typeName()), zap.Error(err))
			errs = append(errs, err)
		}
		if err := r.flushDeletes(ctx); err != nil {
			pc.log.Error("Deferred delete failed", zap.String("entity", r.typeName()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes deferred work and disconnects. Call it once at shutdown.
func (pc *Context) Close(ctx context.Context) error {
	err := pc.Flush(ctx)
	pc.Disconnect()
	return err
}
