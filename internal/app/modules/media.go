package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"reelkit.io/reelkit/internal/api/handlers"
	"reelkit.io/reelkit/internal/cloudsync"
	"reelkit.io/reelkit/internal/governance/audit"
	"reelkit.io/reelkit/internal/jobs"
	"reelkit.io/reelkit/internal/media"
	"reelkit.io/reelkit/internal/pkg/logger"
)

// MediaModule wires the media library, the mirror and the maintenance jobs.
type MediaModule struct {
	infra  *Infrastructure
	lib    *media.Library
	syncer *cloudsync.Syncer
	sweep  *jobs.StatusSweepWorker
	audit  *audit.Logger
}

// NewMediaModule registers the media types and loads the account directory.
func NewMediaModule(ctx context.Context, infra *Infrastructure) (*MediaModule, error) {
	cfg := infra.Config.Media
	lib, err := media.NewLibrary(infra.Persistence, media.OptionsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("init media library: %w", err)
	}
	if err := lib.ReloadAccounts(ctx); err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	auditLog, err := audit.NewLogger(infra.Persistence)
	if err != nil {
		return nil, fmt.Errorf("init audit log: %w", err)
	}

	m := &MediaModule{
		infra: infra,
		lib:   lib,
		sweep: jobs.NewStatusSweepWorker(lib, infra.Persistence),
		audit: auditLog,
	}
	if cfg.MirrorDir != "" {
		mirror := afero.NewBasePathFs(afero.NewOsFs(), cfg.MirrorDir)
		m.syncer = cloudsync.New(lib, mirror, "/", infra.Pools.Sync)
		lib.SetMirror(m.syncer)
		logger.Info("Mirror enabled", zap.String("dir", cfg.MirrorDir))
	}
	return m, nil
}

func (m *MediaModule) Name() string { return "media" }

// Library returns the media library.
func (m *MediaModule) Library() *media.Library { return m.lib }

func (m *MediaModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Library = m.lib
	deps.Context = m.infra.Persistence
	deps.Audit = m.audit
}

func (m *MediaModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil {
		return
	}
	jobs.Register(workers, m.lib, m.sweep, m.syncer)
}

func (m *MediaModule) PeriodicJobs() []*river.PeriodicJob {
	return []*river.PeriodicJob{jobs.StatusSweepPeriodicJob(m.infra.Config.River.SweepInterval)}
}

// Shutdown flushes the deferred writes of the media entities.
func (m *MediaModule) Shutdown(ctx context.Context) error {
	return m.infra.Persistence.Flush(ctx)
}
