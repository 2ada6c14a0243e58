package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"reelkit.io/reelkit/internal/config"
	"reelkit.io/reelkit/internal/infrastructure"
	"reelkit.io/reelkit/internal/persistence"
	"reelkit.io/reelkit/internal/pkg/logger"
	"reelkit.io/reelkit/internal/pkg/worker"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config      *config.Config
	DB          *infrastructure.DatabaseClients
	Pools       *worker.Pools
	Persistence *persistence.Context
}

// NewInfrastructure opens the store, the worker pools and the persistence
// context.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		SyncPoolSize:    cfg.Worker.SyncPoolSize,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	pc := persistence.NewContext(db.Connector(), persistence.Options{
		ConnectRetries: cfg.Database.ConnectRetries,
		ConnectBackoff: cfg.Database.ConnectBackoff,
		BatchSize:      cfg.Persistence.BatchSize,
	})

	return &Infrastructure{
		Config:      cfg,
		DB:          db,
		Pools:       pools,
		Persistence: pc,
	}, nil
}

// InitRiver initializes the River client on top of a prepared worker
// registry. River needs PostgreSQL; with the embedded store background jobs
// are disabled and nil is returned.
func (i *Infrastructure) InitRiver(workers *river.Workers, periodic []*river.PeriodicJob) error {
	if i == nil || i.DB == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if i.DB.Pool == nil {
		logger.Warn("background jobs disabled", zap.String("driver", i.Config.Database.Driver))
		return nil
	}
	if err := i.DB.InitRiverClient(workers, periodic, i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	return nil
}

// Close flushes deferred writes and releases infra resources in reverse
// dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Persistence != nil {
		if err := i.Persistence.Close(context.Background()); err != nil {
			logger.Error("close persistence context", zap.Error(err))
		}
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
