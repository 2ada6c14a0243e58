// Package app is the composition root: it builds the infrastructure, the
// modules and the HTTP router from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"reelkit.io/reelkit/internal/api/handlers"
	"reelkit.io/reelkit/internal/app/modules"
	"reelkit.io/reelkit/internal/config"
	"reelkit.io/reelkit/internal/infrastructure"
	"reelkit.io/reelkit/internal/persistence"
	"reelkit.io/reelkit/internal/pkg/worker"
)

// Application holds composed application dependencies.
type Application struct {
	Config      *config.Config
	Router      *gin.Engine
	DB          *infrastructure.DatabaseClients
	Pools       *worker.Pools
	Persistence *persistence.Context
	Modules     []modules.Module

	infra *modules.Infrastructure
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	mediaModule, err := modules.NewMediaModule(ctx, infra)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init media module: %w", err)
	}
	allModules := []modules.Module{mediaModule}

	workers := river.NewWorkers()
	var periodic []*river.PeriodicJob
	for _, mod := range allModules {
		mod.RegisterWorkers(workers)
		if p, ok := mod.(modules.PeriodicJobsProvider); ok {
			periodic = append(periodic, p.PeriodicJobs()...)
		}
	}
	if err := infra.InitRiver(workers, periodic); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}

	serverDeps := modules.NewServerDeps(cfg, infra, allModules)
	server := handlers.NewServer(serverDeps)

	return &Application{
		Config:      cfg,
		Router:      newRouter(cfg, server),
		DB:          infra.DB,
		Pools:       infra.Pools,
		Persistence: infra.Persistence,
		Modules:     allModules,
		infra:       infra,
	}, nil
}
