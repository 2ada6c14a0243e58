package main

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reelkit.io/reelkit/internal/config"
	"reelkit.io/reelkit/internal/infrastructure"
	"reelkit.io/reelkit/internal/media"
	"reelkit.io/reelkit/internal/persistence"
	"reelkit.io/reelkit/internal/pkg/logger"
)

// opener builds the library a command runs against.
type opener func(ctx context.Context, cfg *config.Config) (*media.Library, *persistence.Context, error)

type commandContext struct {
	jsonOutput bool

	loadConfig func() (*config.Config, error)
	open       opener

	once   sync.Once
	cfg    *config.Config
	lib    *media.Library
	pc     *persistence.Context
	libErr error
}

func newCommandContext() *commandContext {
	return &commandContext{
		loadConfig: config.Load,
		open:       openLibrary,
	}
}

func openLibrary(ctx context.Context, cfg *config.Config) (*media.Library, *persistence.Context, error) {
	pc := persistence.NewContext(infrastructure.NewConnector(cfg.Database), persistence.Options{
		ConnectRetries: cfg.Database.ConnectRetries,
		ConnectBackoff: cfg.Database.ConnectBackoff,
		BatchSize:      cfg.Persistence.BatchSize,
	})
	lib, err := media.NewLibrary(pc, media.OptionsFromConfig(cfg.Media))
	if err != nil {
		return nil, nil, err
	}
	if err := lib.ReloadAccounts(ctx); err != nil {
		_ = pc.Close(ctx)
		return nil, nil, err
	}
	return lib, pc, nil
}

func (c *commandContext) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

// library opens the library once per process.
func (c *commandContext) library(ctx context.Context) (*media.Library, error) {
	c.once.Do(func() {
		cfg, err := c.config()
		if err != nil {
			c.libErr = err
			return
		}
		c.lib, c.pc, c.libErr = c.open(ctx, cfg)
	})
	return c.lib, c.libErr
}

// close flushes deferred writes. It is a no-op when no library was opened.
func (c *commandContext) close(ctx context.Context) {
	if c.pc == nil {
		return
	}
	if err := c.pc.Close(ctx); err != nil {
		logger.Error("close persistence context", zap.Error(err))
	}
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
