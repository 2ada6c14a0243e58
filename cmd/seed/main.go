// Package main seeds publishing accounts from a YAML file.
//
// Usage: seed [accounts.yaml]
//
// Seeding is idempotent: existing accounts are left untouched.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"reelkit.io/reelkit/internal/config"
	"reelkit.io/reelkit/internal/infrastructure"
	"reelkit.io/reelkit/internal/media"
	"reelkit.io/reelkit/internal/persistence"
	"reelkit.io/reelkit/internal/pkg/logger"
)

const defaultSeedFile = "accounts.yaml"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	path := defaultSeedFile
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	specs, err := parseSeedFile(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	ctx := context.Background()
	pc := persistence.NewContext(infrastructure.NewConnector(cfg.Database), persistence.Options{
		ConnectRetries: cfg.Database.ConnectRetries,
		ConnectBackoff: cfg.Database.ConnectBackoff,
		BatchSize:      cfg.Persistence.BatchSize,
	})
	defer func() {
		if err := pc.Close(ctx); err != nil {
			logger.Error("close persistence context", zap.Error(err))
		}
	}()

	lib, err := media.NewLibrary(pc, media.OptionsFromConfig(cfg.Media))
	if err != nil {
		return err
	}

	logger.Info("Starting account seeding...", zap.String("file", path), zap.Int("accounts", len(specs)))
	created, err := seedAccounts(ctx, lib, specs)
	if err != nil {
		return fmt.Errorf("seed accounts: %w", err)
	}
	logger.Info("Account seeding completed", zap.Int("created", created))
	return nil
}

// seedFile is the YAML layout of a seed file.
type seedFile struct {
	Accounts []media.AccountSpec `yaml:"accounts"`
}

func parseSeedFile(r io.Reader) ([]media.AccountSpec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var sf seedFile
	if err := dec.Decode(&sf); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	seen := make(map[string]struct{}, len(sf.Accounts))
	for i, a := range sf.Accounts {
		if a.Uniquename == "" {
			return nil, fmt.Errorf("account #%d: uniquename is required", i+1)
		}
		if _, dup := seen[a.Uniquename]; dup {
			return nil, fmt.Errorf("account %q is listed twice", a.Uniquename)
		}
		seen[a.Uniquename] = struct{}{}
	}
	return sf.Accounts, nil
}

// seedAccounts creates the missing accounts and returns how many were new.
func seedAccounts(ctx context.Context, lib *media.Library, specs []media.AccountSpec) (int, error) {
	if err := lib.ReloadAccounts(ctx); err != nil {
		return 0, err
	}
	known := make(map[string]struct{})
	for _, name := range lib.Directory().Accounts() {
		known[name] = struct{}{}
	}
	created := 0
	for _, spec := range specs {
		a, err := lib.AddAccount(ctx, spec, true)
		if err != nil {
			return created, fmt.Errorf("account %s: %w", spec.Uniquename, err)
		}
		if _, ok := known[a.Uniquename()]; ok {
			logger.Info("Account already exists, skipped", zap.String("account", a.Uniquename()))
			continue
		}
		created++
	}
	return created, nil
}
