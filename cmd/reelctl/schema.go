package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"reelkit.io/reelkit/internal/media"
	"reelkit.io/reelkit/internal/persistence"
	apperrors "reelkit.io/reelkit/internal/pkg/errors"
)

// table is the type-independent part of a repository used by schema
// maintenance.
type table interface {
	Name() string
	RefreshSchema(ctx context.Context, mode persistence.RefreshMode) error
	PurgeArchived(ctx context.Context, ids ...string) (int64, error)
}

func libraryTables(lib *media.Library) []table {
	return []table{lib.Videos, lib.VideoData, lib.ScenePacks, lib.Accounts}
}

func findTable(lib *media.Library, name string) (table, error) {
	var names []string
	for _, t := range libraryTables(lib) {
		if strings.EqualFold(t.Name(), name) {
			return t, nil
		}
		names = append(names, t.Name())
	}
	slices.Sort(names)
	return nil, apperrors.BadRequest(apperrors.CodeInvalidRequest,
		fmt.Sprintf("unknown entity type %q (known: %s)", name, strings.Join(names, ", ")))
}

func newSchemaCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Maintain entity tables",
	}
	cmd.AddCommand(newSchemaRefreshCommand(ctx))
	cmd.AddCommand(newSchemaPurgeCommand(ctx))
	return cmd
}

func newSchemaRefreshCommand(ctx *commandContext) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "refresh <type>",
		Short: "Rebuild a table after its entity fields changed",
		Long: "Rebuild a table after its entity fields changed.\n\n" +
			"keep-old keeps the previous table as a backup; drop-old removes it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := persistence.ParseRefreshMode(mode)
			if err != nil {
				return err
			}
			lib, err := ctx.library(cmd.Context())
			if err != nil {
				return err
			}
			t, err := findTable(lib, args[0])
			if err != nil {
				return err
			}
			if err := t.RefreshSchema(cmd.Context(), m); err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, map[string]string{"type": t.Name(), "mode": m.String()})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %s (%s)\n", t.Name(), m)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "keep-old", "keep-old or drop-old")
	return cmd
}

func newSchemaPurgeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-archived <type> [id...]",
		Short: "Remove archived rows, all of them when no id is given",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.library(cmd.Context())
			if err != nil {
				return err
			}
			t, err := findTable(lib, args[0])
			if err != nil {
				return err
			}
			n, err := t.PurgeArchived(cmd.Context(), args[1:]...)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, map[string]any{"type": t.Name(), "purged": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d archived %s rows\n", n, t.Name())
			return nil
		},
	}
}
