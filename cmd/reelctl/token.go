package main

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"reelkit.io/reelkit/internal/api/middleware"
	"reelkit.io/reelkit/internal/app/modules"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}
	cmd.AddCommand(newTokenIssueCommand(ctx))
	return cmd
}

func newTokenIssueCommand(ctx *commandContext) *cobra.Command {
	var scopes []string
	cmd := &cobra.Command{
		Use:   "issue <subject>",
		Short: "Issue a signed API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range scopes {
				if !slices.Contains(middleware.AllScopes, s) {
					return fmt.Errorf("unknown scope %q (known: %v)", s, middleware.AllScopes)
				}
			}
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			token, expiresAt, err := middleware.GenerateToken(modules.JWTConfig(cfg), args[0], scopes)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, map[string]any{
					"token":      token,
					"subject":    args[0],
					"scopes":     scopes,
					"expires_at": expiresAt.Format(time.RFC3339),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{middleware.ScopePostsRead}, "Scope to grant (repeatable)")
	return cmd
}
