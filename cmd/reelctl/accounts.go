package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reelkit.io/reelkit/internal/media"
	"reelkit.io/reelkit/internal/persistence"
)

type accountView struct {
	Uniquename string   `json:"uniquename"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Status     string   `json:"status"`
	Platforms  []string `json:"platforms"`
}

func toAccountView(a *media.Account) accountView {
	return accountView{
		Uniquename: a.ID(),
		Name:       a.Name,
		Email:      a.Email,
		Status:     a.Status().String(),
		Platforms:  a.Platforms,
	}
}

func newAccountsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage publishing accounts",
	}
	cmd.AddCommand(newAccountsListCommand(ctx))
	cmd.AddCommand(newAccountsAddCommand(ctx))
	return cmd
}

func newAccountsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.library(cmd.Context())
			if err != nil {
				return err
			}
			accounts, err := lib.Accounts.LoadMany(cmd.Context(), persistence.Q())
			if err != nil {
				return err
			}
			views := make([]accountView, 0, accounts.Len())
			for _, a := range accounts.Items() {
				views = append(views, toAccountView(a))
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, views)
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				rows = append(rows, []string{v.Uniquename, v.Status, strings.Join(v.Platforms, ",")})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Account", "Status", "Platforms"}, rows, nil))
			return nil
		},
	}
}

func newAccountsAddCommand(ctx *commandContext) *cobra.Command {
	var (
		spec         media.AccountSpec
		skipOnExists bool
	)
	cmd := &cobra.Command{
		Use:   "add <uniquename>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.library(cmd.Context())
			if err != nil {
				return err
			}
			spec.Uniquename = args[0]
			a, err := lib.AddAccount(cmd.Context(), spec, skipOnExists)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, toAccountView(a))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %s: %s\n", a.ID(), strings.Join(a.Platforms, ","))
			return nil
		},
	}
	cmd.Flags().StringVar(&spec.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&spec.Email, "email", "", "Contact email")
	cmd.Flags().StringSliceVar(&spec.Platforms, "platform", nil, "Platform to publish to (repeatable)")
	cmd.Flags().BoolVar(&skipOnExists, "skip-existing", false, "Succeed when the account already exists")
	return cmd
}
