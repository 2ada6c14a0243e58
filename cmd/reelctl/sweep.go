package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reelkit.io/reelkit/internal/jobs"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete published videos past retention and banned videos",
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.library(cmd.Context())
			if err != nil {
				return err
			}
			res, err := jobs.NewStatusSweepWorker(lib, ctx.pc).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, map[string]int{"checked": res.Checked, "deleted": res.Deleted})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checked %d videos, deleted %d\n", res.Checked, res.Deleted)
			return nil
		},
	}
}
