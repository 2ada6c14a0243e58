package main

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"reelkit.io/reelkit/internal/media"
)

type postStep func(ctx context.Context, v *media.Video, platform string) (media.PostOutcome, error)

type postResult struct {
	ID           string             `json:"id"`
	Platform     string             `json:"platform"`
	Outcome      string             `json:"outcome"`
	Status       string             `json:"status,omitempty"`
	UploadStatus media.UploadStatus `json:"upload_status,omitempty"`
	Deleted      bool               `json:"deleted,omitempty"`
}

func newPostsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "Drive video publication",
	}
	cmd.AddCommand(newPostsPendingCommand(ctx))
	cmd.AddCommand(newPostsInfoCommand(ctx))
	cmd.AddCommand(newPostsStatusCommand(ctx))
	cmd.AddCommand(newPostsStatsCommand(ctx))

	cmd.AddCommand(newPostStepCommand(ctx, "initiate", "Mark a post as started", func(lib *media.Library) postStep {
		return lib.InitiatePost
	}))
	cmd.AddCommand(newPostsRegisterCommand(ctx))
	cmd.AddCommand(newPostStepCommand(ctx, "skip", "Mark a platform as not to be posted", func(lib *media.Library) postStep {
		return lib.SkipPost
	}))
	cmd.AddCommand(newPostStepCommand(ctx, "cancel", "Undo a post step", func(lib *media.Library) postStep {
		return lib.CancelPost
	}))
	return cmd
}

func newPostsPendingCommand(ctx *commandContext) *cobra.Command {
	var platform, account string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List videos ready to post on a platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.library(cmd.Context())
			if err != nil {
				return err
			}
			videos, err := lib.PendingPosts(cmd.Context(), platform, account)
			if err != nil {
				return err
			}
			infos := make([]media.PostInfo, 0, len(videos))
			for _, v := range videos {
				info, err := lib.PostInfo(v, platform)
				if err != nil {
					return err
				}
				infos = append(infos, info)
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, infos)
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending posts")
				return nil
			}
			rows := make([][]string, 0, len(infos))
			for _, info := range infos {
				rows = append(rows, []string{info.ID, info.Account, info.Caption})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Account", "Caption"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "", "Target platform")
	cmd.Flags().StringVar(&account, "account", "", "Restrict to one account")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func newPostsInfoCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "info <video-id> <platform>",
		Short: "Show what is needed to publish a video",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.library(cmd.Context())
			if err != nil {
				return err
			}
			v, err := lib.Videos.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			info, err := lib.PostInfo(v, args[1])
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, info)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:       %s\n", info.ID)
			fmt.Fprintf(out, "platform: %s\n", info.Platform)
			fmt.Fprintf(out, "account:  %s\n", info.Account)
			fmt.Fprintf(out, "caption:  %s\n", info.Caption)
			return nil
		},
	}
}

func newPostsStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <video-id> <platform>",
		Short: "Show the upload status of a video on a platform",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.library(cmd.Context())
			if err != nil {
				return err
			}
			v, err := lib.Videos.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			st, err := lib.UploadStatus(v, args[1])
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, postResult{ID: v.ID(), Platform: args[1], Status: v.Status().String(), UploadStatus: st})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", v.ID(), v.Status(), st)
			return nil
		},
	}
}

func newPostsStatsCommand(ctx *commandContext) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count upload statuses per platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.library(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := lib.PostStats(cmd.Context(), account)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, stats)
			}
			platforms := make([]string, 0, len(stats))
			for p := range stats {
				platforms = append(platforms, p)
			}
			slices.Sort(platforms)
			statuses := []media.UploadStatus{
				media.UploadUnprocessed, media.UploadReady, media.UploadInitiated,
				media.UploadSkipped, media.UploadUploaded,
			}
			headers := []string{"Platform"}
			aligns := []columnAlignment{alignLeft}
			for _, st := range statuses {
				headers = append(headers, string(st))
				aligns = append(aligns, alignRight)
			}
			rows := make([][]string, 0, len(platforms))
			for _, p := range platforms {
				row := []string{p}
				for _, st := range statuses {
					row = append(row, strconv.Itoa(stats[p][st]))
				}
				rows = append(rows, row)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Restrict to one account")
	return cmd
}

func newPostStepCommand(ctx *commandContext, name, short string, step func(*media.Library) postStep) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <video-id> <platform>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.library(cmd.Context())
			if err != nil {
				return err
			}
			return runPostStep(cmd, ctx, lib, args[0], args[1], step(lib))
		},
	}
}

func newPostsRegisterCommand(ctx *commandContext) *cobra.Command {
	var date, url string
	cmd := &cobra.Command{
		Use:   "register <video-id> <platform>",
		Short: "Record a completed post",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.library(cmd.Context())
			if err != nil {
				return err
			}
			return runPostStep(cmd, ctx, lib, args[0], args[1],
				func(c context.Context, v *media.Video, platform string) (media.PostOutcome, error) {
					outcome, err := lib.RegisterPost(c, v, platform, date)
					if err == nil && outcome == media.PostApplied && url != "" {
						v.AddURL(url, true)
					}
					return outcome, err
				})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Publication date as a creation token (default now)")
	cmd.Flags().StringVar(&url, "url", "", "Public URL of the post")
	return cmd
}

// runPostStep applies step to the video and saves it when it changed. A
// video deleted by its status handler is reported instead of saved.
func runPostStep(cmd *cobra.Command, ctx *commandContext, lib *media.Library, id, platform string, step postStep) error {
	c := cmd.Context()
	v, err := lib.Videos.Get(c, id)
	if err != nil {
		return err
	}
	outcome, err := step(c, v, platform)
	if err != nil {
		return err
	}
	res := postResult{ID: id, Platform: platform, Outcome: outcome.String()}
	if !lib.Videos.Cached(v) {
		res.Deleted = true
	} else {
		if outcome == media.PostApplied {
			if err := lib.Videos.Save(c, v); err != nil {
				return err
			}
		}
		res.Status = v.Status().String()
		if res.UploadStatus, err = lib.UploadStatus(v, platform); err != nil {
			return err
		}
	}

	if ctx.jsonOutput {
		return writeJSON(cmd, res)
	}
	if res.Deleted {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (video deleted)\n", id, res.Outcome)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, %s %s\n", id, res.Outcome, res.Status, res.UploadStatus)
	return nil
}
