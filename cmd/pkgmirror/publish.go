package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/pkgmirror/pkgmirror/config"
	"github.com/pkgmirror/pkgmirror/libmirror"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish browsable repository trees",
}

var publishRepoCmd = &cobra.Command{
	Use:   "repo REPO",
	Short: "Publish a repository's current content under latest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, l *libmirror.Libmirror, cfg *config.Config) error {
			rc, err := repoArg(cfg, args[0])
			if err != nil {
				return err
			}
			return l.PublishRepository(ctx, rc)
		})
	},
}

var publishSnapshotCmd = &cobra.Command{
	Use:   "snapshot REPO NAME",
	Short: "Publish a snapshot's frozen content",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, l *libmirror.Libmirror, cfg *config.Config) error {
			rc, err := repoArg(cfg, args[0])
			if err != nil {
				return err
			}
			return l.PublishSnapshot(ctx, rc, args[1])
		})
	},
}

var publishViewCmd = &cobra.Command{
	Use:   "view VIEW",
	Short: "Publish the merged current content of a view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, l *libmirror.Libmirror, cfg *config.Config) error {
			return l.PublishView(ctx, args[0])
		})
	},
}

var publishViewSnapshotCmd = &cobra.Command{
	Use:   "view-snapshot VIEW NAME",
	Short: "Publish a view snapshot's frozen content",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, l *libmirror.Libmirror, cfg *config.Config) error {
			return l.PublishViewSnapshot(ctx, args[0], args[1])
		})
	},
}

func init() {
	publishCmd.AddCommand(publishRepoCmd, publishSnapshotCmd, publishViewCmd, publishViewSnapshotCmd)
}
