package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pkgmirror/pkgmirror/config"
	"github.com/pkgmirror/pkgmirror/datastore/sqlstore"
	"github.com/pkgmirror/pkgmirror/libmirror"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage repository snapshots",
}

var snapshotDescription string

var snapshotCreateCmd = &cobra.Command{
	Use:   "create REPO NAME",
	Short: "Freeze a repository's current content set",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, l *libmirror.Libmirror, cfg *config.Config) error {
			snap, err := l.CreateSnapshot(ctx, args[0], args[1], snapshotDescription)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s/%s: %d packages, %d bytes\n",
				args[0], snap.Name, snap.PackageCount, snap.TotalSize)
			return nil
		})
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list REPO",
	Short: "List a repository's snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *sqlstore.Store, cfg *config.Config) error {
			snaps, err := s.ListSnapshots(ctx, args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCREATED\tPACKAGES\tBYTES")
			for i := range snaps {
				sn := &snaps[i]
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n",
					sn.Name, sn.CreatedAt.Format("2006-01-02 15:04:05"), sn.PackageCount, sn.TotalSize)
			}
			return w.Flush()
		})
	},
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show REPO NAME",
	Short: "Show one snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *sqlstore.Store, cfg *config.Config) error {
			sn, err := s.GetSnapshot(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:        %s\n", sn.Name)
			if sn.Description != "" {
				fmt.Fprintf(out, "Description: %s\n", sn.Description)
			}
			fmt.Fprintf(out, "Created:     %s\n", sn.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Packages:    %d\n", sn.PackageCount)
			fmt.Fprintf(out, "Bytes:       %d\n", sn.TotalSize)
			return nil
		})
	},
}

var snapshotContentCmd = &cobra.Command{
	Use:   "content REPO NAME",
	Short: "List the items frozen in a snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *sqlstore.Store, cfg *config.Config) error {
			sn, err := s.GetSnapshot(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			items, err := s.SnapshotContent(ctx, sn.ID)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tARCH\tBYTES")
			for i := range items {
				fmt.Fprintln(w, itemLine(&items[i]))
			}
			return w.Flush()
		})
	},
}

var snapshotDiffCmd = &cobra.Command{
	Use:   "diff REPO A B",
	Short: "Compare two snapshots of one repository",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, l *libmirror.Libmirror, cfg *config.Config) error {
			diff, err := l.DiffSnapshots(ctx, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i := range diff.Added {
				it := &diff.Added[i]
				fmt.Fprintf(out, "+ %s %s %s\n", it.Name, it.Version, it.Arch)
			}
			for i := range diff.Removed {
				it := &diff.Removed[i]
				fmt.Fprintf(out, "- %s %s %s\n", it.Name, it.Version, it.Arch)
			}
			for i := range diff.Updated {
				ch := &diff.Updated[i]
				fmt.Fprintf(out, "~ %s %s -> %s %s\n", ch.Name, ch.From, ch.To, ch.Arch)
			}
			fmt.Fprintf(out, "%d added, %d removed, %d updated\n",
				len(diff.Added), len(diff.Removed), len(diff.Updated))
			return nil
		})
	},
}

var snapshotCopyCmd = &cobra.Command{
	Use:   "copy REPO SRC DST",
	Short: "Create a snapshot aliasing another's content set",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, l *libmirror.Libmirror, cfg *config.Config) error {
			snap, err := l.CopySnapshot(ctx, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s/%s: %d packages\n", args[0], snap.Name, snap.PackageCount)
			return nil
		})
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete REPO NAME",
	Short: "Delete a snapshot record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, l *libmirror.Libmirror, cfg *config.Config) error {
			return l.DeleteSnapshot(ctx, args[0], args[1])
		})
	},
}

func init() {
	snapshotCreateCmd.Flags().StringVarP(&snapshotDescription, "description", "d", "", "snapshot description")
	snapshotCmd.AddCommand(snapshotCreateCmd, snapshotListCmd, snapshotShowCmd,
		snapshotContentCmd, snapshotDiffCmd, snapshotCopyCmd, snapshotDeleteCmd)
}
