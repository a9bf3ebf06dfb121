package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pkgmirror/pkgmirror/config"
	"github.com/pkgmirror/pkgmirror/datastore/sqlstore"
	"github.com/pkgmirror/pkgmirror/libmirror"
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Manage repository views",
}

var viewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured views",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tREPOSITORIES")
		for i := range cfg.Views {
			vw := &cfg.Views[i]
			fmt.Fprintf(w, "%s\t%s\n", vw.Name, strings.Join(vw.Repos, ","))
		}
		return w.Flush()
	},
}

var viewShowCmd = &cobra.Command{
	Use:   "show VIEW",
	Short: "Show a view's members and snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *sqlstore.Store, cfg *config.Config) error {
			view, err := cfg.CoreView(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:         %s\n", view.Name)
			if view.Description != "" {
				fmt.Fprintf(out, "Description:  %s\n", view.Description)
			}
			fmt.Fprintf(out, "Type:         %s\n", view.Type)
			fmt.Fprintf(out, "Repositories: %s\n", strings.Join(view.Repositories, ", "))
			snaps, err := s.ListViewSnapshots(ctx, view.Name)
			if err != nil {
				return err
			}
			for i := range snaps {
				vs := &snaps[i]
				fmt.Fprintf(out, "Snapshot:     %s (%d packages, created %s)\n",
					vs.Name, vs.PackageCount, vs.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		})
	},
}

var viewSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage view snapshots",
}

var viewSnapshotDescription string

var viewSnapshotCreateCmd = &cobra.Command{
	Use:   "create VIEW NAME",
	Short: "Snapshot every member repository of a view atomically",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, l *libmirror.Libmirror, cfg *config.Config) error {
			vs, err := l.CreateViewSnapshot(ctx, args[0], args[1], viewSnapshotDescription)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "view snapshot %s/%s: %d members\n",
				args[0], vs.Name, len(vs.SnapshotIDs))
			return nil
		})
	},
}

var viewSnapshotListCmd = &cobra.Command{
	Use:   "list VIEW",
	Short: "List a view's snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *sqlstore.Store, cfg *config.Config) error {
			snaps, err := s.ListViewSnapshots(ctx, args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCREATED\tMEMBERS\tPACKAGES\tBYTES")
			for i := range snaps {
				vs := &snaps[i]
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
					vs.Name, vs.CreatedAt.Format("2006-01-02 15:04:05"),
					len(vs.SnapshotIDs), vs.PackageCount, vs.TotalSize)
			}
			return w.Flush()
		})
	},
}

var viewSnapshotDeleteCmd = &cobra.Command{
	Use:   "delete VIEW NAME",
	Short: "Delete a view snapshot and its member snapshots",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *sqlstore.Store, cfg *config.Config) error {
			return s.DeleteViewSnapshot(ctx, args[0], args[1])
		})
	},
}

func init() {
	viewSnapshotCreateCmd.Flags().StringVarP(&viewSnapshotDescription, "description", "d", "", "snapshot description")
	viewSnapshotCmd.AddCommand(viewSnapshotCreateCmd, viewSnapshotListCmd, viewSnapshotDeleteCmd)
	viewCmd.AddCommand(viewListCmd, viewShowCmd, viewSnapshotCmd)
}
