package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pkgmirror/pkgmirror/config"
	"github.com/pkgmirror/pkgmirror/datastore/sqlstore"
)

var databaseCmd = &cobra.Command{
	Use:   "database",
	Short: "Manage the metadata database",
}

var databaseInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or upgrade the schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *sqlstore.Store, cfg *config.Config) error {
			if err := s.Init(ctx); err != nil {
				return err
			}
			v, err := s.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
			return nil
		})
	},
}

var databaseUpgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Apply pending schema revisions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *sqlstore.Store, cfg *config.Config) error {
			before, err := s.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			if err := s.Init(ctx); err != nil {
				return err
			}
			after, err := s.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			if before == after {
				fmt.Fprintf(cmd.OutOrStdout(), "schema already at version %d\n", after)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "schema upgraded %d -> %d\n", before, after)
			}
			return nil
		})
	},
}

var databaseCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *sqlstore.Store, cfg *config.Config) error {
			v, err := s.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		})
	},
}

var databaseHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List applied schema revisions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *sqlstore.Store, cfg *config.Config) error {
			applied, err := s.AppliedMigrations(ctx)
			if err != nil {
				return err
			}
			for _, v := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		})
	},
}

var databaseStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the schema is current",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *sqlstore.Store, cfg *config.Config) error {
			current, err := s.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			latest, err := s.Latest()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case current == 0:
				fmt.Fprintln(out, "schema not initialized; run database init")
			case current < latest:
				fmt.Fprintf(out, "schema at version %d, %d revision(s) pending\n", current, latest-current)
			default:
				fmt.Fprintf(out, "schema at version %d, up to date\n", current)
			}
			return nil
		})
	},
}

var databaseStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report row counts and content byte totals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *sqlstore.Store, cfg *config.Config) error {
			st, err := s.Stats(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "repositories:   %d\n", st.Repositories)
			fmt.Fprintf(out, "content items:  %d (%d bytes)\n", st.ContentItems, st.ContentBytes)
			fmt.Fprintf(out, "snapshots:      %d\n", st.Snapshots)
			fmt.Fprintf(out, "view snapshots: %d\n", st.ViewSnapshots)
			fmt.Fprintf(out, "sync runs:      %d\n", st.SyncRuns)
			return nil
		})
	},
}

var databaseVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run referential integrity checks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *sqlstore.Store, cfg *config.Config) error {
			problems, err := s.Verify(ctx)
			if err != nil {
				return err
			}
			for _, p := range problems {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			if n := len(problems); n > 0 {
				return fmt.Errorf("%d integrity problems", n)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "database verified clean")
			return nil
		})
	},
}

func init() {
	databaseCmd.AddCommand(databaseInitCmd, databaseUpgradeCmd, databaseCurrentCmd,
		databaseHistoryCmd, databaseStatusCmd, databaseStatsCmd, databaseVerifyCmd)
}
