package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pkgmirror/pkgmirror/config"
	"github.com/pkgmirror/pkgmirror/libmirror"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect and maintain the content pool",
}

var poolStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report pool file counts and byte totals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, l *libmirror.Libmirror, cfg *config.Config) error {
			st, err := l.Pool().Stats(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "content: %d files, %d bytes\n", st.ContentFiles, st.ContentBytes)
			fmt.Fprintf(out, "files:   %d files, %d bytes\n", st.RepoFiles, st.RepoBytes)
			fmt.Fprintf(out, "total:   %d files, %d bytes\n",
				st.ContentFiles+st.RepoFiles, st.ContentBytes+st.RepoBytes)
			return nil
		})
	},
}

var poolVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-hash every pool file and report corruption",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, l *libmirror.Libmirror, cfg *config.Config) error {
			mismatches, err := l.Pool().Verify(ctx)
			if err != nil {
				return err
			}
			for _, m := range mismatches {
				fmt.Fprintf(cmd.OutOrStdout(), "corrupt: %s (want %s, got %s)\n", m.Path, m.Want, m.Got)
			}
			if n := len(mismatches); n > 0 {
				return fmt.Errorf("%d corrupt pool files", n)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "pool verified clean")
			return nil
		})
	},
}

var poolCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove pool files nothing references",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, l *libmirror.Libmirror, cfg *config.Config) error {
			removed, bytes, err := l.CleanupPool(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d files, %d bytes\n", removed, bytes)
			return nil
		})
	},
}

func init() {
	poolCmd.AddCommand(poolStatsCmd, poolVerifyCmd, poolCleanupCmd)
}
