package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/config"
	"github.com/pkgmirror/pkgmirror/datastore/sqlstore"
	"github.com/pkgmirror/pkgmirror/libmirror"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage mirrored repositories",
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured repositories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *sqlstore.Store, cfg *config.Config) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tMODE\tENABLED\tLAST SYNC")
			for i := range cfg.Repositories {
				rc := &cfg.Repositories[i]
				last := "never"
				if r, err := s.GetRepository(ctx, rc.ID); err == nil && !r.LastSync.IsZero() {
					last = r.LastSync.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", rc.ID, rc.Type, rc.Core().Mode, rc.IsEnabled(), last)
			}
			return w.Flush()
		})
	},
}

var repoShowCmd = &cobra.Command{
	Use:   "show REPO",
	Short: "Show one repository's configuration and state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *sqlstore.Store, cfg *config.Config) error {
			rc, err := repoArg(cfg, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			core := rc.Core()
			fmt.Fprintf(out, "ID:        %s\n", core.ID)
			fmt.Fprintf(out, "Name:      %s\n", core.Name)
			fmt.Fprintf(out, "Type:      %s\n", core.Type)
			fmt.Fprintf(out, "Mode:      %s\n", core.Mode)
			fmt.Fprintf(out, "Feed:      %s\n", core.Feed)
			fmt.Fprintf(out, "Enabled:   %t\n", core.Enabled)
			if p := rc.Retention.Policy; p != "" {
				fmt.Fprintf(out, "Retention: %s\n", p)
			}
			if r, err := s.GetRepository(ctx, rc.ID); err == nil && !r.LastSync.IsZero() {
				fmt.Fprintf(out, "Last sync: %s\n", r.LastSync.Format("2006-01-02 15:04:05"))
			}
			items, err := s.ListRepositoryContent(ctx, rc.ID)
			if err == nil {
				var bytes int64
				for i := range items {
					bytes += items[i].Size
				}
				fmt.Fprintf(out, "Packages:  %d (%d bytes)\n", len(items), bytes)
			}
			return nil
		})
	},
}

var repoSyncAll bool
var repoSyncMetricsAddr string

var repoSyncCmd = &cobra.Command{
	Use:   "sync [REPO...]",
	Short: "Sync repositories against their upstreams",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !repoSyncAll && len(args) == 0 {
			return errors.New("name repositories to sync, or pass --all")
		}
		return withEngine(cmd, func(ctx context.Context, l *libmirror.Libmirror, cfg *config.Config) error {
			if repoSyncMetricsAddr != "" {
				srv := &http.Server{Addr: repoSyncMetricsAddr, Handler: promhttp.Handler()}
				go srv.ListenAndServe()
				defer srv.Close()
			}
			var targets []*config.Repository
			if repoSyncAll {
				for i := range cfg.Repositories {
					if rc := &cfg.Repositories[i]; rc.IsEnabled() {
						targets = append(targets, rc)
					}
				}
			} else {
				for _, id := range args {
					rc, err := repoArg(cfg, id)
					if err != nil {
						return err
					}
					targets = append(targets, rc)
				}
			}
			var failed bool
			for _, rc := range targets {
				run, err := l.SyncRepository(ctx, rc)
				if err != nil {
					failed = true
					fmt.Fprintln(os.Stderr, err)
				}
				if run != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s downloaded=%d skipped=%d failed=%d unlinked=%d bytes=%d\n",
						rc.ID, run.Status, run.Downloaded, run.Skipped, run.Failed, run.Unlinked, run.Bytes)
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			if failed {
				return errors.New("sync finished with failures")
			}
			return nil
		})
	},
}

var repoCheckUpdatesCmd = &cobra.Command{
	Use:   "check-updates REPO",
	Short: "Report what a sync would download, without changing anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, l *libmirror.Libmirror, cfg *config.Config) error {
			rc, err := repoArg(cfg, args[0])
			if err != nil {
				return err
			}
			plan, err := l.CheckUpdates(ctx, rc)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if plan.Unchanged {
				fmt.Fprintln(out, "upstream unchanged")
				return nil
			}
			for i := range plan.Need {
				it := &plan.Need[i]
				fmt.Fprintf(out, "need %s %s %s\n", it.Name, it.Version, it.Arch)
			}
			fmt.Fprintf(out, "%d to download, %d present, %d pooled\n",
				len(plan.Need), plan.Present, plan.PoolHits)
			return nil
		})
	},
}

var repoHistoryLimit int

var repoHistoryCmd = &cobra.Command{
	Use:   "history REPO",
	Short: "Show the repository's sync audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *sqlstore.Store, cfg *config.Config) error {
			runs, err := s.ListSyncRuns(ctx, args[0], repoHistoryLimit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tSTATUS\tDOWNLOADED\tSKIPPED\tFAILED\tUNLINKED\tBYTES")
			for i := range runs {
				r := &runs[i]
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
					r.Started.Format("2006-01-02 15:04:05"), r.Status,
					r.Downloaded, r.Skipped, r.Failed, r.Unlinked, r.Bytes)
			}
			return w.Flush()
		})
	},
}

func init() {
	repoSyncCmd.Flags().BoolVar(&repoSyncAll, "all", false, "sync every enabled repository")
	repoSyncCmd.Flags().StringVar(&repoSyncMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address for the duration of the sync")
	repoHistoryCmd.Flags().IntVar(&repoHistoryLimit, "limit", 20, "show at most this many runs, 0 for all")
	repoCmd.AddCommand(repoListCmd, repoShowCmd, repoSyncCmd, repoCheckUpdatesCmd, repoHistoryCmd)
}

// itemLine formats a content item for listing output.
func itemLine(it *pkgmirror.ContentItem) string {
	arch := it.Arch
	if arch == "" {
		arch = "-"
	}
	return fmt.Sprintf("%s\t%s\t%s\t%d", it.Name, it.Version, arch, it.Size)
}
