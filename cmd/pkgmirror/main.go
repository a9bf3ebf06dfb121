// Command pkgmirror manages offline mirrors of rpm, deb, helm, and apk
// repositories: syncing them into a content-addressed pool, snapshotting
// their metadata state, and publishing browsable trees.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pkgmirror/pkgmirror/config"
	"github.com/pkgmirror/pkgmirror/datastore/sqlstore"
	"github.com/pkgmirror/pkgmirror/libmirror"
)

// version is injected at build time.
var version = "dev"

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "pkgmirror",
	Short:         "Offline mirror engine for rpm, deb, helm, and apk repositories",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		lvl := slog.LevelInfo
		if debug {
			lvl = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "pkgmirror.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(repoCmd, snapshotCmd, viewCmd, publishCmd, poolCmd, databaseCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "pkgmirror:", err)
		os.Exit(1)
	}
}

// withEngine loads the configuration, opens the full engine, and closes
// it after fn returns.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, l *libmirror.Libmirror, cfg *config.Config) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	l, err := libmirror.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(cmd.Context(), l, cfg)
}

// withStore opens just the metadata store, for commands that never touch
// the pool or the network.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, s *sqlstore.Store, cfg *config.Config) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	s, err := sqlstore.Open(cmd.Context(), cfg.Database.URL)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(cmd.Context(), s, cfg)
}

// repoArg resolves a repository ID against the configuration.
func repoArg(cfg *config.Config, id string) (*config.Repository, error) {
	rc := cfg.Repo(id)
	if rc == nil {
		return nil, fmt.Errorf("unknown repository %q", id)
	}
	return rc, nil
}
