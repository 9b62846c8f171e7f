// Command dropguardd watches the configured directories, classifies new
// files and quarantines the ones that match, serving the admin API on a
// unix socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/dropguard/pkg/daemon"
	"github.com/jamesainslie/dropguard/pkg/dropguard/config"
	"github.com/jamesainslie/dropguard/pkg/dropguard/logging"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "dropguardd",
		Short:         "Data loss prevention daemon for download directories",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/dropguard/config.yaml)")
	return cmd
}

func run(parent context.Context, configPath string) (err error) {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dropguardd: %v\n", err)
		return err
	}
	statusPath := daemon.StatusPath(filepath.Dir(cfg.PIDPath()))

	// Startup failures are reported through the status file so that
	// `dropguard daemon start` can show them.
	defer func() {
		if err != nil && !errors.Is(err, daemon.ErrDaemonAlreadyRunning) {
			_ = daemon.WriteStatusError(statusPath, err)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "dropguardd: %v\n", err)
		}
	}()

	if err := config.EnsureDataDir(); err != nil {
		return err
	}
	if err := logging.Init(cfg.LoggingConfig()); err != nil {
		return fmt.Errorf("initialising logging: %w", err)
	}
	defer func() { _ = logging.Close() }()

	log := logging.Get("daemon")
	if cfg.File != "" {
		log.Info("loaded config", "path", cfg.File)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := d.Close(); cerr != nil {
			log.Error("closing daemon", "error", cerr)
		}
	}()

	return d.Run(ctx)
}
