package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/dropguard/pkg/dropguard/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage dropguard configuration settings.

Configuration is loaded from:
  1. --config, if given
  2. $XDG_CONFIG_HOME/dropguard/config.yaml (if set)
  3. ~/.config/dropguard/config.yaml

Environment variables can override config file settings using the DROPGUARD_ prefix:
  DROPGUARD_POLICY_MODE=warn
  DROPGUARD_ROOTS=~/Downloads,~/Desktop
  DROPGUARD_STABILITY_TIMEOUT=30s`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after defaults, file and environment are merged.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a commented default configuration file if one doesn't exist.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	showConfig(cmd.OutOrStdout(), cfg)

	if err := cfg.Validate(); err != nil {
		printWarning("%v", err)
	}
	return nil
}

// showConfig prints the settings the daemon acts on, then any DROPGUARD_
// environment overrides.
func showConfig(w io.Writer, cfg *config.Config) {
	if cfg.File != "" {
		fmt.Fprintf(w, "Config file: %s\n\n", cfg.File)
	} else {
		fmt.Fprintf(w, "Config file: (using defaults, no file found)\n\n")
	}

	rules := "(built-in)"
	if cfg.RulesFile != "" {
		rules = cfg.RulesFile
	} else if len(cfg.Rules) > 0 {
		labels := make([]string, len(cfg.Rules))
		for i, r := range cfg.Rules {
			labels[i] = r.Label
		}
		rules = strings.Join(labels, ", ")
	}

	fmt.Fprintln(w, "Current Configuration:")
	fmt.Fprintln(w, "----------------------")
	fmt.Fprintf(w, "roots:                %s\n", strings.Join(cfg.Roots, ", "))
	fmt.Fprintf(w, "quarantine_dir:       %s\n", cfg.QuarantineDir)
	fmt.Fprintf(w, "policy_mode:          %s\n", cfg.PolicyMode)
	fmt.Fprintf(w, "ignore:               %v\n", cfg.Ignore)
	fmt.Fprintf(w, "rules:                %s\n", rules)
	fmt.Fprintf(w, "classify.max_bytes:   %s\n", cfg.Classify.MaxBytes)
	fmt.Fprintf(w, "stability:            every %s, %d matching reads, timeout %s\n",
		cfg.Stability.Interval, cfg.Stability.Required, cfg.Stability.Timeout)
	fmt.Fprintf(w, "dedup.ttl:            %s\n", cfg.Dedup.TTL)
	fmt.Fprintf(w, "pipeline.workers:     %d\n", cfg.Pipeline.Workers)
	fmt.Fprintf(w, "pipeline.settled_age: %s\n", cfg.Pipeline.SettledAge)
	fmt.Fprintf(w, "state.db_path:        %s\n", cfg.State.DBPath)
	fmt.Fprintf(w, "metrics.listen:       %s\n", orNone(cfg.Metrics.Listen))
	fmt.Fprintf(w, "logging.level:        %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "daemon.socket_path:   %s\n", cfg.SocketPath())
	fmt.Fprintf(w, "daemon.pid_path:      %s\n", cfg.PIDPath())
	fmt.Fprintf(w, "daemon.auto_start:    %t\n", cfg.Daemon.AutoStart)

	fmt.Fprintln(w, "\nEnvironment Overrides:")
	fmt.Fprintln(w, "----------------------")
	anyOverrides := false
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "DROPGUARD_") {
			fmt.Fprintln(w, kv)
			anyOverrides = true
		}
	}
	if !anyOverrides {
		fmt.Fprintln(w, "(none)")
	}
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	dir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}
	existed := false
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err == nil {
		existed = true
	}

	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if existed {
		printInfo("Config file already exists: %s", path)
		return nil
	}
	printSuccess("Created default config file: %s", path)
	return nil
}
