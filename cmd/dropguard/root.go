package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/dropguard/pkg/client"
	"github.com/jamesainslie/dropguard/pkg/dropguard/config"
)

var (
	cfgFile     string
	outputFlag  string
	verbose     bool
	quiet       bool
	noAutoStart bool

	rootCmd = &cobra.Command{
		Use:   "dropguard",
		Short: "Keep sensitive files out of your download directories",
		Long: `dropguard talks to the dropguardd daemon, which watches your download
directories, classifies new files and quarantines the ones that match a rule.

Examples:
  dropguard alerts                 # List alerts
  dropguard alerts restore 3f2a9c1e
  dropguard alerts export -o csv > alerts.csv
  dropguard policy toggle          # Switch between block and warn
  dropguard scan ~/Downloads       # Check files that were already there
  dropguard watch                  # Follow alerts as they happen`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/dropguard/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "", "output format (pretty, plain, csv, tsv, json, jsonl, yaml, markdown, paths)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-autostart", false, "do not start the daemon if it is not running")
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError("%v", err)
	}
	return err
}

// loadConfig reads the config named by --config, or the default search path.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	printVerbose("config file: %s", orNone(cfg.File))
	return cfg, nil
}

// connect returns a client for the configured daemon, starting the daemon
// first when daemon.auto_start allows it.
func connect(ctx context.Context) (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	paths := client.PathsFromConfig(cfg)

	if !client.IsDaemonRunning(paths.PID) {
		if noAutoStart || !cfg.Daemon.AutoStart {
			return nil, fmt.Errorf("%w (start with: dropguard daemon start)", client.ErrNotRunning)
		}
		printVerbose("daemon not running, starting %s", orNone(paths.Binary))
		if err := client.StartDaemon(paths); err != nil {
			return nil, err
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	c, err := client.ConnectWithContext(connectCtx, paths.Socket)
	if err != nil {
		return nil, err
	}
	printVerbose("connected to %s", paths.Socket)
	return c, nil
}

// withClient connects, runs fn and closes the connection.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func isTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stderr, color.New(color.FgHiBlack).Sprint("[DEBUG] ")+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// printSuccess prints a green confirmation unless quiet.
func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Println(color.New(color.FgGreen).Sprintf(format, args...))
	}
}

// printWarning prints a yellow notice to stderr.
func printWarning(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, color.New(color.FgYellow).Sprintf("Warning: "+format, args...))
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprint("Error: ")+fmt.Sprintf(format, args...))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// forEachRef runs fn for every ref, reporting each failure and continuing.
// It returns an error if any ref failed.
func forEachRef(refs []string, fn func(ref string) error) error {
	var failed int
	for _, ref := range refs {
		if err := fn(ref); err != nil {
			printError("%v", err)
			failed++
		}
	}
	if failed > 0 {
		return errors.New(plural(failed, "operation") + " failed")
	}
	return nil
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
