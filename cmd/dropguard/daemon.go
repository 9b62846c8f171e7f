package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/dropguard/pkg/client"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the dropguardd daemon",
	Long: `Manage the dropguardd daemon, which watches the configured roots and owns
all alert, whitelist and policy state.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dropguardd daemon",
	Long:  `Start the dropguardd daemon in the background and wait until it is ready.`,
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the dropguardd daemon",
	Long:  `Stop the dropguardd daemon gracefully. In-flight files finish first.`,
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the dropguardd daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemonRestart,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

func daemonPaths() (client.DaemonPaths, error) {
	cfg, err := loadConfig()
	if err != nil {
		return client.DaemonPaths{}, err
	}
	paths := client.PathsFromConfig(cfg)
	printVerbose("pid file: %s", paths.PID)
	printVerbose("socket: %s", paths.Socket)
	return paths, nil
}

func runDaemonStart(_ *cobra.Command, _ []string) error {
	paths, err := daemonPaths()
	if err != nil {
		return err
	}
	if client.IsDaemonRunning(paths.PID) {
		printInfo("Daemon already running")
		return nil
	}
	if err := client.StartDaemon(paths); err != nil {
		return err
	}
	printSuccess("Daemon started")
	return nil
}

func runDaemonStop(_ *cobra.Command, _ []string) error {
	paths, err := daemonPaths()
	if err != nil {
		return err
	}
	if !client.IsDaemonRunning(paths.PID) {
		printInfo("Daemon is not running")
		return nil
	}
	if err := client.StopDaemon(paths); err != nil {
		return err
	}
	printSuccess("Daemon stopped")
	return nil
}

func runDaemonRestart(_ *cobra.Command, _ []string) error {
	paths, err := daemonPaths()
	if err != nil {
		return err
	}
	if err := client.RestartDaemon(paths); err != nil {
		return err
	}
	printSuccess("Daemon restarted")
	return nil
}

func runDaemonStatus(cmd *cobra.Command, _ []string) error {
	paths, err := daemonPaths()
	if err != nil {
		return err
	}
	if !client.IsDaemonRunning(paths.PID) {
		printInfo("Daemon status: not running")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := client.ConnectWithContext(ctx, paths.Socket)
	if err != nil {
		printInfo("Daemon status: running (but not responding)")
		return nil
	}
	defer c.Close()

	st, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get daemon status: %w", err)
	}

	printInfo("Daemon status: running")
	printInfo("  PID: %d", st.PID)
	printInfo("  Uptime: %s", formatDuration(st.Uptime))
	printInfo("  Policy: %s", modeLabel(st.Mode))
	printInfo("  Socket: %s", paths.Socket)
	if len(st.Roots) > 0 {
		printInfo("  Watched roots:")
		for _, r := range st.Roots {
			printInfo("    - %s", r)
		}
	}
	return nil
}
