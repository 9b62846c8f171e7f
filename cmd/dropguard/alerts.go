package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/dropguard/pkg/client"
	"github.com/jamesainslie/dropguard/pkg/dropguard/output"
	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

var (
	templateFlag string
	exportFile   string
)

var alertsCmd = &cobra.Command{
	Use:     "alerts",
	Aliases: []string{"alert"},
	Short:   "List and act on alerts",
	Long: `List the alerts raised by the daemon and restore or dismiss them.

Alerts are referred to by ID, by a unique ID prefix (the short form shown
in the table) or by the file's current path.`,
	Args: cobra.NoArgs,
	RunE: runAlertsList,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAlertsList,
}

var alertsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export alerts (CSV unless -o says otherwise)",
	Long: `Export every alert with the columns File, File Size, Rule, Time, Status,
Origin and Original Path.`,
	Args: cobra.NoArgs,
	RunE: runAlertsExport,
}

var alertsRestoreCmd = &cobra.Command{
	Use:   "restore REF...",
	Short: "Restore quarantined files and whitelist them",
	Long: `Move each file back to where it was found (or to the primary root when that
directory no longer exists), whitelist it so it is not flagged again, and
clear its alert. For warn-mode alerts the file is whitelisted in place.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAlertsRestore,
}

var alertsDismissCmd = &cobra.Command{
	Use:   "dismiss REF...",
	Short: "Remove alerts without touching their files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAlertsDismiss,
}

func init() {
	alertsCmd.PersistentFlags().StringVar(&templateFlag, "template", "", "Go template for each result (overrides -o)")
	alertsExportCmd.Flags().StringVarP(&exportFile, "file", "f", "", "write to file instead of stdout")

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsExportCmd)
	alertsCmd.AddCommand(alertsRestoreCmd)
	alertsCmd.AddCommand(alertsDismissCmd)
	rootCmd.AddCommand(alertsCmd)
}

// fetchResult gathers what the formatters need. Status is best-effort; an
// old daemon without it still lists alerts.
func fetchResult(ctx context.Context, c *client.Client) (*output.Result, error) {
	alerts, err := c.ListAlerts(ctx)
	if err != nil {
		return nil, err
	}
	r := &output.Result{Alerts: alerts, DaemonUp: true}
	if st, err := c.Status(ctx); err == nil {
		r.Mode = st.Mode
		r.LastScan = st.LastScan
	} else {
		r.Warnings = append(r.Warnings, fmt.Sprintf("status unavailable: %v", err))
	}
	return r, nil
}

func runAlertsList(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		r, err := fetchResult(ctx, c)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), resolveFormat(outputFlag, "pretty", isTerminal()), templateFlag, r)
	})
}

func runAlertsExport(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		alerts, err := c.ListAlerts(ctx)
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if exportFile != "" {
			f, err := os.Create(exportFile)
			if err != nil {
				return fmt.Errorf("creating export file: %w", err)
			}
			defer f.Close()
			w = f
		}

		format := outputFlag
		if format == "" {
			format = "csv"
		}
		if err := render(w, format, templateFlag, &output.Result{Alerts: alerts, DaemonUp: true}); err != nil {
			return err
		}
		if exportFile != "" {
			printSuccess("Exported %s to %s", plural(len(alerts), "alert"), exportFile)
		}
		return nil
	})
}

func runAlertsRestore(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		return forEachRef(args, func(ref string) error {
			res, err := c.Restore(ctx, ref)
			if err != nil {
				return err
			}
			switch {
			case res.AlreadyRestored:
				printInfo("%s was already restored", res.Path)
			case res.Alert.Status == types.ModeWarn:
				printSuccess("Whitelisted %s", res.Path)
			default:
				printSuccess("Restored %s", res.Path)
			}
			return nil
		})
	})
}

func runAlertsDismiss(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		return forEachRef(args, func(ref string) error {
			a, err := c.Dismiss(ctx, ref)
			if err != nil {
				return err
			}
			printSuccess("Dismissed %s alert for %s", a.Rule, a.File)
			return nil
		})
	})
}
