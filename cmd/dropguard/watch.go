package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/dropguard/pkg/client"
	"github.com/jamesainslie/dropguard/pkg/dropguard/output"
	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow alerts as they happen",
	Long: `Stream alert changes from the daemon until interrupted. With -o json or
-o jsonl each event is printed as one JSON object per line.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	events, err := c.WatchAlerts(ctx)
	if err != nil {
		return err
	}
	printInfo("Watching for alerts (Ctrl+C to stop)")

	jsonl := outputFlag == "json" || outputFlag == "jsonl"
	for ev := range events {
		if err := printEvent(cmd.OutOrStdout(), ev, jsonl); err != nil {
			return err
		}
	}
	if ctx.Err() == nil {
		return fmt.Errorf("%w: event stream closed", client.ErrNotRunning)
	}
	return nil
}

func printEvent(w io.Writer, ev types.AlertEvent, jsonl bool) error {
	if jsonl {
		return json.NewEncoder(w).Encode(struct {
			Action types.AlertAction `json:"action"`
			Alert  types.Alert       `json:"alert"`
		}{ev.Action, ev.Alert})
	}

	action := string(ev.Action)
	switch ev.Action {
	case types.AlertRaised:
		action = color.New(color.FgYellow, color.Bold).Sprint(action)
	case types.AlertQuarantined:
		action = color.New(color.FgRed, color.Bold).Sprint(action)
	case types.AlertRestored:
		action = color.New(color.FgGreen).Sprint(action)
	case types.AlertDismissed:
		action = color.New(color.FgHiBlack).Sprint(action)
	}

	a := ev.Alert
	_, err := fmt.Fprintf(w, "%s  %-12s %-14s %s\n", a.Timestamp.Local().Format(output.TimeLayout), action, a.Rule, a.File)
	return err
}
