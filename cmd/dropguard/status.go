package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/dropguard/pkg/client"
	"github.com/jamesainslie/dropguard/pkg/dropguard/output"
	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the daemon is doing",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), formatStatus(st, isTerminal()))
		return nil
	})
}

// formatStatus renders the daemon status as label/value lines, boxed on a
// terminal.
func formatStatus(st client.Status, styled bool) string {
	label := func(s string) string {
		s = fmt.Sprintf("%-12s", s+":")
		if styled {
			return output.LabelStyle.Render(s)
		}
		return s
	}
	lastScan := "never"
	if st.LastScan != nil {
		lastScan = humanize.Time(*st.LastScan)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", label("Policy"), modeText(st, styled))
	fmt.Fprintf(&b, "%s %s\n", label("Roots"), strings.Join(st.Roots, ", "))
	fmt.Fprintf(&b, "%s %s\n", label("Quarantine"), st.QuarantineDir)
	fmt.Fprintf(&b, "%s %d\n", label("Alerts"), st.Alerts)
	fmt.Fprintf(&b, "%s %d\n", label("Whitelist"), st.Whitelist)
	fmt.Fprintf(&b, "%s %d\n", label("In flight"), st.Tracked)
	fmt.Fprintf(&b, "%s %s\n", label("Last scan"), lastScan)
	fmt.Fprintf(&b, "%s %d, up %s\n", label("Daemon"), st.PID, formatDuration(st.Uptime))

	if !styled {
		return b.String()
	}
	return output.HeaderBox.Render(strings.TrimRight(b.String(), "\n")) + "\n"
}

func modeText(st client.Status, styled bool) string {
	if !styled {
		return st.Mode.String()
	}
	return output.ModeStyle(st.Mode == types.ModeBlock).Render(st.Mode.String())
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
