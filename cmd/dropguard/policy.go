package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/dropguard/pkg/client"
	"github.com/jamesainslie/dropguard/pkg/dropguard/output"
	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show or change the policy mode",
	Long: `In block mode matching files are moved into quarantine. In warn mode they
are left in place and only an alert is recorded.`,
	Args: cobra.NoArgs,
	RunE: runPolicyShow,
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current policy mode",
	Args:  cobra.NoArgs,
	RunE:  runPolicyShow,
}

var policyToggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Switch between block and warn",
	Args:  cobra.NoArgs,
	RunE:  runPolicyToggle,
}

func init() {
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyToggleCmd)
	rootCmd.AddCommand(policyCmd)
}

func modeLabel(m types.PolicyMode) string {
	if !isTerminal() {
		return m.String()
	}
	return output.ModeStyle(m == types.ModeBlock).Render(m.String())
}

func runPolicyShow(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		mode, err := c.Policy(ctx)
		if err != nil {
			return err
		}
		if quiet {
			fmt.Fprintln(cmd.OutOrStdout(), mode)
			return nil
		}
		printInfo("Policy: %s", modeLabel(mode))
		return nil
	})
}

func runPolicyToggle(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		mode, err := c.TogglePolicy(ctx)
		if err != nil {
			return err
		}
		printInfo("Policy is now %s", modeLabel(mode))
		return nil
	})
}
