package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/dropguard/pkg/client"
)

var whitelistCmd = &cobra.Command{
	Use:     "whitelist",
	Aliases: []string{"allow"},
	Short:   "Manage paths that are never flagged",
	Long: `Whitelisted paths are skipped by the pipeline. A directory entry covers
everything under it. Paths must lie inside a watched root.`,
	Args: cobra.NoArgs,
	RunE: runWhitelistList,
}

var whitelistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List whitelisted paths",
	Args:  cobra.NoArgs,
	RunE:  runWhitelistList,
}

var whitelistAddCmd = &cobra.Command{
	Use:   "add PATH...",
	Short: "Whitelist paths",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWhitelistAdd,
}

var whitelistRemoveCmd = &cobra.Command{
	Use:     "remove PATH...",
	Aliases: []string{"rm"},
	Short:   "Remove paths from the whitelist",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runWhitelistRemove,
}

func init() {
	whitelistCmd.AddCommand(whitelistListCmd)
	whitelistCmd.AddCommand(whitelistAddCmd)
	whitelistCmd.AddCommand(whitelistRemoveCmd)
	rootCmd.AddCommand(whitelistCmd)
}

func runWhitelistList(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		paths, err := c.Whitelist(ctx)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			printInfo("Whitelist is empty")
			return nil
		}
		for _, p := range paths {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	})
}

func runWhitelistAdd(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		return forEachRef(args, func(path string) error {
			canon, err := c.AddWhitelist(ctx, path)
			if err != nil {
				return err
			}
			printSuccess("Whitelisted %s", canon)
			return nil
		})
	})
}

func runWhitelistRemove(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		return forEachRef(args, func(path string) error {
			removed, err := c.RemoveWhitelist(ctx, path)
			if err != nil {
				return err
			}
			if removed {
				printSuccess("Removed %s", path)
			} else {
				printWarning("%s was not whitelisted", path)
			}
			return nil
		})
	})
}
