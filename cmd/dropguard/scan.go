package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/dropguard/pkg/client"
)

var scanTimeout time.Duration

var scanCmd = &cobra.Command{
	Use:   "scan [root]",
	Short: "Check files that were already present",
	Long: `Run every regular file under root (or under all watched roots) through the
pipeline, as if it had just been created. Files older than
pipeline.settled_age skip the stability wait.

The command waits for the scan to finish. Interrupting it cancels the scan.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "give up after this long (0 = no limit)")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	root := ""
	if len(args) > 0 {
		root = args[0]
	}

	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		if scanTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, scanTimeout)
			defer cancel()
		}

		start := time.Now()
		printVerbose("scanning %s", orNone(root))
		sum, err := c.ScanExisting(ctx, root)
		if err != nil {
			return err
		}

		msg := fmt.Sprintf("Scanned %s in %s", plural(int(sum.Scanned), "file"), time.Since(start).Round(time.Millisecond))
		if sum.Detected == 0 {
			printSuccess("%s, nothing detected", msg)
			return nil
		}
		printWarning("%s, %s detected (see: dropguard alerts)", msg, plural(int(sum.Detected), "file"))
		return nil
	})
}
