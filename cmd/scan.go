package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nexus-scanner/nexus/internal/report"
	"github.com/nexus-scanner/nexus/pkg/types"
)

var scanCmd = &cobra.Command{
	Use:   "scan <target>",
	Short: "Scan a target and print findings",
	Long: `Scan crawls the target to the configured depth, evaluates every
discovered resource against the enabled detectors, and prints the
aggregated findings. First interrupt requests graceful cancellation;
a second interrupt aborts immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	defaults := types.DefaultScanOptions()

	scanCmd.Flags().Int("depth", defaults.MaxDepth, "Maximum crawl depth")
	scanCmd.Flags().Int("concurrency", defaults.Concurrency, "Concurrent tasks for this scan")
	scanCmd.Flags().Duration("timeout", defaults.Timeout, "Overall scan timeout")
	scanCmd.Flags().Duration("task-timeout", defaults.TaskTimeout, "Per-detector task timeout")
	scanCmd.Flags().Int("retries", defaults.RetryCount, "Fetch and detector retry count")
	scanCmd.Flags().Duration("cache-ttl", defaults.CacheTTL, "Finding cache TTL")
	scanCmd.Flags().Int("max-resources", defaults.MaxResources, "Resource discovery cap")
	scanCmd.Flags().Bool("ignore-robots", false, "Ignore robots.txt")
	scanCmd.Flags().StringSlice("detectors", nil, "Detector subset to run (default: all)")
	scanCmd.Flags().String("json", "", "Write a JSON report to this file")

	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	target := args[0]

	opts := types.DefaultScanOptions()
	opts.MaxDepth, _ = cmd.Flags().GetInt("depth")
	opts.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	opts.Timeout, _ = cmd.Flags().GetDuration("timeout")
	opts.TaskTimeout, _ = cmd.Flags().GetDuration("task-timeout")
	opts.RetryCount, _ = cmd.Flags().GetInt("retries")
	opts.CacheTTL, _ = cmd.Flags().GetDuration("cache-ttl")
	opts.MaxResources, _ = cmd.Flags().GetInt("max-resources")
	opts.EnabledDetectors, _ = cmd.Flags().GetStringSlice("detectors")
	ignoreRobots, _ := cmd.Flags().GetBool("ignore-robots")
	opts.RespectRobots = !ignoreRobots
	jsonPath, _ := cmd.Flags().GetString("json")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.close(context.Background(), log)

	scanID, err := rt.engine.Submit(target, opts)
	if err != nil {
		return fmt.Errorf("scan submission failed: %w", err)
	}

	color.Cyan("Scanning %s (scan %s)\n", target, scanID)

	progressDone := make(chan struct{})
	go printProgress(rt, scanID, progressDone)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			color.Yellow("\nCancelling scan, waiting for in-flight tasks...\n")
			rt.engine.Cancel(scanID)
		case <-ctx.Done():
			return
		}
		select {
		case <-sigCh:
			color.Red("\nAborting\n")
			cancel()
		case <-ctx.Done():
		}
	}()

	state, err := rt.engine.Wait(ctx, scanID)
	close(progressDone)
	if err != nil {
		return fmt.Errorf("scan interrupted: %w", err)
	}

	report.WriteConsole(os.Stdout, state)

	if jsonPath != "" {
		f, err := os.Create(jsonPath)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		if err := report.WriteJSON(f, state); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("\nJSON report written to %s\n", jsonPath)
	}

	if state.Status != types.ScanStatusCompleted {
		return fmt.Errorf("scan finished with status %s", state.Status)
	}
	return nil
}

// printProgress subscribes to the event feed and renders progress lines
// until the scan finishes.
func printProgress(rt *runtime, scanID string, done <-chan struct{}) {
	events, unsubscribe := rt.bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.ScanID != scanID || event.Kind != types.EventScanProgress {
				continue
			}
			fmt.Printf("\r  discovered %d  evaluated %d  findings %d   ",
				event.Discovered, event.Completed, event.Findings)
		case <-done:
			fmt.Println()
			return
		case <-time.After(30 * time.Second):
			// keep the line alive even when events are sparse
		}
	}
}
