package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "fakeai-metrics",
	Short: "FakeAI metrics pipeline - event-driven observability for a simulated LLM API",
	Long: `fakeai-metrics runs the FakeAI observability pipeline standalone:
an event bus fanning simulated request and stream lifecycle events out to
the streaming, error/SLO, and cost trackers.

The simulate subcommand drives a synthetic workload through the pipeline
and prints the resulting metric snapshots, which is useful for inspecting
tracker behavior and for generating realistic dashboard data without a
running API server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with signal handling.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"path to YAML config file (defaults apply when omitted)")
	rootCmd.AddCommand(simulateCmd)
}
