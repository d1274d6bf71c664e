// Package cmd defines and implements the CLI commands for the enricher executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "enricher",
		Short: "Resolve contact emails for GitHub profiles listed in a table.",
		Long: `enricher walks a table of GitHub users, looks up each profile's public
email (falling back to the profile README) and writes the result back.
Rows already marked done are skipped, so an interrupted run resumes where it stopped.
API tokens are rotated when their quota runs low.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newFileCmd(&cfgFile))
	cmd.AddCommand(newSheetsCmd(&cfgFile))

	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "enricher: %v\n", err)
		os.Exit(1)
	}
}
