package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gaborage/webqueue/internal/commands"
)

var version = "dev" // Will be set during build

func main() {
	rootCmd := &cobra.Command{
		Use:   "webqueue",
		Short: "Prioritized, rate-bounded HTTP requests from the command line",
		Long: `webqueue submits HTTP requests to a priority scheduler that bounds how many
run at once, retries failures with exponential backoff and honors per-request
timeouts.

Configuration is read from config.yaml, config.<env>.yaml and WEBQUEUE_*
environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		commands.NewFetchCommand(),
		commands.NewConfigCommand(),
		commands.NewVersionCommand(version),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
