package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes: 0 clean shutdown, 1 operational failure (unkillable managed
// process at shutdown), 2 configuration validation failure.
const (
	exitOK     = 0
	exitRun    = 1
	exitConfig = 2
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitRun)
	}
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "guardian",
		Short: "Process supervisor and health-monitoring orchestrator",
		Long: "guardian launches a fixed set of worker processes in order, watches\n" +
			"their liveness and HTTP health, restarts failures with exponential\n" +
			"backoff, and shuts everything down cleanly in reverse order.",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newStatusCmd())
	return root
}
