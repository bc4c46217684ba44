package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "gatecache",
		Short:         "gatecache: caching, routing gateway for AI coding assistants",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(nil)
		},
	}
	root.PersistentFlags().StringVar(&logFlags.level, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFlags.format, "log-format", "", "log format (json or console)")

	root.AddCommand(
		newServeCmd(),
		newStatsCmd(),
		newTopCmd(),
		newMCPCmd(),
		newCacheCmd(),
		newCostCmd(),
		newBudgetCmd(),
		newAuditCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
