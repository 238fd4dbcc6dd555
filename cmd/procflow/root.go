package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "procflow",
	Short: "Turn unstructured text into a structured process tree",
	Long: `Procflow reads an unstructured description of how something gets done
and produces a hierarchical tree of processes and sub-processes, each
enriched with a category, priority, duration estimate and description.

It works in two stages:
- a single decomposition call extracts the process structure
- rate-limited, cached elaboration calls enrich every node in parallel

Per-node elaboration failures never abort a run; failed nodes are kept
in the output with their failure reason so nothing silently disappears.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)
}
