package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/procflow-ai/procflow/internal/cache"
	"github.com/procflow-ai/procflow/internal/config"
)

var cacheOlderThan time.Duration

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the elaboration cache",
	Long: `Inspect or clear the persistent elaboration cache.

Elaborations are keyed by a fingerprint of the step's title, kind, parent
and siblings, so repeated runs over similar documents skip calls that were
already paid for.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache location and entry count",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openConfiguredCache()
		if err != nil {
			return err
		}
		defer store.Close()

		count, err := store.Count()
		if err != nil {
			return fmt.Errorf("counting cache entries: %w", err)
		}

		fmt.Printf("path:    %s\n", store.Path())
		fmt.Printf("entries: %d\n", count)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached elaborations",
	Long: `Remove cached elaborations. By default every entry is removed;
--older-than keeps recent entries (e.g. --older-than 168h keeps the last week).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openConfiguredCache()
		if err != nil {
			return err
		}
		defer store.Close()

		removed, err := store.Purge(cacheOlderThan)
		if err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}

		fmt.Printf("removed %d entries\n", removed)
		return nil
	},
}

func openConfiguredCache() (*cache.SQLite, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	path := cfg.Cache.Path
	if path == "" {
		path = cache.DefaultPath()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no cache database at %s", path)
	}
	return cache.OpenSQLite(path)
}

func init() {
	cacheClearCmd.Flags().DurationVar(&cacheOlderThan, "older-than", 0, "Only remove entries older than this duration")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
