package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/procflow-ai/procflow/internal/config"
	"github.com/procflow-ai/procflow/internal/export"
)

// watchDebounce coalesces the burst of write events editors produce on save.
const watchDebounce = 500 * time.Millisecond

var (
	watchFormat string
	watchOutput string
)

var watchCmd = &cobra.Command{
	Use:   "watch <file>",
	Short: "Re-run the pipeline whenever the input file changes",
	Long: `Watch a text file and re-run the pipeline each time it is saved.

Combined with the persistent cache this makes iterating on a process
description cheap: steps that did not change hit the cache and only new
or edited steps trigger elaboration calls.`,
	Args: cobra.ExactArgs(1),
	RunE: watchFile,
}

func init() {
	watchCmd.Flags().StringVarP(&watchFormat, "format", "f", "yaml", "Output format: yaml, json or markdown")
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "", "Write each result to this file")
}

func watchFile(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	format, err := export.ParseFormat(watchFormat)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which drops a
	// watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := watchRunOnce(ctx, path, format); err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
	}

	var timer *time.Timer
	pending := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})

		case <-pending:
			fmt.Fprintf(os.Stderr, "\n%s changed, re-running\n", path)
			if err := watchRunOnce(ctx, path, format); err != nil {
				fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}

func watchRunOnce(ctx context.Context, path string, format export.Format) error {
	sourceText, err := readSource(path)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	result, usage, runErr := executeRun(ctx, cfg, sourceText, true)
	if result == nil {
		return runErr
	}

	if err := writeResult(result.Tree, format, watchOutput); err != nil {
		return err
	}
	printSummary(os.Stderr, result, usage, runErr)
	return nil
}
