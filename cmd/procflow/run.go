package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/procflow-ai/procflow/internal/cache"
	"github.com/procflow-ai/procflow/internal/config"
	"github.com/procflow-ai/procflow/internal/decompose"
	"github.com/procflow-ai/procflow/internal/elaborate"
	"github.com/procflow-ai/procflow/internal/engine"
	"github.com/procflow-ai/procflow/internal/export"
	"github.com/procflow-ai/procflow/internal/genai"
	"github.com/procflow-ai/procflow/internal/ratelimit"
	"github.com/procflow-ai/procflow/internal/tui"
	"github.com/procflow-ai/procflow/pkg/models"
)

var (
	runFormat          string
	runOutput          string
	runConcurrency     int
	runRate            int
	runWindow          time.Duration
	runMaxRetries      int
	runDependencyAware bool
	runMaxProcesses    int
	runModel           string
	runDecompModel     string
	runPlain           bool
	runNoCache         bool
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Decompose and elaborate a process description",
	Long: `Run the full pipeline over a text file. Pass "-" to read from stdin.

The input is decomposed into top-level processes and sub-processes with a
single model call, cross-references between steps are resolved, and every
node is elaborated in parallel within the configured rate budget. Nodes
whose elaboration keeps failing stay in the output marked as failed.

Identical steps (same title, kind, parent and siblings) share a cached
elaboration, within a run and across runs when the persistent cache is
enabled.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "yaml", "Output format: yaml, json or markdown")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Write the result to a file instead of stdout")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Elaboration worker count")
	runCmd.Flags().IntVar(&runRate, "rate", 0, "Elaboration calls allowed per window")
	runCmd.Flags().DurationVar(&runWindow, "window", 0, "Rate window length (e.g. 1m)")
	runCmd.Flags().IntVar(&runMaxRetries, "max-retries", 0, "Attempt cap per node")
	runCmd.Flags().BoolVar(&runDependencyAware, "dependency-aware", true, "Hold nodes back until their dependencies settle")
	runCmd.Flags().IntVar(&runMaxProcesses, "max-processes", 0, "Cap on top-level processes")
	runCmd.Flags().StringVar(&runModel, "model", "", "Model for elaboration calls")
	runCmd.Flags().StringVar(&runDecompModel, "decomposition-model", "", "Model for the decomposition call")
	runCmd.Flags().BoolVar(&runPlain, "plain", false, "Log progress lines instead of the TUI")
	runCmd.Flags().BoolVar(&runNoCache, "no-cache", false, "Use an in-memory cache for this run only")
}

func runProcess(cmd *cobra.Command, args []string) error {
	sourceText, err := readSource(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyRunFlags(cmd, cfg)

	format, err := export.ParseFormat(runFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, usage, runErr := executeRun(ctx, cfg, sourceText, runPlain)
	if result == nil {
		return runErr
	}

	if err := writeResult(result.Tree, format, runOutput); err != nil {
		return err
	}

	printSummary(os.Stderr, result, usage, runErr)
	if runErr != nil {
		return runErr
	}
	return nil
}

// applyRunFlags folds explicitly set flags over the loaded config.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("concurrency") {
		cfg.Elaboration.Concurrency = runConcurrency
	}
	if flags.Changed("rate") {
		cfg.Limits.Elaboration.CallsPerWindow = runRate
	}
	if flags.Changed("window") {
		cfg.Limits.Elaboration.Window = runWindow
	}
	if flags.Changed("max-retries") {
		cfg.Elaboration.MaxRetries = runMaxRetries
	}
	if flags.Changed("dependency-aware") {
		cfg.Elaboration.DependencyAware = runDependencyAware
	}
	if flags.Changed("max-processes") {
		cfg.Generation.MaxTopLevelProcesses = runMaxProcesses
	}
	if flags.Changed("model") {
		cfg.Generation.ElaborationModel = runModel
	}
	if flags.Changed("decomposition-model") {
		cfg.Generation.DecompositionModel = runDecompModel
	}
	if flags.Changed("no-cache") && runNoCache {
		cfg.Cache.Persistent = false
	}
}

func readSource(arg string) (string, error) {
	var data []byte
	var err error
	if arg == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(arg)
	}
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("input is empty")
	}
	return string(data), nil
}

// executeRun builds the full stack and runs the pipeline once. The returned
// tracker carries the token usage of every call the run issued.
func executeRun(ctx context.Context, cfg *config.Config, sourceText string, plain bool) (*engine.Result, *genai.TokenTracker, error) {
	apiKey, err := config.GetAPIKey(cfg)
	if err != nil {
		return nil, nil, err
	}

	limiter := ratelimit.New(map[ratelimit.Role]ratelimit.Budget{
		ratelimit.RoleDecomposition: cfg.Limits.Decomposition.Budget(),
		ratelimit.RoleElaboration:   cfg.Limits.Elaboration.Budget(),
	})

	client, err := genai.NewClient(genai.ClientConfig{
		Model:         anthropic.Model(cfg.Generation.ElaborationModel),
		APIKey:        apiKey,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
		Limiter:       limiter,
	})
	if err != nil {
		return nil, nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	opts := engine.Options{
		Generator: client,
		Store:     store,
		Decompose: decompose.Config{
			Model:       cfg.Generation.DecompositionModel,
			MaxTopLevel: cfg.Generation.MaxTopLevelProcesses,
		},
		Elaborate: elaborate.Config{
			Model:           cfg.Generation.ElaborationModel,
			Concurrency:     cfg.Elaboration.Concurrency,
			MaxRetries:      cfg.Elaboration.MaxRetries,
			BackoffBase:     cfg.Elaboration.BackoffBase,
			BackoffCap:      cfg.Elaboration.BackoffCap,
			DependencyAware: cfg.Elaboration.DependencyAware,
		},
	}

	if plain {
		opts.OnEvent = logEvent
		eng, err := engine.New(opts)
		if err != nil {
			return nil, nil, err
		}
		result, runErr := eng.Run(ctx, sourceText)
		return result, client.Tracker(), runErr
	}

	result, runErr := runWithTUI(ctx, opts, sourceText)
	return result, client.Tracker(), runErr
}

// runWithTUI runs the engine alongside a bubbletea program. Quitting the TUI
// cancels the run; the partial tree is still returned.
func runWithTUI(ctx context.Context, opts engine.Options, sourceText string) (*engine.Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	program, _ := tui.NewProgram(cancel)
	opts.OnEvent = func(ev elaborate.Event) {
		program.Send(tui.EventMsg{Event: ev})
	}

	eng, err := engine.New(opts)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		result *engine.Result
		err    error
	}
	results := make(chan outcome, 1)
	go func() {
		result, runErr := eng.Run(runCtx, sourceText)
		var tree *models.Tree
		if result != nil {
			tree = result.Tree
		}
		program.Send(tui.RunDoneMsg{Tree: tree, Err: runErr})
		results <- outcome{result, runErr}
	}()

	if _, err := program.Run(); err != nil {
		cancel()
	}
	out := <-results
	return out.result, out.err
}

func openStore(cfg *config.Config) (cache.Store, error) {
	if !cfg.Cache.Persistent {
		return cache.NewMemory(), nil
	}
	path := cfg.Cache.Path
	if path == "" {
		path = cache.DefaultPath()
	}
	store, err := cache.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("opening cache at %s: %w", path, err)
	}
	return store, nil
}

// logEvent prints one colored progress line per scheduler event.
func logEvent(ev elaborate.Event) {
	switch ev.Type {
	case elaborate.EventStarted:
		fmt.Printf("  %s %s\n", color.CyanString("→"), ev.Title)
	case elaborate.EventCacheHit:
		fmt.Printf("  %s %s %s\n", color.GreenString("✓"), ev.Title, color.HiBlackString("(cached)"))
	case elaborate.EventRetry:
		fmt.Printf("  %s %s %s\n", color.YellowString("↻"), ev.Title, color.HiBlackString("(retry %d: %s)", ev.Attempt, ev.Err))
	case elaborate.EventDone:
		fmt.Printf("  %s %s\n", color.GreenString("✓"), ev.Title)
	case elaborate.EventFailed:
		fmt.Printf("  %s %s %s\n", color.RedString("✗"), ev.Title, color.HiBlackString("(%s)", ev.Err))
	}
}

func writeResult(tree *models.Tree, format export.Format, outputPath string) error {
	if outputPath == "" {
		return export.Write(os.Stdout, format, tree)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	if err := export.Write(f, format, tree); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", outputPath)
	return nil
}

// printSummary writes the run outcome to w (stderr in practice, so piped
// output stays clean), including the token usage of the run's calls.
func printSummary(w io.Writer, result *engine.Result, usage *genai.TokenTracker, runErr error) {
	done, failed := result.Tree.Counts()
	switch {
	case runErr != nil:
		color.New(color.FgYellow).Fprintf(w, "⚠ run interrupted: %d done, %d failed (run %s)\n", done, failed, result.Tree.RunID)
	case failed > 0:
		color.New(color.FgYellow).Fprintf(w, "⚠ %d done, %d failed (run %s)\n", done, failed, result.Tree.RunID)
	default:
		color.New(color.FgGreen).Fprintf(w, "✓ %d processes elaborated (run %s)\n", done, result.Tree.RunID)
	}
	if usage != nil && usage.Calls() > 0 {
		in, out := usage.Total()
		fmt.Fprintf(w, "tokens: %d in / %d out over %d calls (~$%.4f)\n", in, out, usage.Calls(), usage.Cost())
	}
	if result.DroppedEvents > 0 {
		fmt.Fprintf(w, "note: %d progress events dropped\n", result.DroppedEvents)
	}
}
