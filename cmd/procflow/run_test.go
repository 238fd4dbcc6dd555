package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/procflow-ai/procflow/internal/config"
	"github.com/procflow-ai/procflow/internal/engine"
	"github.com/procflow-ai/procflow/internal/genai"
	"github.com/procflow-ai/procflow/pkg/models"
)

func TestReadSource(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(path, []byte("make widgets"), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	text, err := readSource(path)
	if err != nil {
		t.Fatalf("readSource failed: %v", err)
	}
	if text != "make widgets" {
		t.Errorf("text = %q", text)
	}
}

func TestReadSourceEmptyFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	if _, err := readSource(path); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestReadSourceMissingFile(t *testing.T) {
	if _, err := readSource(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Error("expected error for missing input")
	}
}

func TestPrintSummaryIncludesTokenUsage(t *testing.T) {
	color.NoColor = true
	result := &engine.Result{Tree: &models.Tree{
		RunID: "run-abc",
		Roots: []*models.TreeNode{{ID: "n1", Title: "Ship", Status: models.StatusDone}},
	}}
	usage := genai.NewTokenTracker()
	usage.Add(120, 40)
	usage.Add(80, 60)

	var buf bytes.Buffer
	printSummary(&buf, result, usage, nil)

	out := buf.String()
	if !strings.Contains(out, "1 processes elaborated (run run-abc)") {
		t.Errorf("summary missing outcome line: %q", out)
	}
	if !strings.Contains(out, "tokens: 200 in / 100 out over 2 calls") {
		t.Errorf("summary missing token usage: %q", out)
	}
}

func TestPrintSummarySkipsTokenLineWithoutCalls(t *testing.T) {
	color.NoColor = true
	result := &engine.Result{Tree: &models.Tree{RunID: "run-abc"}}

	var buf bytes.Buffer
	printSummary(&buf, result, genai.NewTokenTracker(), nil)

	if strings.Contains(buf.String(), "tokens:") {
		t.Errorf("token line printed with no calls: %q", buf.String())
	}
}

func TestApplyRunFlagsOnlyOverridesChanged(t *testing.T) {
	cfg := config.Default()

	if err := runCmd.Flags().Set("concurrency", "9"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	if err := runCmd.Flags().Set("max-retries", "5"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	applyRunFlags(runCmd, cfg)

	if cfg.Elaboration.Concurrency != 9 {
		t.Errorf("concurrency = %d, want 9", cfg.Elaboration.Concurrency)
	}
	if cfg.Elaboration.MaxRetries != 5 {
		t.Errorf("max_retries = %d, want 5", cfg.Elaboration.MaxRetries)
	}
	// Untouched flags leave the config values alone.
	if cfg.Limits.Elaboration.CallsPerWindow != 15 {
		t.Errorf("calls_per_window = %d, want default 15", cfg.Limits.Elaboration.CallsPerWindow)
	}
	if !cfg.Elaboration.DependencyAware {
		t.Error("dependency_aware changed without the flag being set")
	}
}
