// Package engine drives a full run: decomposition, reference resolution,
// elaboration and assembly of the final tree.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/procflow-ai/procflow/internal/assemble"
	"github.com/procflow-ai/procflow/internal/cache"
	"github.com/procflow-ai/procflow/internal/decompose"
	"github.com/procflow-ai/procflow/internal/elaborate"
	"github.com/procflow-ai/procflow/internal/genai"
	"github.com/procflow-ai/procflow/internal/resolve"
	"github.com/procflow-ai/procflow/pkg/models"
)

// Options configures an engine.
type Options struct {
	// Generator issues model calls for both stages.
	Generator genai.Generator
	// Store is the elaboration cache. Defaults to an in-memory store.
	Store cache.Store
	// Decompose tunes the decomposition call.
	Decompose decompose.Config
	// Elaborate tunes the elaboration scheduler.
	Elaborate elaborate.Config
	// OnEvent, when set, receives progress events during elaboration. It is
	// called from a single goroutine and must not block for long.
	OnEvent func(elaborate.Event)
}

// Result carries everything a run produced.
type Result struct {
	// Tree is the assembled output. On cancellation it is the partial tree.
	Tree *models.Tree
	// Document is the underlying resolved document, useful for inspection.
	Document *models.Document
	// DroppedEvents counts progress events discarded under backpressure.
	DroppedEvents uint64
}

// Engine orchestrates one run at a time. Structural failures before
// elaboration abort the run; per-node elaboration failures are absorbed into
// node state and never abort it.
type Engine struct {
	gen  genai.Generator
	opts Options
}

// New builds an engine from options. Generator is required.
func New(opts Options) (*Engine, error) {
	if opts.Generator == nil {
		return nil, errors.New("engine: generator is required")
	}
	if opts.Store == nil {
		opts.Store = cache.NewMemory()
	}
	return &Engine{gen: opts.Generator, opts: opts}, nil
}

// Run executes the full pipeline over sourceText. A non-nil tree is returned
// alongside the error when the run was cancelled mid-elaboration, so callers
// can still render partial progress.
func (e *Engine) Run(ctx context.Context, sourceText string) (*Result, error) {
	runID := newRunID()
	log.Printf("[engine] run %s: decomposing input (%d bytes)", runID, len(sourceText))

	decomposer := decompose.New(e.gen, e.opts.Decompose)
	candidates, err := decomposer.Decompose(ctx, sourceText)
	if err != nil {
		return nil, fmt.Errorf("decomposition: %w", err)
	}

	doc, err := resolve.Resolve(sourceText, candidates)
	if err != nil {
		return nil, fmt.Errorf("resolving references: %w", err)
	}
	log.Printf("[engine] run %s: resolved %d nodes", runID, len(doc.Nodes))

	scheduler := elaborate.NewScheduler(e.gen, e.opts.Store, e.opts.Elaborate)

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ev := range scheduler.Events() {
			if e.opts.OnEvent != nil {
				e.opts.OnEvent(ev)
			}
		}
	}()

	runErr := scheduler.Run(ctx, doc)
	<-forwarded

	result := &Result{
		Tree:          assemble.Build(runID, doc),
		Document:      doc,
		DroppedEvents: scheduler.DroppedEvents(),
	}

	if runErr != nil {
		return result, fmt.Errorf("elaboration interrupted: %w", runErr)
	}

	done, failed := result.Tree.Counts()
	log.Printf("[engine] run %s: %d done, %d failed", runID, done, failed)
	return result, nil
}

func newRunID() string {
	return "run-" + uuid.New().String()[:8]
}
