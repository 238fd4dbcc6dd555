package elaborate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/procflow-ai/procflow/internal/cache"
	"github.com/procflow-ai/procflow/internal/genai"
	"github.com/procflow-ai/procflow/pkg/models"
)

// fakeGenerator scripts responses per call and records every request.
type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	respond func(call int, req genai.Request) (*genai.Response, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, req genai.Request) (*genai.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.prompts = append(f.prompts, req.Prompt)
	fn := f.respond
	f.mu.Unlock()
	return fn(call, req)
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func elaborationText(desc string) string {
	return fmt.Sprintf(`{"category":"Ops","priority":2,"estimated_duration":"1 day","description":%q}`, desc)
}

func okResponse(desc string) func(int, genai.Request) (*genai.Response, error) {
	return func(int, genai.Request) (*genai.Response, error) {
		return &genai.Response{Text: elaborationText(desc)}, nil
	}
}

func pendingNode(id, title string, kind models.NodeKind) *models.ProcessNode {
	return &models.ProcessNode{ID: id, Title: title, Kind: kind, Status: models.StatusPending}
}

func buildDoc(nodes ...*models.ProcessNode) *models.Document {
	doc := &models.Document{SourceText: "source", Nodes: map[string]*models.ProcessNode{}}
	for _, n := range nodes {
		doc.Nodes[n.ID] = n
		if n.ParentID == "" {
			doc.RootIDs = append(doc.RootIDs, n.ID)
		} else {
			parent := doc.Nodes[n.ParentID]
			parent.ChildIDs = append(parent.ChildIDs, n.ID)
		}
	}
	return doc
}

func newTestScheduler(gen genai.Generator, store cache.Store, cfg Config) *Scheduler {
	s := NewScheduler(gen, store, cfg)
	s.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return s
}

func drainEvents(s *Scheduler) []Event {
	var events []Event
	for ev := range s.Events() {
		events = append(events, ev)
	}
	return events
}

func TestSchedulerCacheHitIssuesNoCalls(t *testing.T) {
	node := pendingNode("n1", "Pack Orders", models.KindProcess)
	doc := buildDoc(node)

	store := cache.NewMemory()
	fp := NodeFingerprint(doc, node)
	store.Put(&cache.Entry{Fingerprint: fp, Category: "Logistics", Priority: 1, EstimatedDuration: "2 hours", Description: "Pack every order."})

	gen := &fakeGenerator{respond: func(int, genai.Request) (*genai.Response, error) {
		return nil, errors.New("should not be called")
	}}

	s := newTestScheduler(gen, store, Config{Concurrency: 1})
	if err := s.Run(context.Background(), doc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if gen.callCount() != 0 {
		t.Errorf("call count = %d, want 0", gen.callCount())
	}
	if node.Status != models.StatusDone {
		t.Errorf("status = %s, want done", node.Status)
	}
	if node.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", node.Attempts)
	}
	if node.Description != "Pack every order." {
		t.Errorf("description = %q", node.Description)
	}

	var sawHit bool
	for _, ev := range drainEvents(s) {
		if ev.Type == EventCacheHit && ev.NodeID == "n1" {
			sawHit = true
		}
	}
	if !sawHit {
		t.Error("no cache_hit event emitted")
	}
}

func TestSchedulerDeduplicatesMatchingFingerprints(t *testing.T) {
	// Two roots with symmetric sibling contexts share a fingerprint, so one
	// call must serve both regardless of interleaving.
	a := pendingNode("n1", "Setup", models.KindProcess)
	b := pendingNode("n2", "Setup", models.KindProcess)
	doc := buildDoc(a, b)

	gen := &fakeGenerator{respond: func(int, genai.Request) (*genai.Response, error) {
		time.Sleep(10 * time.Millisecond)
		return &genai.Response{Text: elaborationText("Prepare the workspace.")}, nil
	}}

	s := newTestScheduler(gen, cache.NewMemory(), Config{Concurrency: 2})
	if err := s.Run(context.Background(), doc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if gen.callCount() != 1 {
		t.Errorf("call count = %d, want 1", gen.callCount())
	}
	for _, n := range []*models.ProcessNode{a, b} {
		if n.Status != models.StatusDone {
			t.Errorf("node %s status = %s, want done", n.ID, n.Status)
		}
	}
	if a.Description != b.Description {
		t.Errorf("descriptions differ: %q vs %q", a.Description, b.Description)
	}
}

func TestSchedulerRetriesTransientThenSucceeds(t *testing.T) {
	node := pendingNode("n1", "Ship Parts", models.KindProcess)
	doc := buildDoc(node)

	gen := &fakeGenerator{respond: func(call int, _ genai.Request) (*genai.Response, error) {
		if call < 3 {
			return nil, genai.TransientError("overloaded", errors.New("429"))
		}
		return &genai.Response{Text: elaborationText("Ship via freight.")}, nil
	}}

	s := newTestScheduler(gen, cache.NewMemory(), Config{Concurrency: 1, MaxRetries: 3})
	if err := s.Run(context.Background(), doc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if gen.callCount() != 3 {
		t.Errorf("call count = %d, want 3", gen.callCount())
	}
	if node.Status != models.StatusDone {
		t.Fatalf("status = %s, want done", node.Status)
	}
	if node.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", node.Attempts)
	}

	retries := 0
	for _, ev := range drainEvents(s) {
		if ev.Type == EventRetry {
			retries++
		}
	}
	if retries != 2 {
		t.Errorf("retry events = %d, want 2", retries)
	}
}

func TestSchedulerExhaustsRetries(t *testing.T) {
	node := pendingNode("n1", "Ship Parts", models.KindProcess)
	doc := buildDoc(node)

	gen := &fakeGenerator{respond: func(int, genai.Request) (*genai.Response, error) {
		return nil, genai.TransientError("overloaded", errors.New("503"))
	}}

	s := newTestScheduler(gen, cache.NewMemory(), Config{Concurrency: 1, MaxRetries: 3})
	if err := s.Run(context.Background(), doc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if gen.callCount() != 3 {
		t.Errorf("call count = %d, want 3", gen.callCount())
	}
	if node.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", node.Status)
	}
	if node.FailureReason != models.FailureRetriesExhausted {
		t.Errorf("failure reason = %s, want %s", node.FailureReason, models.FailureRetriesExhausted)
	}
	if node.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", node.Attempts)
	}
}

func TestSchedulerMalformedResponseFailsWithoutRetry(t *testing.T) {
	node := pendingNode("n1", "Audit Books", models.KindProcess)
	doc := buildDoc(node)

	gen := &fakeGenerator{respond: func(int, genai.Request) (*genai.Response, error) {
		return &genai.Response{Text: "I'd rather write a poem."}, nil
	}}

	s := newTestScheduler(gen, cache.NewMemory(), Config{Concurrency: 1, MaxRetries: 3})
	if err := s.Run(context.Background(), doc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if gen.callCount() != 1 {
		t.Errorf("call count = %d, want 1", gen.callCount())
	}
	if node.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", node.Status)
	}
	if node.FailureReason != models.FailureMalformedElaboration {
		t.Errorf("failure reason = %s, want %s", node.FailureReason, models.FailureMalformedElaboration)
	}
	if node.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", node.Attempts)
	}
}

func TestSchedulerDependencyAwareOrdering(t *testing.T) {
	a := pendingNode("n1", "Lay Foundation", models.KindProcess)
	b := pendingNode("n2", "Raise Walls", models.KindProcess)
	b.DependsOn = []string{"n1"}
	doc := buildDoc(a, b)

	gen := &fakeGenerator{respond: func(_ int, req genai.Request) (*genai.Response, error) {
		if strings.Contains(req.Prompt, "Lay Foundation") && !strings.Contains(req.Prompt, "Raise Walls") {
			return &genai.Response{Text: elaborationText("Pour and cure the slab.")}, nil
		}
		return &genai.Response{Text: elaborationText("Frame and raise each wall.")}, nil
	}}

	s := newTestScheduler(gen, cache.NewMemory(), Config{Concurrency: 4, DependencyAware: true})
	if err := s.Run(context.Background(), doc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	gen.mu.Lock()
	prompts := append([]string(nil), gen.prompts...)
	gen.mu.Unlock()

	if len(prompts) != 2 {
		t.Fatalf("call count = %d, want 2", len(prompts))
	}
	if !strings.Contains(prompts[0], "Lay Foundation") {
		t.Errorf("first call was not the dependency: %q", prompts[0])
	}
	if !strings.Contains(prompts[1], "Pour and cure the slab.") {
		t.Errorf("dependent prompt missing dependency description: %q", prompts[1])
	}
	if b.Status != models.StatusDone || b.DegradedContext {
		t.Errorf("dependent node = %s degraded=%v, want done without degradation", b.Status, b.DegradedContext)
	}
}

func TestSchedulerWithoutDependencyAwarenessIgnoresDependencyState(t *testing.T) {
	// With dependency-aware dispatch off, a dependent node can run while its
	// dependency is still mid-elaboration on another worker, so its prompt
	// must not fold in the dependency's in-flight fields. Iterate to give the
	// race detector interleavings to chew on.
	for i := 0; i < 50; i++ {
		a := pendingNode("n1", "Lay Foundation", models.KindProcess)
		b := pendingNode("n2", "Raise Walls", models.KindProcess)
		b.DependsOn = []string{"n1"}
		doc := buildDoc(a, b)

		gen := &fakeGenerator{respond: func(int, genai.Request) (*genai.Response, error) {
			return &genai.Response{Text: elaborationText("A step.")}, nil
		}}

		s := newTestScheduler(gen, cache.NewMemory(), Config{Concurrency: 2})
		if err := s.Run(context.Background(), doc); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}

		gen.mu.Lock()
		prompts := append([]string(nil), gen.prompts...)
		gen.mu.Unlock()
		for _, p := range prompts {
			if strings.Contains(p, "Depends on:") {
				t.Fatalf("prompt folded dependency state without dependency-aware dispatch: %q", p)
			}
		}
		if a.Status != models.StatusDone || b.Status != models.StatusDone {
			t.Fatalf("statuses = %s/%s, want done/done", a.Status, b.Status)
		}
	}
}

func TestSchedulerDegradedContextAfterDependencyFailure(t *testing.T) {
	a := pendingNode("n1", "Lay Foundation", models.KindProcess)
	b := pendingNode("n2", "Raise Walls", models.KindProcess)
	b.DependsOn = []string{"n1"}
	doc := buildDoc(a, b)

	gen := &fakeGenerator{respond: func(_ int, req genai.Request) (*genai.Response, error) {
		if strings.Contains(req.Prompt, "Lay Foundation") && !strings.Contains(req.Prompt, "Raise Walls") {
			return &genai.Response{Text: "no json here"}, nil
		}
		return &genai.Response{Text: elaborationText("Frame and raise each wall.")}, nil
	}}

	s := newTestScheduler(gen, cache.NewMemory(), Config{Concurrency: 2, DependencyAware: true})
	if err := s.Run(context.Background(), doc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if a.Status != models.StatusFailed {
		t.Fatalf("dependency status = %s, want failed", a.Status)
	}
	if b.Status != models.StatusDone {
		t.Fatalf("dependent status = %s, want done", b.Status)
	}
	if !b.DegradedContext {
		t.Error("dependent node not marked with degraded context")
	}
}

func TestSchedulerCancellationLeavesConsistentState(t *testing.T) {
	var nodes []*models.ProcessNode
	for i := 0; i < 6; i++ {
		nodes = append(nodes, pendingNode(fmt.Sprintf("n%d", i), fmt.Sprintf("Step %d", i), models.KindProcess))
	}
	doc := buildDoc(nodes...)

	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{respond: func(call int, _ genai.Request) (*genai.Response, error) {
		if call == 2 {
			cancel()
			return nil, context.Canceled
		}
		time.Sleep(5 * time.Millisecond)
		return &genai.Response{Text: elaborationText("A step.")}, nil
	}}

	s := newTestScheduler(gen, cache.NewMemory(), Config{Concurrency: 2, MaxRetries: 3})
	err := s.Run(ctx, doc)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}

	callsAtReturn := gen.callCount()
	time.Sleep(20 * time.Millisecond)
	if gen.callCount() != callsAtReturn {
		t.Errorf("calls issued after Run returned: %d -> %d", callsAtReturn, gen.callCount())
	}

	for _, n := range nodes {
		if n.Status != models.StatusDone && n.Status != models.StatusPending {
			t.Errorf("node %s status = %s after cancellation, want done or pending", n.ID, n.Status)
		}
	}
}
