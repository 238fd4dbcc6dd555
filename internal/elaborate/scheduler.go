package elaborate

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/procflow-ai/procflow/internal/cache"
	"github.com/procflow-ai/procflow/internal/genai"
	"github.com/procflow-ai/procflow/internal/ratelimit"
	"github.com/procflow-ai/procflow/pkg/models"
)

const (
	defaultConcurrency = 4
	defaultMaxRetries  = 3
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffCap  = 30 * time.Second
	eventBufferSize    = 256
	maxResponseTokens  = 1024
)

// Config tunes the elaboration stage.
type Config struct {
	Model           string        // model for elaboration calls, empty uses the client default
	Concurrency     int           // worker pool size
	MaxRetries      int           // hard cap on attempts per node
	BackoffBase     time.Duration // first retry delay
	BackoffCap      time.Duration // ceiling on retry delay before jitter
	DependencyAware bool          // hold nodes back until their dependencies settle
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = defaultBackoffCap
	}
}

// Scheduler runs the elaboration stage: it dispatches pending nodes to a
// bounded worker pool, consults the cache before every call, retries
// transient failures with backoff, and records per-node outcomes on the
// document. A scheduler covers a single run; Run may be called once.
type Scheduler struct {
	gen   genai.Generator
	store cache.Store
	cfg   Config

	mu     sync.Mutex // guards node status transitions
	flight singleflight.Group
	sleep  sleepFunc

	events  chan Event
	dropped atomic.Uint64
	wake    chan struct{}
}

// NewScheduler builds a scheduler over the given generator and cache store.
func NewScheduler(gen genai.Generator, store cache.Store, cfg Config) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		gen:    gen,
		store:  store,
		cfg:    cfg,
		sleep:  sleepContext,
		events: make(chan Event, eventBufferSize),
		wake:   make(chan struct{}, 1),
	}
}

// Events exposes the progress stream. It is closed when Run returns.
func (s *Scheduler) Events() <-chan Event { return s.events }

// DroppedEvents reports how many events were discarded because the consumer
// fell behind.
func (s *Scheduler) DroppedEvents() uint64 { return s.dropped.Load() }

// Run elaborates every node in the document. Per-node failures are absorbed
// into node state; the returned error is non-nil only when ctx ends the run
// early. On cancellation, in-flight work is abandoned and affected nodes are
// returned to pending so the partial document stays consistent.
func (s *Scheduler) Run(ctx context.Context, doc *models.Document) error {
	defer close(s.events)

	var order []string
	doc.Walk(func(n *models.ProcessNode) {
		order = append(order, n.ID)
	})

	work := make(chan *models.ProcessNode)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range work {
				s.elaborate(ctx, doc, n)
				s.signal()
			}
		}()
	}

dispatch:
	for ctx.Err() == nil {
		ready, remaining := s.collectReady(doc, order)
		if remaining == 0 {
			break
		}
		if len(ready) == 0 {
			select {
			case <-s.wake:
			case <-ctx.Done():
				break dispatch
			}
			continue
		}
		for i, n := range ready {
			select {
			case work <- n:
			case <-ctx.Done():
				s.revertUndispatched(ready[i:])
				break dispatch
			}
		}
	}

	close(work)
	wg.Wait()

	s.emit(Event{Type: EventRunDone, Timestamp: time.Now()})
	return ctx.Err()
}

// collectReady marks dispatchable pending nodes as elaborating and returns
// them in decomposition order, along with the count of non-terminal nodes.
func (s *Scheduler) collectReady(doc *models.Document, order []string) ([]*models.ProcessNode, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []*models.ProcessNode
	remaining := 0
	for _, id := range order {
		n := doc.Node(id)
		if n.Status.Terminal() {
			continue
		}
		remaining++
		if n.Status != models.StatusPending {
			continue
		}
		if s.cfg.DependencyAware && !depsSettled(doc, n) {
			continue
		}
		if s.cfg.DependencyAware && anyDepFailed(doc, n) {
			n.DegradedContext = true
		}
		n.Status = models.StatusElaborating
		ready = append(ready, n)
	}
	return ready, remaining
}

func (s *Scheduler) revertUndispatched(nodes []*models.ProcessNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		n.Status = models.StatusPending
	}
}

func depsSettled(doc *models.Document, n *models.ProcessNode) bool {
	for _, depID := range n.DependsOn {
		if dep := doc.Node(depID); dep != nil && !dep.Status.Terminal() {
			return false
		}
	}
	return true
}

func anyDepFailed(doc *models.Document, n *models.ProcessNode) bool {
	for _, depID := range n.DependsOn {
		if dep := doc.Node(depID); dep != nil && dep.Status == models.StatusFailed {
			return true
		}
	}
	return false
}

// elaborate drives one node to a terminal state, or back to pending when the
// run is cancelled under the attempt cap.
func (s *Scheduler) elaborate(ctx context.Context, doc *models.Document, n *models.ProcessNode) {
	if ctx.Err() != nil {
		s.setPending(n)
		return
	}

	fp := NodeFingerprint(doc, n)

	for {
		entry, hit, err := s.store.Get(fp)
		if err != nil {
			log.Printf("[elaborate] cache lookup failed for %q: %v", n.Title, err)
		}
		if hit {
			s.finishDone(n, entry, true)
			return
		}

		if n.Attempts == 0 {
			s.emit(Event{Type: EventStarted, NodeID: n.ID, Title: n.Title, Timestamp: time.Now()})
		}

		result, err, _ := s.flight.Do(fp, func() (interface{}, error) {
			return s.callOnce(ctx, doc, n, fp)
		})

		s.mu.Lock()
		n.Attempts++
		attempts := n.Attempts
		s.mu.Unlock()

		if err == nil {
			s.finishDone(n, result.(*cache.Entry), false)
			return
		}

		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if attempts >= s.cfg.MaxRetries {
				s.finishFailed(n, models.FailureRetriesExhausted, err)
			} else {
				s.setPending(n)
			}
			return
		}

		if !genai.IsTransient(err) {
			s.finishFailed(n, models.FailureMalformedElaboration, err)
			return
		}

		if attempts >= s.cfg.MaxRetries {
			s.finishFailed(n, models.FailureRetriesExhausted, err)
			return
		}

		delay := Backoff(attempts, s.cfg.BackoffBase, s.cfg.BackoffCap)
		s.emit(Event{Type: EventRetry, NodeID: n.ID, Title: n.Title, Attempt: attempts, Err: err.Error(), Timestamp: time.Now()})
		if serr := s.sleep(ctx, delay); serr != nil {
			s.setPending(n)
			return
		}
	}
}

// callOnce issues a single generation call, parses the result and writes it
// through to the cache. Concurrent callers with the same fingerprint share
// one invocation via singleflight.
func (s *Scheduler) callOnce(ctx context.Context, doc *models.Document, n *models.ProcessNode, fp string) (*cache.Entry, error) {
	resp, err := s.gen.Generate(ctx, genai.Request{
		Role:      ratelimit.RoleElaboration,
		Model:     s.cfg.Model,
		System:    elaborationSystem,
		Prompt:    BuildPrompt(doc, n, s.depSummaries(doc, n)),
		MaxTokens: maxResponseTokens,
	})
	if err != nil {
		return nil, err
	}

	entry, err := ParseResponse(fp, resp.Text)
	if err != nil {
		return nil, genai.PermanentError("malformed_elaboration", err)
	}

	if err := s.store.Put(entry); err != nil {
		log.Printf("[elaborate] cache write failed for %q: %v", n.Title, err)
	}
	return entry, nil
}

// depSummaries snapshots the settled dependencies of n under the scheduler
// lock. Without dependency-aware dispatch a dependency may still be
// mid-elaboration on another worker, so its fields must not be read at all
// and the prompt stands on the node alone.
func (s *Scheduler) depSummaries(doc *models.Document, n *models.ProcessNode) []DepSummary {
	if !s.cfg.DependencyAware || len(n.DependsOn) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deps []DepSummary
	for _, depID := range n.DependsOn {
		dep := doc.Node(depID)
		if dep == nil || dep.Status != models.StatusDone || dep.Description == "" {
			continue
		}
		deps = append(deps, DepSummary{Title: dep.Title, Description: dep.Description})
	}
	return deps
}

func (s *Scheduler) finishDone(n *models.ProcessNode, entry *cache.Entry, cached bool) {
	s.mu.Lock()
	n.Status = models.StatusDone
	n.Category = entry.Category
	n.Priority = entry.Priority
	n.EstimatedDuration = entry.EstimatedDuration
	n.Description = entry.Description
	attempts := n.Attempts
	s.mu.Unlock()

	typ := EventDone
	if cached {
		typ = EventCacheHit
	}
	s.emit(Event{Type: typ, NodeID: n.ID, Title: n.Title, Attempt: attempts, Timestamp: time.Now()})
}

func (s *Scheduler) finishFailed(n *models.ProcessNode, reason models.FailureReason, err error) {
	s.mu.Lock()
	n.Status = models.StatusFailed
	n.FailureReason = reason
	attempts := n.Attempts
	s.mu.Unlock()

	s.emit(Event{Type: EventFailed, NodeID: n.ID, Title: n.Title, Attempt: attempts, Err: err.Error(), Timestamp: time.Now()})
}

func (s *Scheduler) setPending(n *models.ProcessNode) {
	s.mu.Lock()
	n.Status = models.StatusPending
	s.mu.Unlock()
}

func (s *Scheduler) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
