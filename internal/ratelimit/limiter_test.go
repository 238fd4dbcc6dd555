package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestLimiter_UnknownRole(t *testing.T) {
	l := New(map[Role]Budget{RoleElaboration: {MaxInFlight: 1}})

	_, err := l.Acquire(context.Background(), RoleDecomposition)
	if !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("Acquire() = %v, want ErrUnknownRole", err)
	}
}

func TestLimiter_InFlightCeiling(t *testing.T) {
	l := New(map[Role]Budget{RoleElaboration: {MaxInFlight: 2}})
	ctx := context.Background()

	p1, err := l.Acquire(ctx, RoleElaboration)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	p2, err := l.Acquire(ctx, RoleElaboration)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if got := l.InFlight(RoleElaboration); got != 2 {
		t.Fatalf("InFlight = %d, want 2", got)
	}

	// Third acquire must block until a release.
	blockedCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(blockedCtx, RoleElaboration); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("blocked Acquire = %v, want DeadlineExceeded", err)
	}

	if err := l.Release(p1); err != nil {
		t.Fatalf("Release: %v", err)
	}
	p3, err := l.Acquire(ctx, RoleElaboration)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = l.Release(p2)
	_ = l.Release(p3)
}

func TestLimiter_WindowNeverExceeded(t *testing.T) {
	const (
		perWindow = 5
		window    = 200 * time.Millisecond
		total     = 18
		workers   = 6
	)

	l := New(map[Role]Budget{RoleElaboration: {
		CallsPerWindow: perWindow,
		Window:         window,
		MaxInFlight:    workers,
	}})

	var mu sync.Mutex
	var starts []time.Time

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	work := make(chan struct{}, total)
	for i := 0; i < total; i++ {
		work <- struct{}{}
	}
	close(work)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range work {
				p, err := l.Acquire(ctx, RoleElaboration)
				if err != nil {
					t.Errorf("Acquire: %v", err)
					return
				}
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				_ = l.Release(p)
			}
		}()
	}
	wg.Wait()

	if len(starts) != total {
		t.Fatalf("recorded %d starts, want %d", len(starts), total)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	// No sliding window of the configured size may contain more than
	// perWindow starts. A small tolerance absorbs timestamping skew between
	// the limiter clock and the recorded clock.
	const slack = 20 * time.Millisecond
	for i := 0; i+perWindow < len(starts); i++ {
		span := starts[i+perWindow].Sub(starts[i])
		if span < window-slack {
			t.Fatalf("calls %d..%d landed within %v, window is %v", i, i+perWindow, span, window)
		}
	}
}

func TestLimiter_ReclaimAfterMaxHold(t *testing.T) {
	l := New(map[Role]Budget{RoleElaboration: {
		MaxInFlight: 1,
		MaxHold:     30 * time.Millisecond,
	}})
	ctx := context.Background()

	stuck, err := l.Acquire(ctx, RoleElaboration)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// The stuck permit is reclaimed, so a second acquire succeeds.
	acquireCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	p2, err := l.Acquire(acquireCtx, RoleElaboration)
	if err != nil {
		t.Fatalf("Acquire after reclaim: %v", err)
	}
	defer func() { _ = l.Release(p2) }()

	// Releasing the reclaimed permit reports failed-timeout.
	if err := l.Release(stuck); !errors.Is(err, ErrPermitReclaimed) {
		t.Fatalf("Release(stuck) = %v, want ErrPermitReclaimed", err)
	}
}

func TestLimiter_IndependentRoleBudgets(t *testing.T) {
	l := New(map[Role]Budget{
		RoleDecomposition: {MaxInFlight: 1},
		RoleElaboration:   {MaxInFlight: 1},
	})
	ctx := context.Background()

	pd, err := l.Acquire(ctx, RoleDecomposition)
	if err != nil {
		t.Fatalf("Acquire decomposition: %v", err)
	}
	// Elaboration budget is unaffected by the held decomposition permit.
	pe, err := l.Acquire(ctx, RoleElaboration)
	if err != nil {
		t.Fatalf("Acquire elaboration: %v", err)
	}
	_ = l.Release(pd)
	_ = l.Release(pe)
}

func TestLimiter_ReleaseNil(t *testing.T) {
	l := New(nil)
	if err := l.Release(nil); err != nil {
		t.Fatalf("Release(nil) = %v, want nil", err)
	}
}
