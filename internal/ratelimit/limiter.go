// Package ratelimit provides the shared process-wide gate that bounds
// outbound generation calls per sliding time window and per-call concurrency.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Role identifies which call budget a caller draws from. Decomposition and
// elaboration share the limiter but carry independent budgets.
type Role string

const (
	// RoleDecomposition covers the document decomposition call(s).
	RoleDecomposition Role = "decomposition"
	// RoleElaboration covers per-node elaboration calls.
	RoleElaboration Role = "elaboration"
)

// ErrPermitReclaimed is returned by Release when the permit was already
// reclaimed because the caller exceeded the maximum hold time. Callers must
// treat the associated call as failed-timeout.
var ErrPermitReclaimed = errors.New("ratelimit: permit reclaimed after max hold time")

// ErrUnknownRole is returned when no budget is configured for a role.
var ErrUnknownRole = errors.New("ratelimit: no budget configured for role")

// DefaultMaxHold is the permit hold ceiling applied when a budget does not
// set one.
const DefaultMaxHold = 5 * time.Minute

// Budget configures one role's call budget.
type Budget struct {
	// CallsPerWindow is the maximum number of calls started within any
	// sliding window of the configured size. Zero or negative disables the
	// window check.
	CallsPerWindow int
	// Window is the sliding window size.
	Window time.Duration
	// MaxInFlight is the concurrency ceiling. Zero or negative disables it.
	MaxInFlight int
	// MaxHold is how long a permit may be held before it is reclaimed.
	// Zero means DefaultMaxHold.
	MaxHold time.Duration
}

// Permit represents one authorized call. It must be released in all
// outcomes, success and failure alike.
type Permit struct {
	role     Role
	id       uint64
	issuedAt time.Time
	deadline time.Time
}

// Role returns the role the permit was issued for.
func (p *Permit) Role() Role { return p.role }

type roleState struct {
	budget   Budget
	starts   []time.Time        // call start times inside the current window
	inflight map[uint64]*Permit // outstanding permits by id
}

// Limiter gates calls per role. Safe for concurrent use. Constructed once
// per run (or once per process when cross-run sharing is wanted) and torn
// down with the run; there is no ambient global instance.
type Limiter struct {
	mu     sync.Mutex
	roles  map[Role]*roleState
	nextID uint64
	wake   chan struct{}
	now    func() time.Time
}

// New creates a limiter with the given per-role budgets.
func New(budgets map[Role]Budget) *Limiter {
	roles := make(map[Role]*roleState, len(budgets))
	for role, b := range budgets {
		if b.MaxHold <= 0 {
			b.MaxHold = DefaultMaxHold
		}
		roles[role] = &roleState{
			budget:   b,
			inflight: make(map[uint64]*Permit),
		}
	}
	return &Limiter{
		roles: roles,
		wake:  make(chan struct{}, 1),
		now:   time.Now,
	}
}

// Acquire blocks until a call for the role is within budget or the context
// is done. The returned permit must be passed to Release afterwards.
func (l *Limiter) Acquire(ctx context.Context, role Role) (*Permit, error) {
	for {
		permit, wait, err := l.tryAcquire(role)
		if err != nil {
			return nil, err
		}
		if permit != nil {
			return permit, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-l.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// tryAcquire attempts a non-blocking acquisition. When capacity is
// unavailable it returns the duration after which capacity may free up.
func (l *Limiter) tryAcquire(role Role) (*Permit, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rs, ok := l.roles[role]
	if !ok {
		return nil, 0, ErrUnknownRole
	}

	now := l.now()
	l.reclaimLocked(rs, now)
	l.pruneLocked(rs, now)

	wait := rs.budget.Window
	if wait <= 0 {
		wait = time.Second
	}

	if rs.budget.MaxInFlight > 0 && len(rs.inflight) >= rs.budget.MaxInFlight {
		// Capacity frees on Release or when the earliest permit expires.
		earliest := now.Add(wait)
		for _, p := range rs.inflight {
			if p.deadline.Before(earliest) {
				earliest = p.deadline
			}
		}
		if d := earliest.Sub(now); d > 0 {
			wait = d
		} else {
			wait = time.Millisecond
		}
		return nil, wait, nil
	}

	if rs.budget.CallsPerWindow > 0 && rs.budget.Window > 0 && len(rs.starts) >= rs.budget.CallsPerWindow {
		// The oldest recorded start leaving the window frees a slot.
		d := rs.starts[0].Add(rs.budget.Window).Sub(now)
		if d <= 0 {
			d = time.Millisecond
		}
		return nil, d, nil
	}

	l.nextID++
	permit := &Permit{
		role:     role,
		id:       l.nextID,
		issuedAt: now,
		deadline: now.Add(rs.budget.MaxHold),
	}
	rs.inflight[permit.id] = permit
	if rs.budget.CallsPerWindow > 0 && rs.budget.Window > 0 {
		rs.starts = append(rs.starts, now)
	}
	return permit, 0, nil
}

// Release returns the permit's concurrency slot. If the permit was already
// reclaimed (held past MaxHold) it returns ErrPermitReclaimed and the caller
// must treat the call as failed-timeout.
func (l *Limiter) Release(permit *Permit) error {
	if permit == nil {
		return nil
	}

	l.mu.Lock()
	rs, ok := l.roles[permit.role]
	if !ok {
		l.mu.Unlock()
		return ErrUnknownRole
	}
	_, held := rs.inflight[permit.id]
	delete(rs.inflight, permit.id)
	l.mu.Unlock()

	l.signal()

	if !held {
		return ErrPermitReclaimed
	}
	return nil
}

// InFlight returns the number of outstanding permits for a role.
func (l *Limiter) InFlight(role Role) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rs, ok := l.roles[role]; ok {
		return len(rs.inflight)
	}
	return 0
}

// reclaimLocked drops permits held past their deadline so a stuck caller
// cannot starve the limiter. Caller must hold l.mu.
func (l *Limiter) reclaimLocked(rs *roleState, now time.Time) {
	for id, p := range rs.inflight {
		if now.After(p.deadline) {
			delete(rs.inflight, id)
		}
	}
}

// pruneLocked discards window entries older than the window. Caller must
// hold l.mu.
func (l *Limiter) pruneLocked(rs *roleState, now time.Time) {
	if rs.budget.Window <= 0 {
		return
	}
	cutoff := now.Add(-rs.budget.Window)
	i := 0
	for i < len(rs.starts) && !rs.starts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rs.starts = append(rs.starts[:0], rs.starts[i:]...)
	}
}

// signal wakes one blocked Acquire without blocking the releaser.
func (l *Limiter) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
