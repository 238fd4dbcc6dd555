// Package cache provides the content-addressed elaboration cache. Entries
// are keyed by node fingerprint so semantically identical nodes are
// elaborated once.
package cache

import "sync"

// Entry is one cached elaboration result.
type Entry struct {
	// Fingerprint is the content-addressed key.
	Fingerprint string
	// Category, Priority, EstimatedDuration and Description are the
	// elaborated fields, reused verbatim on a hit.
	Category          string
	Priority          int
	EstimatedDuration string
	Description       string
}

// Store is the fingerprint cache contract shared by the in-memory and
// SQLite-backed implementations.
type Store interface {
	// Get returns the entry for a fingerprint, and whether it was present.
	Get(fingerprint string) (*Entry, bool, error)
	// Put inserts or replaces an entry.
	Put(e *Entry) error
	// Close releases underlying resources.
	Close() error
}

// Memory is a process-local Store. Safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

// Get implements Store.
func (m *Memory) Get(fingerprint string) (*Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[fingerprint]
	if !ok {
		return nil, false, nil
	}
	copied := e
	return &copied, true, nil
}

// Put implements Store.
func (m *Memory) Put(e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Fingerprint] = *e
	return nil
}

// Len returns the number of cached entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close implements Store. It is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }
