package cache

import (
	"path/filepath"
	"testing"
)

func TestMemory_GetPut(t *testing.T) {
	m := NewMemory()

	if _, ok, _ := m.Get("missing"); ok {
		t.Fatal("Get on empty store should miss")
	}

	entry := &Entry{
		Fingerprint:       "fp1",
		Category:          "operations",
		Priority:          2,
		EstimatedDuration: "15 minutes",
		Description:       "do the thing",
	}
	if err := m.Put(entry); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := m.Get("fp1")
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v)", ok, err)
	}
	if got.Description != "do the thing" || got.Priority != 2 {
		t.Errorf("Get returned %+v", got)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}

	// The returned entry is a copy; mutating it must not poison the store.
	got.Description = "mutated"
	again, _, _ := m.Get("fp1")
	if again.Description != "do the thing" {
		t.Error("store entry was mutated through the returned copy")
	}
}

func TestSQLite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	if _, ok, err := s.Get("fp1"); err != nil || ok {
		t.Fatalf("Get on empty db = (%v, %v)", ok, err)
	}

	entry := &Entry{Fingerprint: "fp1", Category: "ops", Priority: 1, EstimatedDuration: "1 hour", Description: "first"}
	if err := s.Put(entry); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get("fp1")
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v)", ok, err)
	}
	if got.Description != "first" || got.Category != "ops" {
		t.Errorf("Get returned %+v", got)
	}

	// Upsert replaces the elaborated fields.
	entry.Description = "second"
	if err := s.Put(entry); err != nil {
		t.Fatalf("Put upsert: %v", err)
	}
	got, _, _ = s.Get("fp1")
	if got.Description != "second" {
		t.Errorf("after upsert Description = %q", got.Description)
	}

	n, err := s.Count()
	if err != nil || n != 1 {
		t.Errorf("Count = (%d, %v), want (1, nil)", n, err)
	}
}

func TestSQLite_Purge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	_ = s.Put(&Entry{Fingerprint: "a"})
	_ = s.Put(&Entry{Fingerprint: "b"})

	removed, err := s.Purge(0)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removed != 2 {
		t.Errorf("Purge removed %d, want 2", removed)
	}
	if n, _ := s.Count(); n != 0 {
		t.Errorf("Count after purge = %d", n)
	}
}

func TestSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	_ = s.Put(&Entry{Fingerprint: "persist", Description: "survives restarts"})
	_ = s.Close()

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, ok, err := s2.Get("persist")
	if err != nil || !ok {
		t.Fatalf("Get after reopen = (%v, %v)", ok, err)
	}
	if got.Description != "survives restarts" {
		t.Errorf("Description = %q", got.Description)
	}
}
