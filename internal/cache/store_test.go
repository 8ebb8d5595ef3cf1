// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package cache

import (
	"testing"
	"time"
)

// newTestStore returns a store with a controllable clock and no real cleanup
// pressure during the test.
func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()

	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(time.Hour, NewStats())
	s.now = func() time.Time { return current }
	t.Cleanup(s.Close)
	return s, &current
}

func TestStoreFreshHit(t *testing.T) {
	s, clock := newTestStore(t)
	ttl := 10 * time.Minute

	s.Put("k", "v", ttl)

	// At half the TTL the entry is still fresh.
	*clock = clock.Add(5 * time.Minute)
	data, stale := s.Get("k")
	if data != "v" {
		t.Fatalf("expected cached value, got %v", data)
	}
	if stale {
		t.Error("entry at 0.5*TTL should not be stale")
	}
}

func TestStoreStaleWindow(t *testing.T) {
	s, clock := newTestStore(t)
	ttl := 10 * time.Minute

	s.Put("k", "v", ttl)

	// Just past 0.8*TTL the entry is returnable but stale.
	*clock = clock.Add(9 * time.Minute)
	data, stale := s.Get("k")
	if data != "v" {
		t.Fatalf("expected stale value, got %v", data)
	}
	if !stale {
		t.Error("entry at 0.9*TTL should be stale")
	}

	// Exactly at 0.8*TTL it is still fresh.
	s.Put("k2", "v2", ttl)
	*clock = clock.Add(8 * time.Minute)
	if _, stale := s.Get("k2"); stale {
		t.Error("entry at exactly 0.8*TTL should still be fresh")
	}
}

func TestStoreExpiry(t *testing.T) {
	s, clock := newTestStore(t)
	ttl := 10 * time.Minute

	s.Put("k", "v", ttl)

	// Past 2*TTL the entry is gone.
	*clock = clock.Add(21 * time.Minute)
	data, stale := s.Get("k")
	if data != nil {
		t.Fatalf("expected nil past expiry window, got %v", data)
	}
	if stale {
		t.Error("expired entry must not report stale")
	}
	if s.Len() != 0 {
		t.Errorf("expected expired entry to be evicted on read, len=%d", s.Len())
	}
}

func TestStorePutResetsAge(t *testing.T) {
	s, clock := newTestStore(t)
	ttl := 10 * time.Minute

	s.Put("k", "v1", ttl)
	*clock = clock.Add(9 * time.Minute)

	// Overwriting restarts the freshness window.
	s.Put("k", "v2", ttl)
	data, stale := s.Get("k")
	if data != "v2" {
		t.Fatalf("expected overwritten value, got %v", data)
	}
	if stale {
		t.Error("freshly re-put entry should not be stale")
	}
}

func TestStoreInvalidatePattern(t *testing.T) {
	s, _ := newTestStore(t)
	ttl := time.Minute

	s.Put("srv1|acme|2026|invoices|p1|n50", 1, ttl)
	s.Put("srv1|acme|2026|orders|p1|n50", 2, ttl)
	s.Put("srv1|globex|2026|invoices|p1|n50", 3, ttl)

	removed := s.Invalidate("srv1|acme|2026")
	if removed != 2 {
		t.Errorf("expected 2 entries invalidated, got %d", removed)
	}
	if _, stale := s.Get("srv1|globex|2026|invoices|p1|n50"); stale {
		t.Error("other tenant's entry should be untouched")
	}
	if data, _ := s.Get("srv1|acme|2026|orders|p1|n50"); data != nil {
		t.Error("invalidated entry still present")
	}
}

func TestStoreInvalidateAll(t *testing.T) {
	s, _ := newTestStore(t)

	s.Put("a", 1, time.Minute)
	s.Put("b", 2, time.Minute)

	if removed := s.Invalidate(""); removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, len=%d", s.Len())
	}
}

func TestStoreClearAll(t *testing.T) {
	s, _ := newTestStore(t)

	s.Put("tenantA|invoices", 1, time.Minute)
	s.Put("tenantB|invoices", 2, time.Minute)

	s.ClearAll()

	if s.Len() != 0 {
		t.Fatalf("expected empty store after ClearAll, len=%d", s.Len())
	}
	if data, _ := s.Get("tenantA|invoices"); data != nil {
		t.Error("ClearAll must remove every entry")
	}
}

func TestStoreEvictExpired(t *testing.T) {
	s, clock := newTestStore(t)

	s.Put("short", 1, time.Minute)
	s.Put("long", 2, time.Hour)

	*clock = clock.Add(5 * time.Minute)
	s.evictExpired()

	if s.Len() != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", s.Len())
	}
	if data, _ := s.Get("long"); data != 2 {
		t.Error("long-TTL entry should survive cleanup")
	}
}

func TestStoreStatsAccounting(t *testing.T) {
	stats := NewStats()
	s := NewStore(time.Hour, stats)
	t.Cleanup(s.Close)
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	s.Put("k", "v", 10*time.Minute)

	s.Get("k")                            // fresh hit
	current = current.Add(9 * time.Minute)
	s.Get("k")                            // stale hit
	s.Get("missing")                      // miss

	snap := stats.Snapshot()
	if snap.CacheHits != 1 {
		t.Errorf("expected 1 hit, got %d", snap.CacheHits)
	}
	if snap.StaleHits != 1 {
		t.Errorf("expected 1 stale hit, got %d", snap.StaleHits)
	}
	if snap.CacheMisses != 1 {
		t.Errorf("expected 1 miss, got %d", snap.CacheMisses)
	}
}
