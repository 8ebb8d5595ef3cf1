// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

// Package cache provides the in-memory read cache for dashboard data: a
// TTL store with stale-while-revalidate semantics, the session-scoped
// fetched registry, and fetch/cache statistics.
//
// The store and registry are process-wide shared state; all mutation goes
// through their own mutex-guarded APIs. Neither is durable across restarts.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/jmfalke/erpsync/internal/logging"
	"github.com/jmfalke/erpsync/internal/metrics"
)

// staleRatio is the fraction of TTL after which an entry is still returnable
// but reported stale, so callers can render immediately while a background
// revalidation proceeds.
const staleRatio = 0.8

// expiryFactor bounds how long a stale entry remains returnable. Past
// expiryFactor*TTL an entry is treated as absent and evicted.
const expiryFactor = 2

// entry is a cached item. createdAt is reset on every Put.
type entry struct {
	data      interface{}
	createdAt time.Time
	ttl       time.Duration
}

// Store is a thread-safe in-memory cache with per-entry TTL and a fixed
// staleness ratio. Entries age through three states: fresh (age <= 0.8*TTL),
// stale-but-returnable (age <= 2*TTL), evicted.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	stats   *Stats

	cleanupInterval time.Duration
	stopOnce        sync.Once
	stopChan        chan struct{}

	// now is swapped in tests to control entry age.
	now func() time.Time
}

// NewStore creates a cache store and starts its background cleanup loop.
// Call Close to stop the loop.
func NewStore(cleanupInterval time.Duration, stats *Stats) *Store {
	s := &Store{
		entries:         make(map[string]entry),
		stats:           stats,
		cleanupInterval: cleanupInterval,
		stopChan:        make(chan struct{}),
		now:             time.Now,
	}
	go s.cleanupLoop()
	return s
}

// Get returns the cached data for key and whether it is stale.
// Absent or fully expired entries return (nil, false).
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		s.stats.recordMiss()
		metrics.CacheMisses.Inc()
		return nil, false
	}

	age := s.now().Sub(e.createdAt)
	switch {
	case age <= time.Duration(staleRatio*float64(e.ttl)):
		s.stats.recordHit()
		metrics.CacheHits.Inc()
		return e.data, false

	case age <= expiryFactor*e.ttl:
		s.stats.recordStaleHit()
		metrics.CacheStaleHits.Inc()
		return e.data, true

	default:
		// Past the expiry window: treat as absent and drop the entry so the
		// cleanup loop does not have to race the read path.
		s.mu.Lock()
		if cur, still := s.entries[key]; still && cur.createdAt.Equal(e.createdAt) {
			delete(s.entries, key)
			metrics.CacheEvictions.Inc()
		}
		s.mu.Unlock()

		s.stats.recordMiss()
		metrics.CacheMisses.Inc()
		return nil, false
	}
}

// Put stores data under key with the given TTL, overwriting unconditionally
// and resetting the entry's age.
func (s *Store) Put(key string, data interface{}, ttl time.Duration) {
	s.mu.Lock()
	s.entries[key] = entry{data: data, createdAt: s.now(), ttl: ttl}
	metrics.CacheEntries.Set(float64(len(s.entries)))
	s.mu.Unlock()
}

// Invalidate removes all entries whose key contains the substring pattern.
// An empty pattern removes every entry. Used for targeted busts after writes.
func (s *Store) Invalidate(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if pattern == "" || strings.Contains(key, pattern) {
			delete(s.entries, key)
			removed++
		}
	}
	metrics.CacheEntries.Set(float64(len(s.entries)))

	if removed > 0 {
		logging.Debug().Str("pattern", pattern).Int("removed", removed).Msg("cache invalidated")
	}
	return removed
}

// ClearAll removes every entry. Called exactly when the active user identity
// changes (login, logout, impersonation switch): data cached for tenant A
// must never be visible to tenant B.
func (s *Store) ClearAll() {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = make(map[string]entry)
	metrics.CacheEntries.Set(0)
	s.mu.Unlock()

	logging.Info().Int("entries", n).Msg("cache cleared on identity change")
}

// Len returns the current number of entries, including stale ones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the background cleanup loop. Idempotent.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// cleanupLoop periodically evicts entries past the expiry window.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

// evictExpired removes entries older than expiryFactor*TTL.
func (s *Store) evictExpired() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, e := range s.entries {
		if now.Sub(e.createdAt) > expiryFactor*e.ttl {
			delete(s.entries, key)
			evicted++
		}
	}
	if evicted > 0 {
		metrics.CacheEvictions.Add(float64(evicted))
		metrics.CacheEntries.Set(float64(len(s.entries)))
		logging.Debug().Int("evicted", evicted).Int("remaining", len(s.entries)).Msg("cache cleanup")
	}
}
