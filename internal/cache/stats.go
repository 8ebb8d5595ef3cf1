// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package cache

import (
	"sync"
	"time"

	"github.com/jmfalke/erpsync/internal/models"
)

// Stats counts cache hits/misses, real remote calls, and per-source fetch
// timestamps. It backs the stats endpoint and is how the fetch-dedup behavior
// is verified: remoteCalls must not grow when hits or deduped fetches do.
type Stats struct {
	mu             sync.RWMutex
	cacheHits      int64
	cacheMisses    int64
	staleHits      int64
	remoteCalls    int64
	dedupedFetches int64
	lastFetched    map[string]time.Time
}

// NewStats creates an empty stats collector.
func NewStats() *Stats {
	return &Stats{lastFetched: make(map[string]time.Time)}
}

func (s *Stats) recordHit() {
	s.mu.Lock()
	s.cacheHits++
	s.mu.Unlock()
}

func (s *Stats) recordStaleHit() {
	s.mu.Lock()
	s.staleHits++
	s.mu.Unlock()
}

func (s *Stats) recordMiss() {
	s.mu.Lock()
	s.cacheMisses++
	s.mu.Unlock()
}

// RecordRemoteCall counts one real remote API call for a source and stamps
// its fetch time.
func (s *Stats) RecordRemoteCall(sourceID string) {
	s.mu.Lock()
	s.remoteCalls++
	s.lastFetched[sourceID] = time.Now()
	s.mu.Unlock()
}

// RecordDedupedFetch counts a remote call avoided via the fetched registry.
func (s *Stats) RecordDedupedFetch() {
	s.mu.Lock()
	s.dedupedFetches++
	s.mu.Unlock()
}

// RemoteCalls returns the number of real remote calls recorded.
func (s *Stats) RemoteCalls() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remoteCalls
}

// Snapshot returns a point-in-time copy of all counters.
func (s *Stats) Snapshot() models.StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	last := make(map[string]time.Time, len(s.lastFetched))
	for k, v := range s.lastFetched {
		last[k] = v
	}

	return models.StatsSnapshot{
		CacheHits:      s.cacheHits,
		CacheMisses:    s.cacheMisses,
		StaleHits:      s.staleHits,
		RemoteCalls:    s.remoteCalls,
		DedupedFetches: s.dedupedFetches,
		LastFetched:    last,
	}
}

// Reset zeroes all counters. Used on manual refresh so the next page of
// stats reflects the new session.
func (s *Stats) Reset() {
	s.mu.Lock()
	s.cacheHits = 0
	s.cacheMisses = 0
	s.staleHits = 0
	s.remoteCalls = 0
	s.dedupedFetches = 0
	s.lastFetched = make(map[string]time.Time)
	s.mu.Unlock()
}
