// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package cache

import (
	"sort"
	"sync"
)

// FetchedRegistry records which logical sources have already been retrieved
// in the current session. It is orthogonal to TTL expiry: a marked source is
// not re-fetched on navigation even after its cache entry goes stale, until
// the registry is cleared by a manual refresh or a user-identity change.
//
// Markers never expire individually; the registry is only cleared wholesale.
type FetchedRegistry struct {
	mu      sync.RWMutex
	fetched map[string]bool
}

// NewFetchedRegistry creates an empty registry.
func NewFetchedRegistry() *FetchedRegistry {
	return &FetchedRegistry{fetched: make(map[string]bool)}
}

// Has reports whether the source was already fetched this session.
func (r *FetchedRegistry) Has(sourceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fetched[sourceID]
}

// Mark records the source as fetched.
func (r *FetchedRegistry) Mark(sourceID string) {
	r.mu.Lock()
	r.fetched[sourceID] = true
	r.mu.Unlock()
}

// Unmark removes a single source marker, forcing the next read of that
// source to hit the remote API. Used by targeted refresh.
func (r *FetchedRegistry) Unmark(sourceID string) {
	r.mu.Lock()
	delete(r.fetched, sourceID)
	r.mu.Unlock()
}

// All returns the sorted list of fetched source IDs.
func (r *FetchedRegistry) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.fetched))
	for id := range r.fetched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear empties the registry. Called on manual refresh and on the same
// user-identity-change trigger as Store.ClearAll.
func (r *FetchedRegistry) Clear() {
	r.mu.Lock()
	r.fetched = make(map[string]bool)
	r.mu.Unlock()
}
