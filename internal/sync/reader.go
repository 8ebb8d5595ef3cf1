// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/jmfalke/erpsync/internal/cache"
	"github.com/jmfalke/erpsync/internal/config"
	"github.com/jmfalke/erpsync/internal/database"
	"github.com/jmfalke/erpsync/internal/logging"
	"github.com/jmfalke/erpsync/internal/metrics"
	"github.com/jmfalke/erpsync/internal/models"
)

// RecordPage is the cached unit: one page of persisted records plus the scope
// total, so a cache hit needs no database round-trip at all.
type RecordPage struct {
	Records []models.PersistedRecord `json:"records"`
	Total   int                      `json:"total"`
	Stale   bool                     `json:"-"`
}

// Reader is the read-through layer serving dashboard queries.
//
// Read path, in order: fresh cache hit; stale cache hit (returned immediately
// while a background revalidation runs); fetched-registry hit (local database
// only, no remote call); full sync pass then database read. Only the last
// step spends remote API credits.
type Reader struct {
	store    *cache.Store
	registry *cache.FetchedRegistry
	stats    *cache.Stats
	syncer   *Syncer
	db       *database.DB
	cfg      *config.Config

	// inflight dedups concurrent revalidations per scope. Holding the
	// map mutex only around map ops keeps syncs themselves unserialized.
	mu       gosync.Mutex
	inflight map[string]bool
}

// NewReader wires the read-through layer.
func NewReader(store *cache.Store, registry *cache.FetchedRegistry, stats *cache.Stats, syncer *Syncer, db *database.DB, cfg *config.Config) *Reader {
	return &Reader{
		store:    store,
		registry: registry,
		stats:    stats,
		syncer:   syncer,
		db:       db,
		cfg:      cfg,
		inflight: make(map[string]bool),
	}
}

// GetRecords serves one page of records for a scope through the cache.
func (r *Reader) GetRecords(ctx context.Context, scope models.SyncScope, page, pageSize int) (*RecordPage, error) {
	key := pageKey(scope, page, pageSize)

	if data, stale := r.store.Get(key); data != nil {
		cached, ok := data.(*RecordPage)
		if ok {
			if stale {
				// Serve immediately; refresh in the background so the next
				// read within the expiry window sees fresh data.
				r.revalidateAsync(scope)
			}
			return &RecordPage{Records: cached.Records, Total: cached.Total, Stale: stale}, nil
		}
		// Shouldn't happen; treat a foreign type as a miss.
		logging.Warn().Str("key", key).Msg("unexpected cache entry type")
	}

	scopeKey := scope.CacheKey()
	if r.registry.Has(scopeKey) {
		// Already fetched this session: the local store is authoritative,
		// skip the remote call even though the cache entry expired.
		r.stats.RecordDedupedFetch()
		metrics.DedupedFetches.Inc()
		return r.loadAndCache(ctx, scope, page, pageSize)
	}

	result := r.syncScope(ctx, scope)
	if !result.Success {
		return nil, fmt.Errorf("sync %s: %s", scope, result.Error)
	}
	r.registry.Mark(scopeKey)

	return r.loadAndCache(ctx, scope, page, pageSize)
}

// Refresh forces a real remote fetch for a scope: the registry marker and all
// cached pages are dropped, then a fresh sync pass runs.
func (r *Reader) Refresh(ctx context.Context, scope models.SyncScope) (models.SyncResult, error) {
	scopeKey := scope.CacheKey()
	r.registry.Unmark(scopeKey)
	r.store.Invalidate(scopeKey)

	result := r.syncScope(ctx, scope)
	if !result.Success {
		return result, fmt.Errorf("refresh %s: %s", scope, result.Error)
	}
	r.registry.Mark(scopeKey)
	return result, nil
}

// SyncScope runs a sync pass for a scope and invalidates its cached pages.
// Used by the orchestrator so bulk-synced data is immediately visible.
func (r *Reader) SyncScope(ctx context.Context, scope models.SyncScope, filter *models.DateFilter) models.SyncResult {
	result := r.syncer.Sync(ctx, scope, filter)
	if result.Success {
		r.stats.RecordRemoteCall(scope.CacheKey())
		r.registry.Mark(scope.CacheKey())
		r.store.Invalidate(scope.CacheKey())
	}
	return result
}

// OnUserChange flushes all session state. Data cached for one identity must
// never be served to another, so both the cache and the registry go.
func (r *Reader) OnUserChange() {
	r.store.ClearAll()
	r.registry.Clear()
}

// Stats returns a snapshot of the fetch/cache counters.
func (r *Reader) Stats() models.StatsSnapshot {
	return r.stats.Snapshot()
}

// syncScope runs a sync pass and records the remote call in session stats.
func (r *Reader) syncScope(ctx context.Context, scope models.SyncScope) models.SyncResult {
	result := r.syncer.Sync(ctx, scope, nil)
	if result.Success {
		r.stats.RecordRemoteCall(scope.CacheKey())
	}
	return result
}

// loadAndCache reads a page from the database and caches it under the
// source's TTL.
func (r *Reader) loadAndCache(ctx context.Context, scope models.SyncScope, page, pageSize int) (*RecordPage, error) {
	offset := (page - 1) * pageSize

	records, err := r.db.QueryRecords(ctx, scope, false, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	total, err := r.db.CountRecords(ctx, scope, false)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	result := &RecordPage{Records: records, Total: total}
	r.store.Put(pageKey(scope, page, pageSize), result, r.ttlFor(scope.SourceSlug))
	return result, nil
}

// revalidateAsync refreshes a scope in the background, at most one
// revalidation per scope at a time.
func (r *Reader) revalidateAsync(scope models.SyncScope) {
	scopeKey := scope.CacheKey()

	r.mu.Lock()
	if r.inflight[scopeKey] {
		r.mu.Unlock()
		return
	}
	r.inflight[scopeKey] = true
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.inflight, scopeKey)
			r.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		result := r.syncScope(ctx, scope)
		if !result.Success {
			logging.Warn().Str("scope", scope.String()).Str("error", result.Error).
				Msg("background revalidation failed, stale data remains served")
			return
		}

		// Drop the stale pages; the next read repopulates from the fresh
		// local store without another remote call.
		r.store.Invalidate(scopeKey)
		logging.Debug().Str("scope", scope.String()).Msg("background revalidation completed")
	}()
}

// ttlFor resolves the per-source TTL override, falling back to the default.
func (r *Reader) ttlFor(slug string) time.Duration {
	return r.cfg.SourceTTL(slug)
}

func pageKey(scope models.SyncScope, page, pageSize int) string {
	return fmt.Sprintf("%s|p%d|n%d", scope.CacheKey(), page, pageSize)
}
