// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package sync

import (
	"context"
	"testing"
	"time"

	"github.com/jmfalke/erpsync/internal/cache"
	"github.com/jmfalke/erpsync/internal/config"
	"github.com/jmfalke/erpsync/internal/database"
	"github.com/jmfalke/erpsync/internal/models"
)

func newTestReader(t *testing.T, remote *fakeRemote, ttl time.Duration) (*Reader, *cache.Stats, *cache.Store, *cache.FetchedRegistry) {
	t.Helper()

	db, err := database.NewInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	stats := cache.NewStats()
	store := cache.NewStore(time.Hour, stats)
	t.Cleanup(store.Close)
	registry := cache.NewFetchedRegistry()

	cfg := &config.Config{
		Cache: config.CacheConfig{TTL: ttl, CleanupInterval: time.Hour},
		API:   config.APIConfig{DefaultPageSize: 50, MaxPageSize: 500},
	}

	syncer := NewSyncer(remote, db, config.ERPConfig{PageSize: 100}, config.SyncConfig{BatchSize: 100, KeyPageSize: 100})
	return NewReader(store, registry, stats, syncer, db, cfg), stats, store, registry
}

func TestReaderMissTriggersSync(t *testing.T) {
	remote := &fakeRemote{rows: []models.RemoteRecord{keyedRow(1), keyedRow(2)}}
	reader, stats, _, registry := newTestReader(t, remote, 10*time.Minute)
	scope := syncScope()

	page, err := reader.GetRecords(context.Background(), scope, 1, 50)
	if err != nil {
		t.Fatalf("GetRecords failed: %v", err)
	}
	if len(page.Records) != 2 || page.Total != 2 {
		t.Errorf("expected 2 records, got %d (total %d)", len(page.Records), page.Total)
	}
	if page.Stale {
		t.Error("fresh read must not be stale")
	}
	if stats.RemoteCalls() != 1 {
		t.Errorf("RemoteCalls = %d, want 1", stats.RemoteCalls())
	}
	if !registry.Has(scope.CacheKey()) {
		t.Error("scope must be marked fetched after a sync")
	}
}

func TestReaderCacheHitAvoidsEverything(t *testing.T) {
	remote := &fakeRemote{rows: []models.RemoteRecord{keyedRow(1)}}
	reader, stats, _, _ := newTestReader(t, remote, 10*time.Minute)
	scope := syncScope()
	ctx := context.Background()

	if _, err := reader.GetRecords(ctx, scope, 1, 50); err != nil {
		t.Fatalf("first read failed: %v", err)
	}
	fetchesAfterFirst := remote.fetchCalls

	if _, err := reader.GetRecords(ctx, scope, 1, 50); err != nil {
		t.Fatalf("second read failed: %v", err)
	}

	if remote.fetchCalls != fetchesAfterFirst {
		t.Error("cache hit must not touch the remote API")
	}
	if stats.RemoteCalls() != 1 {
		t.Errorf("RemoteCalls = %d, want 1", stats.RemoteCalls())
	}
	if stats.Snapshot().CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", stats.Snapshot().CacheHits)
	}
}

func TestReaderRegistryDedup(t *testing.T) {
	remote := &fakeRemote{rows: []models.RemoteRecord{keyedRow(1)}}
	reader, stats, store, _ := newTestReader(t, remote, 10*time.Minute)
	scope := syncScope()
	ctx := context.Background()

	if _, err := reader.GetRecords(ctx, scope, 1, 50); err != nil {
		t.Fatalf("first read failed: %v", err)
	}

	// Cache entry gone, but the scope stays marked as fetched this session:
	// the next read is served from the local store without a remote call.
	store.Invalidate("")
	fetchesBefore := remote.fetchCalls

	page, err := reader.GetRecords(ctx, scope, 1, 50)
	if err != nil {
		t.Fatalf("deduped read failed: %v", err)
	}
	if len(page.Records) != 1 {
		t.Errorf("expected local data, got %d records", len(page.Records))
	}
	if remote.fetchCalls != fetchesBefore {
		t.Error("registry-marked scope must not re-fetch")
	}
	if stats.Snapshot().DedupedFetches != 1 {
		t.Errorf("DedupedFetches = %d, want 1", stats.Snapshot().DedupedFetches)
	}
	if stats.RemoteCalls() != 1 {
		t.Errorf("RemoteCalls = %d, want 1", stats.RemoteCalls())
	}
}

func TestReaderRefreshForcesRemote(t *testing.T) {
	remote := &fakeRemote{rows: []models.RemoteRecord{keyedRow(1)}}
	reader, stats, _, _ := newTestReader(t, remote, 10*time.Minute)
	scope := syncScope()
	ctx := context.Background()

	if _, err := reader.GetRecords(ctx, scope, 1, 50); err != nil {
		t.Fatalf("first read failed: %v", err)
	}

	remote.rows = []models.RemoteRecord{keyedRow(1), keyedRow(2)}
	result, err := reader.Refresh(ctx, scope)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if result.Inserted != 1 || result.Updated != 1 {
		t.Errorf("unexpected refresh result: %+v", result)
	}
	if stats.RemoteCalls() != 2 {
		t.Errorf("RemoteCalls = %d, want 2", stats.RemoteCalls())
	}

	page, err := reader.GetRecords(ctx, scope, 1, 50)
	if err != nil {
		t.Fatalf("read after refresh failed: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("Total = %d, want 2 after refresh", page.Total)
	}
}

func TestReaderOnUserChange(t *testing.T) {
	remote := &fakeRemote{rows: []models.RemoteRecord{keyedRow(1)}}
	reader, stats, store, registry := newTestReader(t, remote, 10*time.Minute)
	scope := syncScope()
	ctx := context.Background()

	if _, err := reader.GetRecords(ctx, scope, 1, 50); err != nil {
		t.Fatalf("first read failed: %v", err)
	}

	reader.OnUserChange()

	if store.Len() != 0 {
		t.Error("identity change must clear the cache")
	}
	if registry.Has(scope.CacheKey()) {
		t.Error("identity change must clear the fetched registry")
	}

	// The next read goes back to the remote API.
	if _, err := reader.GetRecords(ctx, scope, 1, 50); err != nil {
		t.Fatalf("read after identity change failed: %v", err)
	}
	if stats.RemoteCalls() != 2 {
		t.Errorf("RemoteCalls = %d, want 2", stats.RemoteCalls())
	}
}

func TestReaderStaleServeWithBackgroundRevalidate(t *testing.T) {
	remote := &fakeRemote{rows: []models.RemoteRecord{keyedRow(1)}}
	ttl := 200 * time.Millisecond
	reader, stats, _, _ := newTestReader(t, remote, ttl)
	scope := syncScope()
	ctx := context.Background()

	if _, err := reader.GetRecords(ctx, scope, 1, 50); err != nil {
		t.Fatalf("first read failed: %v", err)
	}

	// Age the entry into the stale window (0.8*TTL .. 2*TTL).
	time.Sleep(170 * time.Millisecond)

	page, err := reader.GetRecords(ctx, scope, 1, 50)
	if err != nil {
		t.Fatalf("stale read failed: %v", err)
	}
	if !page.Stale {
		t.Fatal("read inside the stale window must report stale")
	}
	if len(page.Records) != 1 {
		t.Error("stale read must still serve data")
	}

	// The background revalidation performs one more remote sync.
	deadline := time.Now().Add(3 * time.Second)
	for stats.RemoteCalls() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if stats.RemoteCalls() != 2 {
		t.Errorf("RemoteCalls = %d, want 2 after revalidation", stats.RemoteCalls())
	}
}

func TestReaderSyncFailurePropagates(t *testing.T) {
	remote := &fakeRemote{err: errTest}
	reader, _, _, registry := newTestReader(t, remote, 10*time.Minute)
	scope := syncScope()

	if _, err := reader.GetRecords(context.Background(), scope, 1, 50); err == nil {
		t.Fatal("expected error when the sync pass fails")
	}
	if registry.Has(scope.CacheKey()) {
		t.Error("failed sync must not mark the scope fetched")
	}
}

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "remote unavailable" }
