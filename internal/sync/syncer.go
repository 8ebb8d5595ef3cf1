// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

// Package sync implements the incremental synchronization primitive, the
// read-through cache reader, and the bulk multi-tenant orchestrator.
//
// A sync pass is a full reconciliation of one scope: fetch every remote page,
// diff the remote key set against the local one, upsert what exists remotely
// and soft-delete what no longer does. Passes are idempotent; a re-run over
// an unchanged remote set updates rows in place and deletes nothing.
package sync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmfalke/erpsync/internal/config"
	"github.com/jmfalke/erpsync/internal/database"
	"github.com/jmfalke/erpsync/internal/erp"
	"github.com/jmfalke/erpsync/internal/logging"
	"github.com/jmfalke/erpsync/internal/metrics"
	"github.com/jmfalke/erpsync/internal/models"
)

// maxFetchPages is a hard stop against a remote endpoint that keeps returning
// full pages forever (broken pagination). 10k pages at the default page size
// is ten million records, far beyond any real scope.
const maxFetchPages = 10000

// Syncer runs incremental sync passes for single scopes.
type Syncer struct {
	client   erp.ClientInterface
	db       *database.DB
	pageSize int
	cfg      config.SyncConfig

	// now is swapped in tests for deterministic timestamps.
	now func() time.Time
}

// NewSyncer creates a sync primitive over the given client and store.
func NewSyncer(client erp.ClientInterface, db *database.DB, erpCfg config.ERPConfig, syncCfg config.SyncConfig) *Syncer {
	return &Syncer{
		client:   client,
		db:       db,
		pageSize: erpCfg.PageSize,
		cfg:      syncCfg,
		now:      time.Now,
	}
}

// Sync reconciles one scope against the remote API and returns the outcome.
//
// The pass never mutates local state on fetch failure: a transport error, a
// non-200 status, or a remote-reported error aborts before the first write
// and the prior local state stays intact.
//
// After fetching, a failed upsert batch is logged and skipped; its records
// are excluded from the counts and the pass carries on through the remaining
// batches and deletion reconciliation. Reconciliation diffs against the
// fetched key set, not the committed one, so a record whose batch failed is
// never soft-deleted.
//
// Deletion reconciliation runs only on unfiltered passes. A date filter
// yields a partial remote view; records outside the window are absent from
// the response, not deleted, so a filtered pass reports Deleted=0 always.
func (s *Syncer) Sync(ctx context.Context, scope models.SyncScope, filter *models.DateFilter) models.SyncResult {
	started := s.now()

	logging.Info().
		Str("scope", scope.String()).
		Bool("filtered", filter != nil).
		Msg("sync pass started")

	remote, dropped, err := s.fetchAll(ctx, scope, filter)
	if err != nil {
		metrics.SyncErrors.WithLabelValues("fetch").Inc()
		return failResult(fmt.Errorf("fetch: %w", err))
	}

	existing, err := s.db.LoadExistingKeys(ctx, scope, s.cfg.KeyPageSize)
	if err != nil {
		metrics.SyncErrors.WithLabelValues("load_keys").Inc()
		return failResult(fmt.Errorf("load existing keys: %w", err))
	}

	result := models.SyncResult{Success: true, Dropped: dropped, Fetched: len(remote) + dropped}
	now := s.now()

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	for start := 0; start < len(remote); start += batchSize {
		if err := ctx.Err(); err != nil {
			return failResult(fmt.Errorf("upsert batch at %d: %w", start, err))
		}

		end := start + batchSize
		if end > len(remote) {
			end = len(remote)
		}
		batch := remote[start:end]
		metrics.SyncBatchSize.Observe(float64(len(batch)))

		if err := s.db.UpsertBatch(ctx, scope, batch, now); err != nil {
			// One bad batch must not block the rest of the scope. Its
			// transaction rolled back, so its records are excluded from
			// the counts; earlier batches stay committed.
			metrics.SyncErrors.WithLabelValues("upsert").Inc()
			logging.Error().Err(err).
				Str("scope", scope.String()).
				Int("batch_start", start).
				Int("batch_size", len(batch)).
				Msg("batch upsert failed, continuing with next batch")
			continue
		}

		// Classify against the pre-pass key set, per committed batch.
		for _, rec := range batch {
			if existing[rec.Key] {
				result.Updated++
			} else {
				result.Inserted++
			}
		}
	}

	if filter == nil {
		deleted, err := s.reconcileDeletes(ctx, scope, remote, existing, now)
		if err != nil {
			metrics.SyncErrors.WithLabelValues("soft_delete").Inc()
			return failResult(fmt.Errorf("soft delete: %w", err))
		}
		result.Deleted = deleted
	}

	duration := s.now().Sub(started)
	metrics.RecordSyncOperation(duration, result.Inserted, result.Updated, result.Deleted, result.Dropped)

	logging.Info().
		Str("scope", scope.String()).
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("deleted", result.Deleted).
		Int("dropped", result.Dropped).
		Dur("duration", duration).
		Msg("sync pass completed")

	return result
}

// fetchAll pages through the entire remote set for a scope. Rows without a
// usable dia_key are dropped and counted; duplicate keys keep the last
// occurrence so a record shifted across a page boundary is not double-counted.
func (s *Syncer) fetchAll(ctx context.Context, scope models.SyncScope, filter *models.DateFilter) ([]models.RemoteRecord, int, error) {
	pageSize := s.pageSize
	if pageSize <= 0 {
		pageSize = 1000
	}

	byKey := make(map[int64]models.RemoteRecord)
	order := make([]int64, 0)
	dropped := 0
	complete := false

	for page := 0; page < maxFetchPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		start := page * pageSize
		resp, err := s.client.FetchRecords(ctx, scope, filter, start, pageSize)
		if err != nil {
			return nil, 0, err
		}

		for _, rec := range resp.Rows {
			if !rec.HasKey {
				dropped++
				continue
			}
			if _, seen := byKey[rec.Key]; !seen {
				order = append(order, rec.Key)
			}
			byKey[rec.Key] = rec
		}

		if len(resp.Rows) < pageSize {
			complete = true
			break
		}
	}

	// A listing that never terminates is a truncated view, not a full one.
	// Treating it as complete would soft-delete every record past the cap,
	// so the pass aborts with no local mutation instead.
	if !complete {
		return nil, 0, fmt.Errorf("remote listing still returning full pages after %d pages, aborting", maxFetchPages)
	}

	records := make([]models.RemoteRecord, 0, len(order))
	for _, key := range order {
		records = append(records, byKey[key])
	}
	return records, dropped, nil
}

// reconcileDeletes soft-deletes local keys absent from the full remote set.
func (s *Syncer) reconcileDeletes(ctx context.Context, scope models.SyncScope, remote []models.RemoteRecord, existing map[int64]bool, now time.Time) (int, error) {
	remoteKeys := make(map[int64]bool, len(remote))
	for _, rec := range remote {
		remoteKeys[rec.Key] = true
	}

	var stale []int64
	for key := range existing {
		if !remoteKeys[key] {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })

	return s.db.SoftDeleteKeys(ctx, scope, stale, now)
}

func failResult(err error) models.SyncResult {
	return models.SyncResult{Success: false, Error: err.Error()}
}
