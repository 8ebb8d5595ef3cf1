// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmfalke/erpsync/internal/metrics"
	"github.com/jmfalke/erpsync/internal/models"
)

// softDeleteChunk bounds the IN-list length of soft delete statements.
const softDeleteChunk = 500

// scopeWhere is the WHERE fragment matching one sync scope. The argument
// order is ServerName, CompanyCode, PeriodCode, SourceSlug everywhere.
const scopeWhere = `server_name = ? AND company_code = ? AND period_code = ? AND source_slug = ?`

func scopeArgs(scope models.SyncScope) []interface{} {
	return []interface{}{scope.ServerName, scope.CompanyCode, scope.PeriodCode, scope.SourceSlug}
}

// UpsertBatch inserts or updates one batch of remote records for a scope in
// a single transaction. An upserted record always comes back to life:
// is_deleted is reset so a record that reappears remotely is resurrected.
//
// Idempotent: re-running the same batch produces the same rows (modulo
// updated_at), so a failed pass is safe to retry.
func (db *DB) UpsertBatch(ctx context.Context, scope models.SyncScope, records []models.RemoteRecord, now time.Time) error {
	if len(records) == 0 {
		return nil
	}

	start := time.Now()
	err := db.upsertBatchTx(ctx, scope, records, now)
	metrics.ObserveDBQuery("upsert_batch", start, err)
	return err
}

func (db *DB) upsertBatchTx(ctx context.Context, scope models.SyncScope, records []models.RemoteRecord, now time.Time) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const upsert = `
INSERT INTO erp_records (server_name, company_code, period_code, source_slug, dia_key, payload, is_deleted, updated_at)
VALUES (?, ?, ?, ?, ?, ?, FALSE, ?)
ON CONFLICT (server_name, company_code, period_code, source_slug, dia_key)
DO UPDATE SET payload = excluded.payload, is_deleted = FALSE, updated_at = excluded.updated_at`

	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // best-effort cleanup

	for _, rec := range records {
		if !rec.HasKey {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			scope.ServerName, scope.CompanyCode, scope.PeriodCode, scope.SourceSlug,
			rec.Key, string(rec.Payload), now,
		); err != nil {
			return fmt.Errorf("upsert dia_key %d: %w", rec.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

// LoadExistingKeys returns the complete set of non-deleted remote keys
// persisted for a scope.
//
// The read is paginated internally and pages through ALL rows: the diff in
// the sync primitive is only correct against the full local key set, a
// partially loaded set would soft-delete records that merely fell past the
// first page.
func (db *DB) LoadExistingKeys(ctx context.Context, scope models.SyncScope, pageSize int) (map[int64]bool, error) {
	if pageSize <= 0 {
		pageSize = 10000
	}

	start := time.Now()
	keys := make(map[int64]bool)

	const query = `
SELECT dia_key FROM erp_records
WHERE ` + scopeWhere + ` AND NOT is_deleted
ORDER BY dia_key
LIMIT ? OFFSET ?`

	for offset := 0; ; offset += pageSize {
		args := append(scopeArgs(scope), pageSize, offset)
		rows, err := db.conn.QueryContext(ctx, query, args...)
		if err != nil {
			metrics.ObserveDBQuery("load_existing_keys", start, err)
			return nil, fmt.Errorf("load existing keys (offset=%d): %w", offset, err)
		}

		fetched := 0
		for rows.Next() {
			var key int64
			if err := rows.Scan(&key); err != nil {
				_ = rows.Close() //nolint:errcheck // already failing
				metrics.ObserveDBQuery("load_existing_keys", start, err)
				return nil, fmt.Errorf("scan existing key: %w", err)
			}
			keys[key] = true
			fetched++
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close() //nolint:errcheck // already failing
			metrics.ObserveDBQuery("load_existing_keys", start, err)
			return nil, fmt.Errorf("iterate existing keys: %w", err)
		}
		if err := rows.Close(); err != nil {
			metrics.ObserveDBQuery("load_existing_keys", start, err)
			return nil, fmt.Errorf("close existing keys cursor: %w", err)
		}

		if fetched < pageSize {
			break
		}
	}

	metrics.ObserveDBQuery("load_existing_keys", start, nil)
	return keys, nil
}

// SoftDeleteKeys marks the given remote keys as deleted for a scope.
// Records are never hard-deleted; is_deleted is the only removal signal,
// preserving auditability. Returns the number of rows transitioned.
func (db *DB) SoftDeleteKeys(ctx context.Context, scope models.SyncScope, keys []int64, now time.Time) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	start := time.Now()
	deleted := 0

	for chunkStart := 0; chunkStart < len(keys); chunkStart += softDeleteChunk {
		chunkEnd := chunkStart + softDeleteChunk
		if chunkEnd > len(keys) {
			chunkEnd = len(keys)
		}
		chunk := keys[chunkStart:chunkEnd]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		query := `UPDATE erp_records SET is_deleted = TRUE, updated_at = ?
WHERE ` + scopeWhere + ` AND NOT is_deleted AND dia_key IN (` + placeholders + `)`

		args := make([]interface{}, 0, len(chunk)+5)
		args = append(args, now)
		args = append(args, scopeArgs(scope)...)
		for _, key := range chunk {
			args = append(args, key)
		}

		res, err := db.conn.ExecContext(ctx, query, args...)
		if err != nil {
			metrics.ObserveDBQuery("soft_delete", start, err)
			return deleted, fmt.Errorf("soft delete chunk: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += int(n)
		}
	}

	metrics.ObserveDBQuery("soft_delete", start, nil)
	return deleted, nil
}

// QueryRecords returns persisted records for a scope, newest first.
// Soft-deleted rows are excluded unless includeDeleted is set.
func (db *DB) QueryRecords(ctx context.Context, scope models.SyncScope, includeDeleted bool, limit, offset int) ([]models.PersistedRecord, error) {
	start := time.Now()

	query := `
SELECT server_name, company_code, period_code, source_slug, dia_key, CAST(payload AS VARCHAR) AS payload, is_deleted, updated_at
FROM erp_records
WHERE ` + scopeWhere
	if !includeDeleted {
		query += ` AND NOT is_deleted`
	}
	query += ` ORDER BY updated_at DESC, dia_key LIMIT ? OFFSET ?`

	args := append(scopeArgs(scope), limit, offset)
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.ObserveDBQuery("query_records", start, err)
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	records := make([]models.PersistedRecord, 0, limit)
	for rows.Next() {
		var rec models.PersistedRecord
		var payload string
		if err := rows.Scan(
			&rec.ServerName, &rec.CompanyCode, &rec.PeriodCode, &rec.SourceSlug,
			&rec.DiaKey, &payload, &rec.IsDeleted, &rec.UpdatedAt,
		); err != nil {
			metrics.ObserveDBQuery("query_records", start, err)
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Payload = []byte(payload)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		metrics.ObserveDBQuery("query_records", start, err)
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	metrics.ObserveDBQuery("query_records", start, nil)
	return records, nil
}

// CountRecords counts persisted records for a scope.
func (db *DB) CountRecords(ctx context.Context, scope models.SyncScope, includeDeleted bool) (int, error) {
	start := time.Now()

	query := `SELECT COUNT(*) FROM erp_records WHERE ` + scopeWhere
	if !includeDeleted {
		query += ` AND NOT is_deleted`
	}

	var count int
	err := db.conn.QueryRowContext(ctx, query, scopeArgs(scope)...).Scan(&count)
	metrics.ObserveDBQuery("count_records", start, err)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}
