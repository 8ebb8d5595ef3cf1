// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

// Package models defines the shared data structures exchanged between the ERP
// client, the sync engine, the database layer, and the HTTP API.
package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// SyncScope identifies one independently reconcilable remote dataset.
// All records within a scope share a remote key space (dia_key).
type SyncScope struct {
	ServerName  string `json:"server"`
	CompanyCode string `json:"company_code"`
	PeriodCode  string `json:"period_code"`
	SourceSlug  string `json:"source_slug"`
}

// CacheKey returns the canonical cache/registry key for this scope.
// Pattern-based invalidation relies on the tenant prefix ordering:
// invalidating "server|company|period" busts every source of that tenant.
func (s SyncScope) CacheKey() string {
	return fmt.Sprintf("%s|%s|%s|%s", s.ServerName, s.CompanyCode, s.PeriodCode, s.SourceSlug)
}

// TenantKey returns the key prefix shared by all sources of the scope's tenant.
func (s SyncScope) TenantKey() string {
	return fmt.Sprintf("%s|%s|%s", s.ServerName, s.CompanyCode, s.PeriodCode)
}

// String implements fmt.Stringer for log output.
func (s SyncScope) String() string {
	return s.CacheKey()
}

// DateFilter restricts a remote fetch to a sub-range of a date field.
// A filtered fetch is a partial view of the remote set: the sync primitive
// must not run deletion reconciliation against it.
type DateFilter struct {
	Field string `json:"field"`
	Start string `json:"start"` // inclusive, YYYY-MM-DD
	End   string `json:"end"`   // inclusive, YYYY-MM-DD
}

// RemoteRecord is the unit exchanged with the remote ERP API. The payload is
// the raw row object as returned by the API; Key is the extracted dia_key.
// HasKey is false when the row carried no usable numeric key, in which case
// the record is dropped from sync counts.
type RemoteRecord struct {
	Key     int64
	HasKey  bool
	Payload json.RawMessage
}

// PersistedRecord is the local projection of a RemoteRecord, unique on
// (server, company, period, source, dia_key) within the records table.
type PersistedRecord struct {
	ServerName  string          `json:"server"`
	CompanyCode string          `json:"company_code"`
	PeriodCode  string          `json:"period_code"`
	SourceSlug  string          `json:"source_slug"`
	DiaKey      int64           `json:"dia_key"`
	Payload     json.RawMessage `json:"payload"`
	IsDeleted   bool            `json:"is_deleted"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SyncResult reports the outcome of one sync pass over a scope.
type SyncResult struct {
	Success  bool   `json:"success"`
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
	Deleted  int    `json:"deleted"`
	Dropped  int    `json:"dropped"`
	Fetched  int    `json:"fetched"`
	Error    string `json:"error,omitempty"`
}

// Total returns the number of records reflected in the local store.
func (r SyncResult) Total() int {
	return r.Inserted + r.Updated
}

// JobStatus is the lifecycle state of one tenant within a bulk run.
type JobStatus string

// Tenant job states. Terminal states are success, error and cancelled.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSuccess   JobStatus = "success"
	JobError     JobStatus = "error"
	JobCancelled JobStatus = "cancelled"
)

// Tenant is one independent customer account whose data must never be
// cross-visible to another tenant's session.
type Tenant struct {
	ID          string `json:"id"`
	ServerName  string `json:"server"`
	CompanyCode string `json:"company_code"`
	PeriodCode  string `json:"period_code"`
}

// Scope returns the sync scope for one of the tenant's data sources.
func (t Tenant) Scope(sourceSlug string) SyncScope {
	return SyncScope{
		ServerName:  t.ServerName,
		CompanyCode: t.CompanyCode,
		PeriodCode:  t.PeriodCode,
		SourceSlug:  sourceSlug,
	}
}

// TenantJob is the ephemeral per-tenant state of a bulk run. It is mutated in
// place by the orchestrator and discarded (journaled, not kept hot) at run end.
type TenantJob struct {
	TenantID string    `json:"tenant_id"`
	Status   JobStatus `json:"status"`
	Message  string    `json:"message,omitempty"`
	// RecordsTotal counts records reflected locally (inserted + updated).
	RecordsTotal int `json:"records_total"`
	// FinishedAfterCancel marks a job that was already running when
	// cancellation was requested and ran to completion anyway.
	FinishedAfterCancel bool       `json:"finished_after_cancel,omitempty"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	FinishedAt          *time.Time `json:"finished_at,omitempty"`
}

// BulkSummary aggregates terminal job states at the end of a run.
type BulkSummary struct {
	SuccessCount   int `json:"success_count"`
	ErrorCount     int `json:"error_count"`
	CancelledCount int `json:"cancelled_count"`
}

// RunStatus is the lifecycle state of a whole bulk run.
type RunStatus string

// Bulk run states.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
)

// BulkRun is the full state of one bulk synchronization run: per-tenant jobs
// in submission order plus the aggregate summary once the run finished.
type BulkRun struct {
	ID         string       `json:"id"`
	Status     RunStatus    `json:"status"`
	Jobs       []*TenantJob `json:"jobs"`
	Summary    *BulkSummary `json:"summary,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// TenantProgress is the progress event published after every job transition.
type TenantProgress struct {
	RunID        string    `json:"run_id"`
	TenantID     string    `json:"tenant_id"`
	Status       JobStatus `json:"status"`
	Message      string    `json:"message,omitempty"`
	RecordsTotal int       `json:"records_total"`
	Timestamp    time.Time `json:"timestamp"`
}

// StatsSnapshot is the point-in-time view of fetch/cache accounting served by
// the stats endpoint and used by tests to verify dedup behavior.
type StatsSnapshot struct {
	CacheHits      int64                `json:"cache_hits"`
	CacheMisses    int64                `json:"cache_misses"`
	StaleHits      int64                `json:"stale_hits"`
	RemoteCalls    int64                `json:"remote_calls"`
	DedupedFetches int64                `json:"deduped_fetches"`
	LastFetched    map[string]time.Time `json:"last_fetched"`
}
