// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/jmfalke/erpsync/internal/models"
)

// fakeScopeSyncer scripts per-tenant outcomes and can block mid-tenant to
// exercise cancellation boundaries.
type fakeScopeSyncer struct {
	mu       gosync.Mutex
	results  map[string]models.SyncResult // keyed by company code
	synced   []models.SyncScope
	started  chan string // receives company code when a sync starts
	proceed  chan struct{}
	blockFor string // company code that blocks until proceed closes
}

func (f *fakeScopeSyncer) SyncScope(ctx context.Context, scope models.SyncScope, filter *models.DateFilter) models.SyncResult {
	if f.started != nil {
		f.started <- scope.CompanyCode
	}
	if f.blockFor == scope.CompanyCode && f.proceed != nil {
		<-f.proceed
	}

	f.mu.Lock()
	f.synced = append(f.synced, scope)
	result, ok := f.results[scope.CompanyCode]
	f.mu.Unlock()

	if !ok {
		return models.SyncResult{Success: true, Inserted: 1}
	}
	return result
}

func (f *fakeScopeSyncer) syncedScopes() []models.SyncScope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.SyncScope, len(f.synced))
	copy(out, f.synced)
	return out
}

// memJournal records PutRun calls in memory.
type memJournal struct {
	mu   gosync.Mutex
	runs []*models.BulkRun
}

func (m *memJournal) PutRun(run *models.BulkRun) error {
	m.mu.Lock()
	m.runs = append(m.runs, run)
	m.mu.Unlock()
	return nil
}

// progressRecorder captures published progress events.
type progressRecorder struct {
	mu     gosync.Mutex
	events []models.TenantProgress
}

func (p *progressRecorder) PublishProgress(progress models.TenantProgress) {
	p.mu.Lock()
	p.events = append(p.events, progress)
	p.mu.Unlock()
}

func (p *progressRecorder) all() []models.TenantProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.TenantProgress, len(p.events))
	copy(out, p.events)
	return out
}

func tenant(id, company string) models.Tenant {
	return models.Tenant{ID: id, ServerName: "srv1", CompanyCode: company, PeriodCode: "2026"}
}

// waitForRun polls until the run leaves the running state.
func waitForRun(t *testing.T, o *Orchestrator, runID string) *models.BulkRun {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := o.Get(runID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if run.Status != models.RunRunning {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not finish in time")
	return nil
}

func TestBulkRunAllSuccess(t *testing.T) {
	syncer := &fakeScopeSyncer{}
	journal := &memJournal{}
	progress := &progressRecorder{}
	o := NewOrchestrator(syncer, []string{"invoices", "orders"}, 0, journal, progress)

	runID, err := o.Start([]models.Tenant{tenant("t1", "acme"), tenant("t2", "globex")})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	run := waitForRun(t, o, runID)
	if run.Status != models.RunCompleted {
		t.Errorf("Status = %s, want completed", run.Status)
	}
	if run.Summary.SuccessCount != 2 || run.Summary.ErrorCount != 0 || run.Summary.CancelledCount != 0 {
		t.Errorf("unexpected summary: %+v", run.Summary)
	}
	for _, job := range run.Jobs {
		if job.Status != models.JobSuccess {
			t.Errorf("job %s status = %s", job.TenantID, job.Status)
		}
		if job.RecordsTotal != 2 { // two sources, one insert each
			t.Errorf("job %s records = %d, want 2", job.TenantID, job.RecordsTotal)
		}
	}

	// Both sources of tenant one run before tenant two starts.
	scopes := syncer.syncedScopes()
	if len(scopes) != 4 {
		t.Fatalf("expected 4 scope syncs, got %d", len(scopes))
	}
	if scopes[0].CompanyCode != "acme" || scopes[1].CompanyCode != "acme" ||
		scopes[2].CompanyCode != "globex" || scopes[3].CompanyCode != "globex" {
		t.Errorf("tenants must run strictly sequentially: %v", scopes)
	}

	journal.mu.Lock()
	journaled := len(journal.runs)
	journal.mu.Unlock()
	if journaled != 1 {
		t.Errorf("expected 1 journaled run, got %d", journaled)
	}
}

func TestBulkRunContinuesPastFailure(t *testing.T) {
	syncer := &fakeScopeSyncer{
		results: map[string]models.SyncResult{
			"globex": {Success: false, Error: "remote unavailable"},
		},
	}
	o := NewOrchestrator(syncer, []string{"invoices"}, 0, nil, nil)

	runID, err := o.Start([]models.Tenant{
		tenant("t1", "acme"), tenant("t2", "globex"), tenant("t3", "initech"),
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	run := waitForRun(t, o, runID)
	if run.Status != models.RunCompleted {
		t.Errorf("Status = %s, want completed", run.Status)
	}
	if run.Summary.SuccessCount != 2 || run.Summary.ErrorCount != 1 {
		t.Errorf("unexpected summary: %+v", run.Summary)
	}

	if run.Jobs[1].Status != models.JobError {
		t.Errorf("failing tenant status = %s, want error", run.Jobs[1].Status)
	}
	if run.Jobs[1].Message == "" {
		t.Error("failed job must carry the error message")
	}
	// The tenant after the failure still ran.
	if run.Jobs[2].Status != models.JobSuccess {
		t.Errorf("tenant after failure status = %s, want success", run.Jobs[2].Status)
	}
}

func TestBulkRunCancellation(t *testing.T) {
	syncer := &fakeScopeSyncer{
		started:  make(chan string, 8),
		proceed:  make(chan struct{}),
		blockFor: "acme",
	}
	o := NewOrchestrator(syncer, []string{"invoices"}, 0, nil, nil)

	runID, err := o.Start([]models.Tenant{
		tenant("t1", "acme"), tenant("t2", "globex"), tenant("t3", "initech"),
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wait until the first tenant is mid-sync, then cancel.
	<-syncer.started
	if err := o.Cancel(runID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	close(syncer.proceed)

	run := waitForRun(t, o, runID)
	if run.Status != models.RunCancelled {
		t.Errorf("Status = %s, want cancelled", run.Status)
	}

	// The in-flight tenant ran to completion with its real outcome.
	if run.Jobs[0].Status != models.JobSuccess {
		t.Errorf("in-flight job status = %s, want success", run.Jobs[0].Status)
	}
	if !run.Jobs[0].FinishedAfterCancel {
		t.Error("in-flight job must be flagged finished-after-cancel")
	}

	// Tenants never started are cancelled, never synced.
	for _, job := range run.Jobs[1:] {
		if job.Status != models.JobCancelled {
			t.Errorf("job %s status = %s, want cancelled", job.TenantID, job.Status)
		}
		if job.Message != "cancelled" {
			t.Errorf("job %s message = %q", job.TenantID, job.Message)
		}
	}
	if got := len(syncer.syncedScopes()); got != 1 {
		t.Errorf("expected only the first tenant synced, got %d scopes", got)
	}
	if run.Summary.SuccessCount != 1 || run.Summary.CancelledCount != 2 {
		t.Errorf("unexpected summary: %+v", run.Summary)
	}
}

func TestBulkRejectsConcurrentRuns(t *testing.T) {
	syncer := &fakeScopeSyncer{
		started:  make(chan string, 8),
		proceed:  make(chan struct{}),
		blockFor: "acme",
	}
	o := NewOrchestrator(syncer, []string{"invoices"}, 0, nil, nil)

	runID, err := o.Start([]models.Tenant{tenant("t1", "acme")})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-syncer.started

	if _, err := o.Start([]models.Tenant{tenant("t2", "globex")}); !errors.Is(err, ErrRunActive) {
		t.Errorf("expected ErrRunActive, got %v", err)
	}

	close(syncer.proceed)
	waitForRun(t, o, runID)

	// Once finished, a new run is accepted.
	if _, err := o.Start([]models.Tenant{tenant("t2", "globex")}); err != nil {
		t.Errorf("expected new run after completion, got %v", err)
	}
}

func TestBulkInterTenantDelay(t *testing.T) {
	syncer := &fakeScopeSyncer{}
	delay := 60 * time.Millisecond
	o := NewOrchestrator(syncer, []string{"invoices"}, delay, nil, nil)

	started := time.Now()
	runID, err := o.Start([]models.Tenant{tenant("t1", "acme"), tenant("t2", "globex")})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForRun(t, o, runID)

	if elapsed := time.Since(started); elapsed < delay {
		t.Errorf("run finished in %v, expected at least the %v inter-tenant delay", elapsed, delay)
	}
}

func TestBulkProgressEvents(t *testing.T) {
	syncer := &fakeScopeSyncer{}
	progress := &progressRecorder{}
	o := NewOrchestrator(syncer, []string{"invoices"}, 0, nil, progress)

	runID, err := o.Start([]models.Tenant{tenant("t1", "acme")})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForRun(t, o, runID)

	events := progress.all()
	if len(events) != 2 {
		t.Fatalf("expected running+success events, got %d", len(events))
	}
	if events[0].Status != models.JobRunning || events[1].Status != models.JobSuccess {
		t.Errorf("unexpected event sequence: %v, %v", events[0].Status, events[1].Status)
	}
	if events[0].RunID != runID {
		t.Errorf("event run ID = %s, want %s", events[0].RunID, runID)
	}
}

func TestBulkErrors(t *testing.T) {
	o := NewOrchestrator(&fakeScopeSyncer{}, []string{"invoices"}, 0, nil, nil)

	if _, err := o.Start(nil); !errors.Is(err, ErrNoTenants) {
		t.Errorf("expected ErrNoTenants, got %v", err)
	}
	if err := o.Cancel("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := o.Get("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestBulkCancelFinishedRun(t *testing.T) {
	o := NewOrchestrator(&fakeScopeSyncer{}, []string{"invoices"}, 0, nil, nil)

	runID, err := o.Start([]models.Tenant{tenant("t1", "acme")})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForRun(t, o, runID)

	if err := o.Cancel(runID); !errors.Is(err, ErrRunFinished) {
		t.Errorf("expected ErrRunFinished, got %v", err)
	}
}
