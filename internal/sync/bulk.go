// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmfalke/erpsync/internal/logging"
	"github.com/jmfalke/erpsync/internal/metrics"
	"github.com/jmfalke/erpsync/internal/models"
)

var (
	// ErrRunActive is returned when a bulk run is requested while another is
	// still in flight. Runs are strictly sequential across the process; two
	// concurrent runs would double the remote call rate.
	ErrRunActive = errors.New("a bulk run is already active")

	// ErrRunNotFound is returned for unknown run IDs.
	ErrRunNotFound = errors.New("bulk run not found")

	// ErrRunFinished is returned when cancelling an already finished run.
	ErrRunFinished = errors.New("bulk run already finished")

	// ErrNoTenants is returned when a bulk run is requested with no tenants.
	ErrNoTenants = errors.New("no tenants to synchronize")
)

// RunJournal persists finished bulk runs. Satisfied by journal.Journal;
// a nil journal disables persistence.
type RunJournal interface {
	PutRun(run *models.BulkRun) error
}

// ScopeSyncer runs one sync pass for a scope. Satisfied by Reader; tests
// substitute fakes to drive orchestration outcomes.
type ScopeSyncer interface {
	SyncScope(ctx context.Context, scope models.SyncScope, filter *models.DateFilter) models.SyncResult
}

// Orchestrator executes bulk synchronization runs: all configured sources for
// each tenant, tenants strictly one after another with a fixed delay between
// them to stay under the remote API's throttling threshold.
//
// One tenant's failure never aborts the run; the remaining tenants still get
// their sync, and the failure is reported in that tenant's job.
type Orchestrator struct {
	reader      ScopeSyncer
	sourceSlugs []string
	delay       time.Duration
	journal     RunJournal
	publisher   ProgressPublisher

	// clock is swapped in tests to skip the inter-tenant delay.
	clock func() time.Time

	mu     gosync.Mutex
	runs   map[string]*activeRun
	active string // ID of the in-flight run, empty when idle
}

// activeRun pairs a run's mutable state with its cancellation handle.
type activeRun struct {
	mu     gosync.RWMutex
	run    *models.BulkRun
	cancel context.CancelFunc
}

// NewOrchestrator creates a bulk orchestrator. journal and publisher may be
// nil, disabling run persistence and progress events respectively.
func NewOrchestrator(reader ScopeSyncer, sourceSlugs []string, tenantDelay time.Duration, journal RunJournal, publisher ProgressPublisher) *Orchestrator {
	return &Orchestrator{
		reader:      reader,
		sourceSlugs: sourceSlugs,
		delay:       tenantDelay,
		journal:     journal,
		publisher:   publisher,
		clock:       time.Now,
		runs:        make(map[string]*activeRun),
	}
}

// Start begins a bulk run over the given tenants in the given order and
// returns its ID immediately; the run itself proceeds in the background.
func (o *Orchestrator) Start(tenants []models.Tenant) (string, error) {
	if len(tenants) == 0 {
		return "", ErrNoTenants
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active != "" {
		return "", fmt.Errorf("%w: %s", ErrRunActive, o.active)
	}

	runID := uuid.NewString()
	jobs := make([]*models.TenantJob, len(tenants))
	for i, t := range tenants {
		jobs[i] = &models.TenantJob{TenantID: t.ID, Status: models.JobPending}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ar := &activeRun{
		run: &models.BulkRun{
			ID:        runID,
			Status:    models.RunRunning,
			Jobs:      jobs,
			StartedAt: o.clock(),
		},
		cancel: cancel,
	}
	o.runs[runID] = ar
	o.active = runID

	metrics.BulkRunsTotal.Inc()
	logging.Info().Str("run_id", runID).Int("tenants", len(tenants)).Msg("bulk run started")

	go o.execute(ctx, ar, tenants)
	return runID, nil
}

// Cancel requests cancellation of a run. The tenant currently syncing runs to
// completion; tenants not yet started are marked cancelled.
func (o *Orchestrator) Cancel(runID string) error {
	o.mu.Lock()
	ar, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}

	ar.mu.RLock()
	finished := ar.run.Status != models.RunRunning
	ar.mu.RUnlock()
	if finished {
		return ErrRunFinished
	}

	logging.Info().Str("run_id", runID).Msg("bulk run cancellation requested")
	ar.cancel()
	return nil
}

// Get returns a snapshot of a run's current state.
func (o *Orchestrator) Get(runID string) (*models.BulkRun, error) {
	o.mu.Lock()
	ar, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	return ar.snapshot(), nil
}

// Active returns the snapshot of the in-flight run, or nil when idle.
func (o *Orchestrator) Active() *models.BulkRun {
	o.mu.Lock()
	runID := o.active
	ar := o.runs[runID]
	o.mu.Unlock()

	if runID == "" || ar == nil {
		return nil
	}
	return ar.snapshot()
}

// execute walks the tenants sequentially. It runs on its own goroutine with a
// context detached from any request; cancellation comes only through Cancel.
func (o *Orchestrator) execute(ctx context.Context, ar *activeRun, tenants []models.Tenant) {
	for i, tenant := range tenants {
		if ctx.Err() != nil {
			o.markRemainingCancelled(ar, i)
			break
		}

		o.runTenant(ctx, ar, i, tenant)

		// Fixed pause before the next tenant, cut short by cancellation;
		// the cancel itself is handled at the top of the next iteration.
		if i < len(tenants)-1 && o.delay > 0 && ctx.Err() == nil {
			select {
			case <-time.After(o.delay):
			case <-ctx.Done():
			}
		}
	}

	o.finish(ctx, ar)
}

// runTenant syncs every configured source for one tenant. Once started, the
// tenant completes even if the run is cancelled mid-way; the job records that
// it finished after the cancellation request.
func (o *Orchestrator) runTenant(ctx context.Context, ar *activeRun, idx int, tenant models.Tenant) {
	job := ar.job(idx)
	startedAt := o.clock()

	ar.update(func() {
		job.Status = models.JobRunning
		job.StartedAt = &startedAt
	})
	o.publish(ar, job)

	// The in-flight tenant is never interrupted: a half-synced tenant would
	// leave its scopes inconsistent with the run's accounting.
	tenantCtx := context.WithoutCancel(ctx)

	var errs []string
	total := 0
	for _, slug := range o.sourceSlugs {
		result := o.reader.SyncScope(tenantCtx, tenant.Scope(slug), nil)
		if !result.Success {
			errs = append(errs, fmt.Sprintf("%s: %s", slug, result.Error))
			continue
		}
		total += result.Total()
	}

	finishedAt := o.clock()
	ar.update(func() {
		job.RecordsTotal = total
		job.FinishedAt = &finishedAt
		job.FinishedAfterCancel = ctx.Err() != nil
		if len(errs) > 0 {
			job.Status = models.JobError
			job.Message = strings.Join(errs, "; ")
		} else {
			job.Status = models.JobSuccess
		}
	})

	metrics.BulkTenantOutcomes.WithLabelValues(string(job.Status)).Inc()
	o.publish(ar, job)

	logging.Info().
		Str("run_id", ar.runID()).
		Str("tenant", tenant.ID).
		Str("status", string(job.Status)).
		Int("records", total).
		Msg("tenant sync finished")
}

// markRemainingCancelled sets every not-yet-started job to cancelled.
func (o *Orchestrator) markRemainingCancelled(ar *activeRun, from int) {
	now := o.clock()
	for i := from; i < len(ar.run.Jobs); i++ {
		job := ar.job(i)
		ar.update(func() {
			job.Status = models.JobCancelled
			job.Message = "cancelled"
			job.FinishedAt = &now
		})
		metrics.BulkTenantOutcomes.WithLabelValues(string(models.JobCancelled)).Inc()
		o.publish(ar, job)
	}
}

// finish computes the summary, flips the run to its terminal state, journals
// it, and releases the single-run slot.
func (o *Orchestrator) finish(ctx context.Context, ar *activeRun) {
	now := o.clock()

	ar.update(func() {
		summary := &models.BulkSummary{}
		for _, job := range ar.run.Jobs {
			switch job.Status {
			case models.JobSuccess:
				summary.SuccessCount++
			case models.JobError:
				summary.ErrorCount++
			case models.JobCancelled:
				summary.CancelledCount++
			}
		}
		ar.run.Summary = summary
		ar.run.FinishedAt = &now
		if ctx.Err() != nil {
			ar.run.Status = models.RunCancelled
		} else {
			ar.run.Status = models.RunCompleted
		}
	})

	snapshot := ar.snapshot()
	if o.journal != nil {
		if err := o.journal.PutRun(snapshot); err != nil {
			logging.Error().Err(err).Str("run_id", snapshot.ID).Msg("failed to journal bulk run")
		}
	}

	o.mu.Lock()
	if o.active == snapshot.ID {
		o.active = ""
	}
	o.mu.Unlock()

	logging.Info().
		Str("run_id", snapshot.ID).
		Str("status", string(snapshot.Status)).
		Int("success", snapshot.Summary.SuccessCount).
		Int("errors", snapshot.Summary.ErrorCount).
		Int("cancelled", snapshot.Summary.CancelledCount).
		Msg("bulk run finished")
}

// publish emits a progress event for a job's current state.
func (o *Orchestrator) publish(ar *activeRun, job *models.TenantJob) {
	if o.publisher == nil {
		return
	}

	ar.mu.RLock()
	progress := models.TenantProgress{
		RunID:        ar.run.ID,
		TenantID:     job.TenantID,
		Status:       job.Status,
		Message:      job.Message,
		RecordsTotal: job.RecordsTotal,
		Timestamp:    o.clock(),
	}
	ar.mu.RUnlock()

	o.publisher.PublishProgress(progress)
}

func (ar *activeRun) runID() string {
	ar.mu.RLock()
	defer ar.mu.RUnlock()
	return ar.run.ID
}

func (ar *activeRun) job(idx int) *models.TenantJob {
	ar.mu.RLock()
	defer ar.mu.RUnlock()
	return ar.run.Jobs[idx]
}

// update applies a mutation under the run's write lock.
func (ar *activeRun) update(fn func()) {
	ar.mu.Lock()
	fn()
	ar.mu.Unlock()
}

// snapshot deep-copies the run so callers can read it without holding locks.
func (ar *activeRun) snapshot() *models.BulkRun {
	ar.mu.RLock()
	defer ar.mu.RUnlock()

	jobs := make([]*models.TenantJob, len(ar.run.Jobs))
	for i, job := range ar.run.Jobs {
		j := *job
		jobs[i] = &j
	}

	out := &models.BulkRun{
		ID:        ar.run.ID,
		Status:    ar.run.Status,
		Jobs:      jobs,
		StartedAt: ar.run.StartedAt,
	}
	if ar.run.Summary != nil {
		s := *ar.run.Summary
		out.Summary = &s
	}
	if ar.run.FinishedAt != nil {
		t := *ar.run.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
