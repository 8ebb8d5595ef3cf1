// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package services

import (
	"context"
	"errors"
	"time"

	"github.com/jmfalke/erpsync/internal/logging"
	"github.com/jmfalke/erpsync/internal/models"
	syncengine "github.com/jmfalke/erpsync/internal/sync"
)

// SchedulerService starts a bulk run over all configured tenants on a fixed
// interval. A run still in flight when the ticker fires is left alone; the
// next interval tries again.
type SchedulerService struct {
	orchestrator *syncengine.Orchestrator
	tenants      []models.Tenant
	interval     time.Duration
}

// NewSchedulerService creates the periodic bulk scheduler.
func NewSchedulerService(orchestrator *syncengine.Orchestrator, tenants []models.Tenant, interval time.Duration) *SchedulerService {
	return &SchedulerService{
		orchestrator: orchestrator,
		tenants:      tenants,
		interval:     interval,
	}
}

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if len(s.tenants) == 0 {
		logging.Warn().Msg("scheduler enabled with no tenants configured, idling")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Info().Dur("interval", s.interval).Int("tenants", len(s.tenants)).Msg("bulk scheduler started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			runID, err := s.orchestrator.Start(s.tenants)
			if err != nil {
				if errors.Is(err, syncengine.ErrRunActive) {
					logging.Debug().Msg("scheduled bulk run skipped, previous run still active")
					continue
				}
				logging.Error().Err(err).Msg("scheduled bulk run failed to start")
				continue
			}
			logging.Info().Str("run_id", runID).Msg("scheduled bulk run started")
		}
	}
}

// String implements fmt.Stringer for suture log output.
func (s *SchedulerService) String() string {
	return "bulk-scheduler"
}
