// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	gorillaws "github.com/gorilla/websocket"

	"github.com/jmfalke/erpsync/internal/cache"
	"github.com/jmfalke/erpsync/internal/config"
	"github.com/jmfalke/erpsync/internal/database"
	"github.com/jmfalke/erpsync/internal/journal"
	"github.com/jmfalke/erpsync/internal/logging"
	"github.com/jmfalke/erpsync/internal/models"
	syncengine "github.com/jmfalke/erpsync/internal/sync"
	"github.com/jmfalke/erpsync/internal/websocket"
)

// Server bundles the HTTP handlers with their dependencies.
type Server struct {
	cfg          *config.Config
	reader       *syncengine.Reader
	orchestrator *syncengine.Orchestrator
	journal      *journal.Journal // nil when journaling is disabled
	hub          *websocket.Hub
	db           *database.DB
	stats        *cache.Stats
	upgrader     gorillaws.Upgrader
	startedAt    time.Time
}

// NewServer creates the handler set.
func NewServer(cfg *config.Config, reader *syncengine.Reader, orchestrator *syncengine.Orchestrator, jrnl *journal.Journal, hub *websocket.Hub, db *database.DB, stats *cache.Stats) *Server {
	s := &Server{
		cfg:          cfg,
		reader:       reader,
		orchestrator: orchestrator,
		journal:      jrnl,
		hub:          hub,
		db:           db,
		stats:        stats,
		startedAt:    time.Now(),
	}
	s.upgrader = gorillaws.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkWSOrigin,
	}
	return s
}

// scopeRequest identifies one sync scope in request bodies and queries.
type scopeRequest struct {
	Server  string `json:"server" validate:"required"`
	Company string `json:"company" validate:"required"`
	Period  string `json:"period" validate:"required"`
	Source  string `json:"source" validate:"required"`
}

func (sr scopeRequest) scope() models.SyncScope {
	return models.SyncScope{
		ServerName:  sr.Server,
		CompanyCode: sr.Company,
		PeriodCode:  sr.Period,
		SourceSlug:  sr.Source,
	}
}

func scopeFromQuery(r *http.Request) scopeRequest {
	q := r.URL.Query()
	return scopeRequest{
		Server:  q.Get("server"),
		Company: q.Get("company"),
		Period:  q.Get("period"),
		Source:  q.Get("source"),
	}
}

// Records serves one page of synced records for a scope through the cache.
func (s *Server) Records(w http.ResponseWriter, r *http.Request) {
	req := scopeFromQuery(r)
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	page := getIntParam(r, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := getIntParam(r, "page_size", s.cfg.API.DefaultPageSize)
	if pageSize < 1 {
		pageSize = s.cfg.API.DefaultPageSize
	}
	if pageSize > s.cfg.API.MaxPageSize {
		pageSize = s.cfg.API.MaxPageSize
	}

	if r.URL.Query().Get("include_deleted") == "true" {
		s.recordsWithDeleted(w, r, req.scope(), page, pageSize)
		return
	}

	result, err := s.reader.GetRecords(r.Context(), req.scope(), page, pageSize)
	if err != nil {
		respondError(w, http.StatusBadGateway, "SYNC_FAILED", "failed to retrieve records", err)
		return
	}

	respondData(w, http.StatusOK, result.Records, &models.APIMeta{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: result.Total,
		Stale:      result.Stale,
	})
}

// recordsWithDeleted serves the audit view including soft-deleted records.
// It reads the database directly: cached pages only hold live records, and
// audit reads are rare enough not to warrant their own cache keys.
func (s *Server) recordsWithDeleted(w http.ResponseWriter, r *http.Request, scope models.SyncScope, page, pageSize int) {
	offset := (page - 1) * pageSize

	records, err := s.db.QueryRecords(r.Context(), scope, true, pageSize, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to query records", err)
		return
	}
	total, err := s.db.CountRecords(r.Context(), scope, true)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to count records", err)
		return
	}

	respondData(w, http.StatusOK, records, &models.APIMeta{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
	})
}

// syncRequest is the body of POST /sync: a scope plus an optional date filter.
type syncRequest struct {
	scopeRequest
	Filter *models.DateFilter `json:"filter,omitempty"`
}

// Sync runs one synchronous sync pass for a scope.
func (s *Server) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body", err)
		return
	}
	if apiErr := validateRequest(&req.scopeRequest); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}
	if req.Filter != nil && req.Filter.Field == "" {
		respondError(w, http.StatusBadRequest, "INVALID_FILTER", "filter requires a date field", nil)
		return
	}

	result := s.reader.SyncScope(r.Context(), req.scopeRequest.scope(), req.Filter)
	if !result.Success {
		respondError(w, http.StatusBadGateway, "SYNC_FAILED", result.Error, nil)
		return
	}
	respondData(w, http.StatusOK, result, nil)
}

// Refresh forces a real remote fetch for a scope, bypassing the fetched
// registry and dropping cached pages.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	var req scopeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	result, err := s.reader.Refresh(r.Context(), req.scope())
	if err != nil {
		respondError(w, http.StatusBadGateway, "REFRESH_FAILED", result.Error, err)
		return
	}
	respondData(w, http.StatusOK, result, nil)
}

// SessionReset flushes all session-scoped state: cache, fetched registry,
// and fetch statistics. Invoked when the active user identity changes.
func (s *Server) SessionReset(w http.ResponseWriter, r *http.Request) {
	s.reader.OnUserChange()
	s.stats.Reset()
	logging.Info().Msg("session state reset")
	respondData(w, http.StatusOK, map[string]string{"status": "reset"}, nil)
}

// bulkRequest selects the tenants for a bulk run; empty means all configured.
type bulkRequest struct {
	TenantIDs []string `json:"tenant_ids,omitempty"`
}

// BulkStart begins a bulk run and returns its ID.
func (s *Server) BulkStart(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body", err)
			return
		}
	}

	tenants, err := s.resolveTenants(req.TenantIDs)
	if err != nil {
		respondError(w, http.StatusBadRequest, "UNKNOWN_TENANT", err.Error(), nil)
		return
	}

	runID, err := s.orchestrator.Start(tenants)
	if err != nil {
		switch {
		case errors.Is(err, syncengine.ErrRunActive):
			respondError(w, http.StatusConflict, "RUN_ACTIVE", err.Error(), nil)
		case errors.Is(err, syncengine.ErrNoTenants):
			respondError(w, http.StatusBadRequest, "NO_TENANTS", err.Error(), nil)
		default:
			respondError(w, http.StatusInternalServerError, "BULK_START_FAILED", "failed to start bulk run", err)
		}
		return
	}

	respondData(w, http.StatusAccepted, map[string]string{"run_id": runID}, nil)
}

// BulkGet returns the current state of a run, live or journaled.
func (s *Server) BulkGet(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.orchestrator.Get(runID)
	if err == nil {
		respondData(w, http.StatusOK, run, nil)
		return
	}
	if !errors.Is(err, syncengine.ErrRunNotFound) {
		respondError(w, http.StatusInternalServerError, "RUN_LOOKUP_FAILED", "failed to look up run", err)
		return
	}

	if s.journal != nil {
		run, err = s.journal.GetRun(runID)
		if err == nil {
			respondData(w, http.StatusOK, run, nil)
			return
		}
		if !errors.Is(err, journal.ErrRunNotFound) {
			respondError(w, http.StatusInternalServerError, "RUN_LOOKUP_FAILED", "failed to look up run", err)
			return
		}
	}

	respondError(w, http.StatusNotFound, "RUN_NOT_FOUND", "run not found", nil)
}

// BulkCancel requests cancellation of a running bulk run.
func (s *Server) BulkCancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	err := s.orchestrator.Cancel(runID)
	switch {
	case err == nil:
		respondData(w, http.StatusAccepted, map[string]string{"status": "cancelling"}, nil)
	case errors.Is(err, syncengine.ErrRunNotFound):
		respondError(w, http.StatusNotFound, "RUN_NOT_FOUND", "run not found", nil)
	case errors.Is(err, syncengine.ErrRunFinished):
		respondError(w, http.StatusConflict, "RUN_FINISHED", "run already finished", nil)
	default:
		respondError(w, http.StatusInternalServerError, "CANCEL_FAILED", "failed to cancel run", err)
	}
}

// Runs lists journaled runs, newest first, prefixed with the active run.
func (s *Server) Runs(w http.ResponseWriter, r *http.Request) {
	runs := make([]*models.BulkRun, 0)

	if active := s.orchestrator.Active(); active != nil {
		runs = append(runs, active)
	}

	if s.journal != nil {
		journaled, err := s.journal.ListRuns()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "RUN_LIST_FAILED", "failed to list runs", err)
			return
		}
		for _, run := range journaled {
			if len(runs) > 0 && run.ID == runs[0].ID {
				continue
			}
			runs = append(runs, run)
		}
	}

	respondData(w, http.StatusOK, runs, nil)
}

// Stats serves the session fetch/cache counters.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, s.reader.Stats(), nil)
}

// Health reports process and database health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK

	if err := s.db.Ping(r.Context()); err != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
		logging.Warn().Err(err).Msg("health check database ping failed")
	}

	respondData(w, httpStatus, map[string]interface{}{
		"status":         status,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"ws_clients":     s.hub.GetClientCount(),
	}, nil)
}

// WebSocket upgrades the connection and attaches the client to the hub.
func (s *Server) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(s.hub, conn)
	s.hub.Register <- client
	client.Start()
}

// checkWSOrigin allows configured CORS origins; "*" allows everything.
func (s *Server) checkWSOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.API.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// resolveTenants maps requested tenant IDs to configured tenants, preserving
// configuration order. Empty input selects every configured tenant.
func (s *Server) resolveTenants(ids []string) ([]models.Tenant, error) {
	all := make([]models.Tenant, 0, len(s.cfg.Tenants))
	for _, tc := range s.cfg.Tenants {
		all = append(all, models.Tenant{
			ID:          tc.ID,
			ServerName:  tc.ServerName,
			CompanyCode: tc.CompanyCode,
			PeriodCode:  tc.PeriodCode,
		})
	}
	if len(ids) == 0 {
		return all, nil
	}

	byID := make(map[string]models.Tenant, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("unknown tenant %q", id)
		}
		wanted[id] = true
	}

	selected := make([]models.Tenant, 0, len(wanted))
	for _, t := range all {
		if wanted[t.ID] {
			selected = append(selected, t)
		}
	}
	return selected, nil
}
