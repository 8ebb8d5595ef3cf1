// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

// Command server runs the ERPSync service: the DuckDB-backed record store,
// the sync engine, the bulk orchestrator, and the HTTP/WebSocket API, all
// under a suture supervision tree.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmfalke/erpsync/internal/api"
	"github.com/jmfalke/erpsync/internal/cache"
	"github.com/jmfalke/erpsync/internal/config"
	"github.com/jmfalke/erpsync/internal/database"
	"github.com/jmfalke/erpsync/internal/erp"
	"github.com/jmfalke/erpsync/internal/journal"
	"github.com/jmfalke/erpsync/internal/logging"
	"github.com/jmfalke/erpsync/internal/models"
	"github.com/jmfalke/erpsync/internal/supervisor"
	"github.com/jmfalke/erpsync/internal/supervisor/services"
	syncengine "github.com/jmfalke/erpsync/internal/sync"
	"github.com/jmfalke/erpsync/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().Msg("starting ERPSync")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("failed to close database")
		}
	}()

	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		jrnl, err = journal.Open(cfg.Journal)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to open run journal")
		}
		defer func() {
			if err := jrnl.Close(); err != nil {
				logging.Error().Err(err).Msg("failed to close run journal")
			}
		}()
	}

	// Remote client, optionally behind the circuit breaker.
	var client erp.ClientInterface = erp.NewClient(cfg.ERP)
	if cfg.ERP.BreakerEnabled {
		client = erp.NewBreakerClient(client)
	}

	stats := cache.NewStats()
	store := cache.NewStore(cfg.Cache.CleanupInterval, stats)
	defer store.Close()
	registry := cache.NewFetchedRegistry()

	syncer := syncengine.NewSyncer(client, db, cfg.ERP, cfg.Sync)
	reader := syncengine.NewReader(store, registry, stats, syncer, db, cfg)

	bus := syncengine.NewProgressBus()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("failed to close progress bus")
		}
	}()

	sourceSlugs := make([]string, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sourceSlugs = append(sourceSlugs, src.Slug)
	}
	var runJournal syncengine.RunJournal
	if jrnl != nil {
		runJournal = jrnl
	}
	orchestrator := syncengine.NewOrchestrator(reader, sourceSlugs, cfg.Bulk.TenantDelay, runJournal, bus)

	hub := websocket.NewHub()
	server := api.NewServer(cfg, reader, orchestrator, jrnl, hub, db, stats)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddEngineService(services.NewHubService(hub))
	tree.AddEngineService(services.NewProgressService(bus, hub))
	if cfg.Sync.SchedulerEnabled {
		tenants := make([]models.Tenant, 0, len(cfg.Tenants))
		for _, tc := range cfg.Tenants {
			tenants = append(tenants, models.Tenant{
				ID:          tc.ID,
				ServerName:  tc.ServerName,
				CompanyCode: tc.CompanyCode,
				PeriodCode:  tc.PeriodCode,
			})
		}
		tree.AddEngineService(services.NewSchedulerService(orchestrator, tenants, cfg.Sync.Interval))
	}
	tree.AddAPIService(services.NewHTTPService(httpServer, cfg.Server.Timeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", httpServer.Addr).
		Int("tenants", len(cfg.Tenants)).
		Int("sources", len(cfg.Sources)).
		Bool("scheduler", cfg.Sync.SchedulerEnabled).
		Msg("supervision tree starting")

	if err := tree.Serve(ctx); err != nil && err != context.Canceled {
		if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
			for _, svc := range unstopped {
				logging.Warn().Str("service", svc.Name).Msg("service did not stop in time")
			}
		}
		logging.Error().Err(err).Msg("supervision tree exited with error")
		os.Exit(1)
	}

	logging.Info().Msg("ERPSync stopped")
}
