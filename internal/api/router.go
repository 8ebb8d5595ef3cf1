// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

// Package api provides HTTP routing using the Chi router.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmfalke/erpsync/internal/metrics"
)

// Routes assembles the full HTTP handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.API.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health and metrics stay outside the API rate limit so monitoring
	// never gets throttled by dashboard traffic.
	r.Get("/health", s.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.API.RateLimitReqs, s.cfg.API.RateLimitWindow))
		r.Use(prometheusMetrics)

		r.Get("/records", s.Records)
		r.Post("/sync", s.Sync)
		r.Post("/refresh", s.Refresh)
		r.Post("/session/reset", s.SessionReset)

		r.Post("/bulk", s.BulkStart)
		r.Get("/bulk/{runID}", s.BulkGet)
		r.Delete("/bulk/{runID}", s.BulkCancel)
		r.Get("/runs", s.Runs)
		r.Get("/runs/{runID}", s.BulkGet)

		r.Get("/health", s.Health)

		r.Get("/stats", s.Stats)
		r.Get("/ws", s.WebSocket)
	})

	return r
}

// prometheusMetrics records request counts and latency per route pattern.
func prometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}

		metrics.APIRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(started).Seconds())
	})
}
