// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

// Package erp provides the HTTP client for the remote ERP API.
//
// The remote API is rate/credit-limited, so every call here is metered:
// a token-bucket limiter shapes outbound request rate and an optional
// circuit breaker (breaker.go) stops hammering an unavailable server.
package erp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/jmfalke/erpsync/internal/config"
	"github.com/jmfalke/erpsync/internal/logging"
	"github.com/jmfalke/erpsync/internal/metrics"
	"github.com/jmfalke/erpsync/internal/models"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics, preventing unbounded allocation on large error pages.
const maxErrorBodySize = 64 * 1024 // 64KB

// ClientInterface defines the remote ERP operations used by the sync engine.
// Implemented by Client for production and by mocks in tests; BreakerClient
// wraps any implementation with a circuit breaker.
//
// All methods accept a context for cancellation and are safe for concurrent
// use.
type ClientInterface interface {
	// Ping verifies connectivity and credentials.
	Ping(ctx context.Context) error

	// FetchRecords returns one page of records for the scope. A nil filter
	// requests the full listing; a non-nil filter restricts the result to a
	// date sub-range and therefore yields a partial view.
	FetchRecords(ctx context.Context, scope models.SyncScope, filter *models.DateFilter, start, limit int) (*RecordsPage, error)
}

// Client is the concrete ERP API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Ensure Client implements ClientInterface.
var _ ClientInterface = (*Client)(nil)

// NewClient creates an ERP API client from configuration.
func NewClient(cfg config.ERPConfig) *Client {
	return &Client{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

// Ping verifies connectivity and credentials against the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/ping", nil)
	if err != nil {
		return fmt.Errorf("failed to build ping request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort cleanup

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping returned status %d: %s", resp.StatusCode, readBodyForError(resp.Body))
	}
	return nil
}

// FetchRecords fetches one page of records for a scope from the sqldata
// endpoint. Transport failures, non-200 statuses, decode failures, and
// remote-reported errors (success=false) all return an error; the caller
// performs no local mutation in that case.
func (c *Client) FetchRecords(ctx context.Context, scope models.SyncScope, filter *models.DateFilter, start, limit int) (*RecordsPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	reqURL := c.buildRecordsURL(scope, filter, start, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build records request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RemoteCallErrors.WithLabelValues("transport").Inc()
		return nil, fmt.Errorf("records request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort cleanup

	metrics.RemoteCallsTotal.WithLabelValues(scope.SourceSlug).Inc()
	metrics.RemoteCallDuration.Observe(time.Since(started).Seconds())

	if resp.StatusCode != http.StatusOK {
		metrics.RemoteCallErrors.WithLabelValues("transport").Inc()
		return nil, fmt.Errorf("records request returned status %d: %s",
			resp.StatusCode, readBodyForError(resp.Body))
	}

	var env recordsEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		metrics.RemoteCallErrors.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("failed to decode records response: %w", err)
	}

	if !env.Success {
		metrics.RemoteCallErrors.WithLabelValues("remote").Inc()
		return nil, &RemoteError{Message: env.Error}
	}

	page := &RecordsPage{
		Rows:       make([]models.RemoteRecord, 0, len(env.Rows)),
		TotalCount: env.TotalCount,
	}
	for _, raw := range env.Rows {
		page.Rows = append(page.Rows, parseRow(raw))
	}

	logging.Trace().
		Str("scope", scope.String()).
		Int("start", start).
		Int("rows", len(page.Rows)).
		Int("total", page.TotalCount).
		Msg("fetched records page")

	return page, nil
}

// buildRecordsURL assembles the sqldata query for a scope, page and filter.
func (c *Client) buildRecordsURL(scope models.SyncScope, filter *models.DateFilter, start, limit int) string {
	params := url.Values{}
	params.Set("server", scope.ServerName)
	params.Set("company", scope.CompanyCode)
	params.Set("period", scope.PeriodCode)
	params.Set("source", scope.SourceSlug)
	params.Set("start", strconv.Itoa(start))
	params.Set("limit", strconv.Itoa(limit))

	if filter != nil {
		params.Set("date_field", filter.Field)
		params.Set("date_from", filter.Start)
		params.Set("date_to", filter.End)
	}

	return c.baseURL + "/api/sqldata?" + params.Encode()
}

// readBodyForError reads a bounded amount of a response body for error
// reporting. Returns a placeholder if reading fails.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}
