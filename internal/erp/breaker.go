// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package erp

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/jmfalke/erpsync/internal/logging"
	"github.com/jmfalke/erpsync/internal/metrics"
	"github.com/jmfalke/erpsync/internal/models"
)

// Ensure BreakerClient implements ClientInterface.
var _ ClientInterface = (*BreakerClient)(nil)

// BreakerClient wraps a ClientInterface with a circuit breaker so that a
// down or degraded ERP server does not consume API credits on calls that are
// going to fail anyway.
//
// The breaker uses real time for its interval and timeout calculations.
type BreakerClient struct {
	inner ClientInterface
	cb    *gobreaker.CircuitBreaker[interface{}]
	name  string
}

// NewBreakerClient wraps client with a circuit breaker.
// Configuration:
//   - Max 3 concurrent requests in half-open state
//   - 1 minute measurement window in closed state
//   - 1 minute open period before attempting recovery
//   - Opens at >= 60% failure rate with minimum 10 requests
func NewBreakerClient(client ClientInterface) *BreakerClient {
	cbName := "erp-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("opening ERP circuit")
				return true
			}
			return false
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("ERP circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
		},
	})

	return &BreakerClient{inner: client, cb: cb, name: cbName}
}

// Ping executes Ping through the breaker.
func (c *BreakerClient) Ping(ctx context.Context) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.inner.Ping(ctx)
	})
	return c.wrapBreakerErr(err)
}

// FetchRecords executes FetchRecords through the breaker.
func (c *BreakerClient) FetchRecords(ctx context.Context, scope models.SyncScope, filter *models.DateFilter, start, limit int) (*RecordsPage, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.inner.FetchRecords(ctx, scope, filter, start, limit)
	})
	if err != nil {
		return nil, c.wrapBreakerErr(err)
	}

	page, ok := result.(*RecordsPage)
	if !ok {
		return nil, fmt.Errorf("unexpected breaker result type %T", result)
	}
	return page, nil
}

// wrapBreakerErr annotates breaker-rejected calls so callers can tell an
// open circuit from a real remote failure.
func (c *BreakerClient) wrapBreakerErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("ERP circuit breaker %s: %w", c.name, err)
	}
	return err
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
