// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package config

import "time"

// Config holds all application configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in sensible defaults for all optional settings
//  2. Config File: optional YAML config file (config.yaml)
//  3. Environment Variables: override any scalar setting
//
// Tenants and Sources are list-valued and configured via the YAML file only.
//
// Thread Safety: Config is immutable after Load() and safe for concurrent
// read access from multiple goroutines.
type Config struct {
	ERP      ERPConfig      `koanf:"erp"`
	Database DatabaseConfig `koanf:"database"`
	Cache    CacheConfig    `koanf:"cache"`
	Sync     SyncConfig     `koanf:"sync"`
	Bulk     BulkConfig     `koanf:"bulk"`
	Journal  JournalConfig  `koanf:"journal"`
	Server   ServerConfig   `koanf:"server"`
	API      APIConfig      `koanf:"api"`
	Logging  LoggingConfig  `koanf:"logging"`

	// Tenants lists the company accounts available for synchronization.
	Tenants []TenantConfig `koanf:"tenants" validate:"dive"`

	// Sources lists the logical data sources synced per tenant.
	Sources []SourceConfig `koanf:"sources" validate:"dive"`
}

// ERPConfig holds remote ERP API connection settings.
type ERPConfig struct {
	URL     string        `koanf:"url" validate:"required,url"`
	APIKey  string        `koanf:"api_key" validate:"required"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// RateLimit caps outbound requests per second; the remote API is
	// credit-limited so redundant or bursty traffic costs real money.
	RateLimit float64 `koanf:"rate_limit" validate:"gt=0"`
	RateBurst int     `koanf:"rate_burst" validate:"gte=1"`

	// PageSize is the remote page length requested per call.
	PageSize int `koanf:"page_size" validate:"gte=1,lte=10000"`

	// BreakerEnabled wraps the client in a circuit breaker.
	BreakerEnabled bool `koanf:"breaker_enabled"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"gte=0"` // 0 = runtime.NumCPU()
}

// CacheConfig holds in-memory cache settings. The staleness ratio is a fixed
// constant (0.8) in the cache package, not configuration.
type CacheConfig struct {
	// TTL is the default freshness window per logical source.
	TTL time.Duration `koanf:"ttl" validate:"gt=0"`

	// CleanupInterval is how often fully expired entries are evicted.
	CleanupInterval time.Duration `koanf:"cleanup_interval" validate:"gt=0"`
}

// SyncConfig holds sync primitive and scheduler settings.
type SyncConfig struct {
	// BatchSize is the upsert batch size applied per local transaction.
	BatchSize int `koanf:"batch_size" validate:"gte=1,lte=10000"`

	// KeyPageSize is the page length used when loading the existing local
	// key set for a scope. The full set must be paged through completely.
	KeyPageSize int `koanf:"key_page_size" validate:"gte=1"`

	// SchedulerEnabled turns on the periodic background bulk sync.
	SchedulerEnabled bool `koanf:"scheduler_enabled"`

	// Interval is the period of the background bulk sync.
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
}

// BulkConfig holds bulk orchestrator settings.
type BulkConfig struct {
	// TenantDelay is the fixed wait between consecutive tenants,
	// the rate-limiting guard against remote API throttling.
	TenantDelay time.Duration `koanf:"tenant_delay" validate:"gte=0"`
}

// JournalConfig holds the badger-backed bulk-run journal settings.
type JournalConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`

	// KeepRuns bounds how many finished runs the list endpoint returns.
	KeepRuns int `koanf:"keep_runs" validate:"gte=1"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host" validate:"required"`
	Port    int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// APIConfig holds API pagination and protection settings.
type APIConfig struct {
	DefaultPageSize int           `koanf:"default_page_size" validate:"gte=1"`
	MaxPageSize     int           `koanf:"max_page_size" validate:"gte=1"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gte=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// TenantConfig identifies one company account on one ERP server.
type TenantConfig struct {
	ID          string `koanf:"id" validate:"required"`
	ServerName  string `koanf:"server" validate:"required"`
	CompanyCode string `koanf:"company" validate:"required"`
	PeriodCode  string `koanf:"period" validate:"required"`
}

// SourceConfig describes one logical data source synced per tenant.
type SourceConfig struct {
	Slug string `koanf:"slug" validate:"required"`

	// TTL overrides the default cache TTL for this source; 0 uses the default.
	TTL time.Duration `koanf:"ttl" validate:"gte=0"`

	// DateField, when set, is the remote column eligible for date filtering.
	DateField string `koanf:"date_field"`
}
