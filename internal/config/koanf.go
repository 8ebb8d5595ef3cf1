// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/erpsync/config.yaml",
	"/etc/erpsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		ERP: ERPConfig{
			URL:            "",
			APIKey:         "",
			Timeout:        30 * time.Second,
			RateLimit:      5,
			RateBurst:      5,
			PageSize:       1000,
			BreakerEnabled: true,
		},
		Database: DatabaseConfig{
			Path:      "/data/erpsync.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Cache: CacheConfig{
			TTL:             10 * time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		Sync: SyncConfig{
			BatchSize:        500,
			KeyPageSize:      10000,
			SchedulerEnabled: false,
			Interval:         1 * time.Hour,
		},
		Bulk: BulkConfig{
			TenantDelay: 2 * time.Second,
		},
		Journal: JournalConfig{
			Enabled:  true,
			Path:     "/data/journal",
			KeepRuns: 50,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8492,
			Timeout: 30 * time.Second,
		},
		API: APIConfig{
			DefaultPageSize: 50,
			MaxPageSize:     500,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config File: optional YAML config file (if found)
//  3. Environment Variables: override any scalar setting
//
// Precedence: ENV > File > Defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// ERP_API_KEY -> erp.api_key, BULK_TENANT_DELAY -> bulk.tenant_delay
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		return ""
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// configSections are the top-level section names recognized in environment
// variable names. An env var whose first underscore-separated token is not a
// known section is ignored rather than polluting the config map.
var configSections = map[string]bool{
	"erp":      true,
	"database": true,
	"cache":    true,
	"sync":     true,
	"bulk":     true,
	"journal":  true,
	"server":   true,
	"api":      true,
	"logging":  true,
}

// envTransformFunc transforms environment variable names to koanf paths.
//
// Examples:
//   - ERP_URL -> erp.url
//   - ERP_API_KEY -> erp.api_key
//   - BULK_TENANT_DELAY -> bulk.tenant_delay
//   - SERVER_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	section, rest, found := strings.Cut(key, "_")
	if !found || !configSections[section] {
		return "" // not ours, skip
	}
	return section + "." + rest
}
