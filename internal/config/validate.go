// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// singleton validator instance; caches struct metadata across calls.
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the configuration for structural and semantic errors.
// Struct tags cover field-level rules; cross-field rules are checked here.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("invalid configuration struct: %w", err)
		}

		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid config field %s: failed %q validation", fe.Namespace(), fe.Tag())
		}
		return err
	}

	return c.validateCrossField()
}

func (c *Config) validateCrossField() error {
	if c.API.DefaultPageSize > c.API.MaxPageSize {
		return fmt.Errorf("api.default_page_size (%d) exceeds api.max_page_size (%d)",
			c.API.DefaultPageSize, c.API.MaxPageSize)
	}

	seen := make(map[string]bool, len(c.Tenants))
	for _, t := range c.Tenants {
		if seen[t.ID] {
			return fmt.Errorf("duplicate tenant id %q", t.ID)
		}
		seen[t.ID] = true
	}

	slugs := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if slugs[s.Slug] {
			return fmt.Errorf("duplicate source slug %q", s.Slug)
		}
		slugs[s.Slug] = true
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		return errors.New("journal.path is required when journal.enabled is true")
	}

	return nil
}

// SourceTTL returns the cache TTL for a source slug, falling back to the
// global cache TTL when the source has no override or is unknown.
func (c *Config) SourceTTL(slug string) time.Duration {
	for _, s := range c.Sources {
		if s.Slug == slug && s.TTL > 0 {
			return s.TTL
		}
	}
	return c.Cache.TTL
}
