// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

// Package journal persists finished bulk runs in an embedded Badger store so
// run history survives restarts. The journal is write-once per run: the
// orchestrator writes the terminal state, nothing updates it afterwards.
package journal

import (
	"errors"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/jmfalke/erpsync/internal/config"
	"github.com/jmfalke/erpsync/internal/logging"
	"github.com/jmfalke/erpsync/internal/models"
)

// runPrefix namespaces run entries within the store.
const runPrefix = "run:"

// runRetention is how long a journaled run is kept before Badger expires it.
const runRetention = 90 * 24 * time.Hour

// ErrRunNotFound is returned when the requested run is not journaled.
var ErrRunNotFound = errors.New("run not found in journal")

// Journal is the Badger-backed bulk run history.
type Journal struct {
	db       *badger.DB
	keepRuns int
}

// Open opens (or creates) the journal at the configured path.
func Open(cfg config.JournalConfig) (*Journal, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithLogger(badgerLogger{}).
		WithCompactL0OnClose(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", cfg.Path, err)
	}

	logging.Info().Str("path", cfg.Path).Msg("run journal opened")
	return &Journal{db: db, keepRuns: cfg.KeepRuns}, nil
}

// OpenInMemory opens an in-memory journal. Used in tests.
func OpenInMemory() (*Journal, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory journal: %w", err)
	}
	return &Journal{db: db, keepRuns: 50}, nil
}

// PutRun journals one finished run.
func (j *Journal) PutRun(run *models.BulkRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(runPrefix+run.ID), payload).WithTTL(runRetention)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to journal run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads one journaled run by ID.
func (j *Journal) GetRun(runID string) (*models.BulkRun, error) {
	var run models.BulkRun

	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(runPrefix + runID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrRunNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return &run, nil
}

// ListRuns returns journaled runs, newest first, capped at the configured
// retention count.
func (j *Journal) ListRuns() ([]*models.BulkRun, error) {
	var runs []*models.BulkRun

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var run models.BulkRun
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			})
			if err != nil {
				return err
			}
			runs = append(runs, &run)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	sort.Slice(runs, func(i, k int) bool {
		return runs[i].StartedAt.After(runs[k].StartedAt)
	})
	if j.keepRuns > 0 && len(runs) > j.keepRuns {
		runs = runs[:j.keepRuns]
	}
	return runs, nil
}

// Close closes the underlying store.
func (j *Journal) Close() error {
	return j.db.Close()
}

// badgerLogger routes Badger's internal logging into zerolog at low levels;
// Badger is chatty at INFO.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error().Msgf("badger: "+format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn().Msgf("badger: "+format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.Debug().Msgf("badger: "+format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.Trace().Msgf("badger: "+format, args...)
}
