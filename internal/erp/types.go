// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package erp

import (
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/jmfalke/erpsync/internal/models"
)

// recordsEnvelope is the JSON envelope returned by the remote sqldata
// endpoint. Rows are kept raw: payloads are opaque to the sync engine and
// stored verbatim, only dia_key is extracted.
type recordsEnvelope struct {
	Success    bool              `json:"success"`
	TotalCount int               `json:"totalcount"`
	Rows       []json.RawMessage `json:"rows"`
	Error      string            `json:"error,omitempty"`
}

// RecordsPage is one page of remote records for a scope.
type RecordsPage struct {
	Rows       []models.RemoteRecord
	TotalCount int
}

// RemoteError is an error payload reported by the remote API itself,
// as opposed to a transport failure. Both abort a sync pass identically.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote API error: %s", e.Message)
}

// keyProbe extracts only the remote key from a raw row.
type keyProbe struct {
	DiaKey interface{} `json:"dia_key"`
}

// parseRow extracts the dia_key from a raw row. Rows without a usable
// numeric key yield HasKey=false; the sync primitive drops them from counts.
func parseRow(raw json.RawMessage) models.RemoteRecord {
	rec := models.RemoteRecord{Payload: raw}

	var probe keyProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return rec
	}

	if key, ok := toDiaKey(probe.DiaKey); ok {
		rec.Key = key
		rec.HasKey = true
	}
	return rec
}

// toDiaKey coerces a decoded JSON value into a remote key. The API returns
// dia_key as a number, but some sources serialize it as a numeric string.
func toDiaKey(v interface{}) (int64, bool) {
	switch k := v.(type) {
	case float64:
		if k != math.Trunc(k) || math.Abs(k) > math.MaxInt64 {
			return 0, false
		}
		return int64(k), true
	case string:
		n, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
