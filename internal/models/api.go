// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package models

// APIResponse is the envelope for every JSON API response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

// APIError carries a stable machine-readable code plus a human message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIMeta carries pagination and freshness metadata alongside list responses.
type APIMeta struct {
	Page       int  `json:"page,omitempty"`
	PageSize   int  `json:"page_size,omitempty"`
	TotalCount int  `json:"total_count,omitempty"`
	Stale      bool `json:"stale,omitempty"`
}
