// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package services

import (
	"context"

	"github.com/jmfalke/erpsync/internal/websocket"
)

// HubService runs the websocket hub event loop under supervision.
type HubService struct {
	hub *websocket.Hub
}

// NewHubService wraps the hub.
func NewHubService(hub *websocket.Hub) *HubService {
	return &HubService{hub: hub}
}

// Serve implements suture.Service.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

// String implements fmt.Stringer for suture log output.
func (s *HubService) String() string {
	return "websocket-hub"
}
