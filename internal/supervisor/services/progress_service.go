// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package services

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/jmfalke/erpsync/internal/logging"
	"github.com/jmfalke/erpsync/internal/models"
	syncengine "github.com/jmfalke/erpsync/internal/sync"
	"github.com/jmfalke/erpsync/internal/websocket"
)

// ProgressService bridges the in-process progress bus to the websocket hub:
// every tenant job transition published by the orchestrator is pushed to all
// connected dashboard clients.
type ProgressService struct {
	bus *syncengine.ProgressBus
	hub *websocket.Hub
}

// NewProgressService wires the bus to the hub.
func NewProgressService(bus *syncengine.ProgressBus, hub *websocket.Hub) *ProgressService {
	return &ProgressService{bus: bus, hub: hub}
}

// Serve implements suture.Service: consume progress messages until the
// context cancels. Malformed messages are acked and dropped; replaying them
// would only fail again.
func (s *ProgressService) Serve(ctx context.Context) error {
	messages, err := s.bus.Subscribe(ctx, syncengine.TopicBulkProgress)
	if err != nil {
		return fmt.Errorf("subscribe to progress topic: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}

			var progress models.TenantProgress
			if err := json.Unmarshal(msg.Payload, &progress); err != nil {
				logging.Warn().Err(err).Msg("dropping malformed progress message")
				msg.Ack()
				continue
			}

			s.hub.BroadcastTenantProgress(progress)
			msg.Ack()
		}
	}
}

// String implements fmt.Stringer for suture log output.
func (s *ProgressService) String() string {
	return "progress-bridge"
}
