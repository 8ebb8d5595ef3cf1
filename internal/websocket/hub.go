// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

// Package websocket pushes bulk run progress and stats updates to connected
// dashboard clients.
package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmfalke/erpsync/internal/logging"
	"github.com/jmfalke/erpsync/internal/metrics"
	"github.com/jmfalke/erpsync/internal/models"
)

// Message types pushed to clients.
const (
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeBulkProgress = "bulk_progress"
	MessageTypeRunFinished  = "run_finished"
	MessageTypeStatsUpdate  = "stats_update"
)

// Message is the envelope for all WebSocket traffic.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext runs the hub event loop until the context is canceled, then
// closes all clients and returns ctx.Err(). Designed for suture supervision.
//
// Selection is priority-ordered (shutdown, lifecycle, broadcast) so client
// state is consistent before any message is delivered; Go's select picks
// randomly among ready channels otherwise.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnectedClients.Set(float64(n))
	logging.Info().Int("total_clients", n).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnectedClients.Set(float64(n))
	logging.Info().Int("total_clients", n).Msg("websocket client disconnected")
}

// broadcastToClients delivers a message to all clients in client-ID order.
// Sorted delivery keeps tests reproducible; a client with a full send buffer
// is dropped rather than allowed to stall the others.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
	if len(toRemove) > 0 {
		metrics.WSConnectedClients.Set(float64(len(h.clients)))
		logging.Warn().Int("dropped", len(toRemove)).Msg("dropped slow websocket clients")
	}
}

// shutdown closes all clients in ID order and logs the reason. Context
// cancellation is expected during graceful shutdown and is not an error.
func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	reason := "context_canceled"
	if ctx.Err() == context.DeadlineExceeded {
		reason = "context_deadline"
	}

	metrics.WSConnectedClients.Set(0)
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", reason).
		Int("clients_closed", len(clients)).
		Msg("websocket hub stopped")
}

// BroadcastTenantProgress pushes one tenant job transition of a bulk run.
func (h *Hub) BroadcastTenantProgress(progress models.TenantProgress) {
	h.enqueue(Message{Type: MessageTypeBulkProgress, Data: progress})
}

// RunFinishedData is sent with run_finished messages.
type RunFinishedData struct {
	RunID     string              `json:"run_id"`
	Status    models.RunStatus    `json:"status"`
	Summary   *models.BulkSummary `json:"summary,omitempty"`
	Timestamp string              `json:"timestamp"`
}

// BroadcastRunFinished notifies clients that a bulk run reached a terminal
// state.
func (h *Hub) BroadcastRunFinished(run *models.BulkRun) {
	h.enqueue(Message{
		Type: MessageTypeRunFinished,
		Data: RunFinishedData{
			RunID:     run.ID,
			Status:    run.Status,
			Summary:   run.Summary,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// BroadcastStatsUpdate pushes the current fetch/cache counters.
func (h *Hub) BroadcastStatsUpdate(snapshot models.StatsSnapshot) {
	h.enqueue(Message{Type: MessageTypeStatsUpdate, Data: snapshot})
}

// enqueue submits a message for broadcast, dropping it when the queue is
// full. Progress events are advisory; backpressure on the hub must never
// reach the orchestrator.
func (h *Hub) enqueue(message Message) {
	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Str("message_type", message.Type).Msg("broadcast channel full, dropping message")
	}
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
