// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/jmfalke/erpsync/internal/models"
)

// newTestClient builds a client with no connection; hub tests only exercise
// the send channel.
func newTestClient(hub *Hub, buffer int) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		send: make(chan Message, buffer),
	}
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("hub did not stop after cancel")
		}
	})
	return hub, cancel
}

func register(t *testing.T, hub *Hub, client *Client) {
	t.Helper()

	hub.Register <- client
	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

func recvMessage(t *testing.T, client *Client) Message {
	t.Helper()

	select {
	case msg, ok := <-client.send:
		if !ok {
			t.Fatal("send channel closed unexpectedly")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
	return Message{}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub, _ := startHub(t)
	client := newTestClient(hub, 1)

	register(t, hub, client)
	if hub.GetClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", hub.GetClientCount())
	}

	hub.Unregister <- client
	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if hub.GetClientCount() != 0 {
		t.Fatalf("client count = %d, want 0", hub.GetClientCount())
	}

	// Unregister closes the send channel.
	if _, ok := <-client.send; ok {
		t.Error("send channel must be closed after unregister")
	}
}

func TestHubBroadcastTenantProgress(t *testing.T) {
	hub, _ := startHub(t)
	c1 := newTestClient(hub, 4)
	c2 := newTestClient(hub, 4)
	register(t, hub, c1)
	register(t, hub, c2)
	for hub.GetClientCount() != 2 {
		time.Sleep(time.Millisecond)
	}

	hub.BroadcastTenantProgress(models.TenantProgress{
		RunID:    "run-1",
		TenantID: "t1",
		Status:   models.JobRunning,
	})

	for _, client := range []*Client{c1, c2} {
		msg := recvMessage(t, client)
		if msg.Type != MessageTypeBulkProgress {
			t.Errorf("message type = %q, want %q", msg.Type, MessageTypeBulkProgress)
		}
		progress, ok := msg.Data.(models.TenantProgress)
		if !ok {
			t.Fatalf("unexpected data type %T", msg.Data)
		}
		if progress.RunID != "run-1" || progress.TenantID != "t1" {
			t.Errorf("unexpected progress: %+v", progress)
		}
	}
}

func TestHubBroadcastRunFinished(t *testing.T) {
	hub, _ := startHub(t)
	client := newTestClient(hub, 4)
	register(t, hub, client)

	finished := time.Now().UTC()
	hub.BroadcastRunFinished(&models.BulkRun{
		ID:         "run-2",
		Status:     models.RunCompleted,
		Summary:    &models.BulkSummary{SuccessCount: 3},
		FinishedAt: &finished,
	})

	msg := recvMessage(t, client)
	if msg.Type != MessageTypeRunFinished {
		t.Fatalf("message type = %q", msg.Type)
	}
	data, ok := msg.Data.(RunFinishedData)
	if !ok {
		t.Fatalf("unexpected data type %T", msg.Data)
	}
	if data.RunID != "run-2" || data.Status != models.RunCompleted {
		t.Errorf("unexpected data: %+v", data)
	}
	if data.Summary == nil || data.Summary.SuccessCount != 3 {
		t.Errorf("summary not carried: %+v", data.Summary)
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub, _ := startHub(t)
	slow := newTestClient(hub, 1)
	fast := newTestClient(hub, 16)
	register(t, hub, slow)
	register(t, hub, fast)
	for hub.GetClientCount() != 2 {
		time.Sleep(time.Millisecond)
	}

	// The slow client's buffer fills after one message; the second broadcast
	// drops it while the fast client keeps receiving.
	hub.BroadcastStatsUpdate(models.StatsSnapshot{RemoteCalls: 1})
	hub.BroadcastStatsUpdate(models.StatsSnapshot{RemoteCalls: 2})

	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if hub.GetClientCount() != 1 {
		t.Fatalf("client count = %d, want 1 after dropping slow client", hub.GetClientCount())
	}

	msg := recvMessage(t, fast)
	if msg.Type != MessageTypeStatsUpdate {
		t.Errorf("message type = %q", msg.Type)
	}
	msg = recvMessage(t, fast)
	if msg.Type != MessageTypeStatsUpdate {
		t.Errorf("message type = %q", msg.Type)
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub, cancel := startHub(t)
	client := newTestClient(hub, 4)
	register(t, hub, client)

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if hub.GetClientCount() != 0 {
		t.Fatal("shutdown must remove all clients")
	}

	select {
	case _, ok := <-client.send:
		if ok {
			// Drain a buffered message; the close must still follow.
			if _, ok := <-client.send; ok {
				t.Error("send channel must be closed on shutdown")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed on shutdown")
	}
}
