// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package sync

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/jmfalke/erpsync/internal/models"
)

func TestProgressBusDelivers(t *testing.T) {
	bus := NewProgressBus()
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := bus.Subscribe(ctx, TopicBulkProgress)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	want := models.TenantProgress{
		RunID:        "run-1",
		TenantID:     "t1",
		Status:       models.JobRunning,
		RecordsTotal: 5,
		Timestamp:    time.Now().UTC(),
	}
	bus.PublishProgress(want)

	select {
	case msg := <-messages:
		var got models.TenantProgress
		if err := json.Unmarshal(msg.Payload, &got); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		msg.Ack()

		if got.RunID != want.RunID || got.TenantID != want.TenantID || got.Status != want.Status {
			t.Errorf("got %+v, want %+v", got, want)
		}
		if got.RecordsTotal != 5 {
			t.Errorf("RecordsTotal = %d, want 5", got.RecordsTotal)
		}

	case <-time.After(2 * time.Second):
		t.Fatal("progress message not delivered")
	}
}

func TestProgressBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewProgressBus()
	defer func() { _ = bus.Close() }()

	// Publishing into the void must not block or panic.
	bus.PublishProgress(models.TenantProgress{RunID: "run-1", TenantID: "t1", Status: models.JobSuccess})
}
