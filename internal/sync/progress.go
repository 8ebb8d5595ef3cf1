// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package sync

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/jmfalke/erpsync/internal/logging"
	"github.com/jmfalke/erpsync/internal/models"
)

// TopicBulkProgress carries one message per tenant job transition during a
// bulk run. The websocket hub subscribes here to push progress to clients.
const TopicBulkProgress = "bulk.progress"

// ProgressPublisher is the narrow publishing interface the orchestrator needs.
// A nil-safe no-op keeps tests and the CLI path free of pub/sub plumbing.
type ProgressPublisher interface {
	PublishProgress(progress models.TenantProgress)
}

// ProgressBus is an in-process pub/sub channel for bulk run progress events.
// Subscribers get every transition published after they subscribe; there is
// no replay, late subscribers pick up mid-run.
type ProgressBus struct {
	channel *gochannel.GoChannel
}

// NewProgressBus creates the in-process progress bus.
func NewProgressBus() *ProgressBus {
	return &ProgressBus{
		channel: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, watermillLogger{}),
	}
}

// PublishProgress publishes a tenant job transition. Failures are logged and
// swallowed: progress events are advisory, a slow subscriber must never stall
// or fail a bulk run.
func (b *ProgressBus) PublishProgress(progress models.TenantProgress) {
	payload, err := json.Marshal(progress)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal progress event")
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.channel.Publish(TopicBulkProgress, msg); err != nil {
		logging.Error().Err(err).Str("run_id", progress.RunID).Msg("failed to publish progress event")
	}
}

// Subscribe returns the raw message stream for a topic.
func (b *ProgressBus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.channel.Subscribe(ctx, topic)
}

// Close shuts down the bus and closes all subscriber channels.
func (b *ProgressBus) Close() error {
	return b.channel.Close()
}

// watermillLogger bridges watermill's logging into zerolog.
type watermillLogger struct {
	fields watermill.LogFields
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	logging.Error().Err(err).Fields(l.merge(fields)).Msg(msg)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(l.merge(fields)).Msg(msg)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	logging.Trace().Fields(l.merge(fields)).Msg(msg)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	logging.Trace().Fields(l.merge(fields)).Msg(msg)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{fields: l.merge(fields)}
}

func (l watermillLogger) merge(fields watermill.LogFields) map[string]interface{} {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = fmt.Sprintf("%v", v)
	}
	for k, v := range fields {
		merged[k] = fmt.Sprintf("%v", v)
	}
	return merged
}
