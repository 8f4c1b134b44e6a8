package events

import (
	"context"
	"log/slog"

	"warden/contexts/custody/authorization-engine/ports"
)

// Publisher is a logging event publisher used for local wiring and tests.
// Production wiring points the outbox relay at the messaging bus instead.
type Publisher struct {
	logger *slog.Logger
}

func NewPublisher(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{logger: logger}
}

func (p Publisher) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	p.logger.Info("custody event published",
		"event", "custody_event_published",
		"module", "custody/authorization-engine",
		"layer", "adapter",
		"topic", topic,
		"event_id", event.EventID,
		"event_type", event.EventType,
		"partition_key", event.PartitionKey,
	)
	return nil
}

var _ ports.EventPublisher = (*Publisher)(nil)
