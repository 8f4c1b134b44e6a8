package messaging

import (
	"context"

	"warden/contexts/custody/authorization-engine/ports"
	"warden/internal/platform/metrics"
)

// CountingPublisher decorates a publisher with the process metrics counter.
// Only broker-acknowledged publishes are counted; failures are left to the
// relay's own failure accounting.
type CountingPublisher struct {
	Next      ports.EventPublisher
	Collector *metrics.Metrics
}

func (p CountingPublisher) Publish(ctx context.Context, topic string, event ports.EventEnvelope) error {
	if err := p.Next.Publish(ctx, topic, event); err != nil {
		return err
	}
	if p.Collector != nil {
		p.Collector.EventPublished()
	}
	return nil
}

var _ ports.EventPublisher = CountingPublisher{}
