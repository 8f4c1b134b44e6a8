package workers_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"warden/contexts/custody/authorization-engine/adapters/memory"
	"warden/contexts/custody/authorization-engine/application/workers"
	"warden/contexts/custody/authorization-engine/ports"
)

type capturePublisher struct {
	published []ports.EventEnvelope
	topics    []string
	failAfter int
}

func (p *capturePublisher) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	if p.failAfter > 0 && len(p.published) >= p.failAfter {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, event)
	p.topics = append(p.topics, topic)
	return nil
}

func appendEnvelope(t *testing.T, store *memory.Store, eventID string, eventType string, occurredAt time.Time) {
	t.Helper()
	err := store.AppendOutbox(context.Background(), ports.EventEnvelope{
		EventID:       eventID,
		EventType:     eventType,
		OccurredAt:    occurredAt,
		SourceService: "authorization-engine",
		SchemaVersion: 1,
		PartitionKey:  "vault-1",
		Data:          []byte(`{"vault_id":"vault-1"}`),
	})
	if err != nil {
		t.Fatalf("append outbox failed: %v", err)
	}
}

func TestOutboxRelayPublishesPendingInOrder(t *testing.T) {
	store := memory.NewStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	appendEnvelope(t, store, "evt-1", "custody.vault_created", base)
	appendEnvelope(t, store, "evt-2", "custody.deposited", base.Add(time.Second))

	publisher := &capturePublisher{}
	relay := workers.OutboxRelay{Outbox: store, Publisher: publisher, Clock: store}

	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("relay run failed: %v", err)
	}
	if len(publisher.published) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(publisher.published))
	}
	if publisher.published[0].EventID != "evt-1" || publisher.published[1].EventID != "evt-2" {
		t.Fatalf("expected creation order, got %s then %s",
			publisher.published[0].EventID, publisher.published[1].EventID)
	}
	if publisher.topics[0] != "custody.vault_created" {
		t.Fatalf("topic must follow the event type, got %s", publisher.topics[0])
	}
	if store.PendingOutboxCount() != 0 {
		t.Fatalf("published rows must leave the pending set")
	}
}

func TestOutboxRelayKeepsInsertionOrderOnEqualTimestamps(t *testing.T) {
	store := memory.NewStore()
	// One command can append several events within the same clock reading;
	// relay order must still follow insertion order.
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.FixedNow = at
	for _, eventID := range []string{"evt-1", "evt-2", "evt-3", "evt-4"} {
		appendEnvelope(t, store, eventID, "custody.vote_cast", at)
	}

	publisher := &capturePublisher{}
	relay := workers.OutboxRelay{Outbox: store, Publisher: publisher, Clock: store}

	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("relay run failed: %v", err)
	}
	if len(publisher.published) != 4 {
		t.Fatalf("expected 4 published events, got %d", len(publisher.published))
	}
	for i, want := range []string{"evt-1", "evt-2", "evt-3", "evt-4"} {
		if publisher.published[i].EventID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, publisher.published[i].EventID)
		}
	}
}

func TestOutboxRelayStopsOnPublishFailure(t *testing.T) {
	store := memory.NewStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	appendEnvelope(t, store, "evt-1", "custody.vote_cast", base)
	appendEnvelope(t, store, "evt-2", "custody.vote_cast", base.Add(time.Second))

	publisher := &capturePublisher{failAfter: 1}
	relay := workers.OutboxRelay{Outbox: store, Publisher: publisher, Clock: store}

	if err := relay.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected relay error on broker failure")
	}
	if store.PendingOutboxCount() != 1 {
		t.Fatalf("unpublished row must stay pending, got %d pending", store.PendingOutboxCount())
	}

	// Recovery on the next cycle picks up where the failure stopped.
	publisher.failAfter = 0
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("retry run failed: %v", err)
	}
	if store.PendingOutboxCount() != 0 {
		t.Fatalf("retry must drain the backlog")
	}
}

func TestOutboxRelayNoopOnEmptyBacklog(t *testing.T) {
	store := memory.NewStore()
	publisher := &capturePublisher{}
	relay := workers.OutboxRelay{Outbox: store, Publisher: publisher, Clock: store}

	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("empty run failed: %v", err)
	}
	if len(publisher.published) != 0 {
		t.Fatalf("nothing to publish, got %d", len(publisher.published))
	}
}
