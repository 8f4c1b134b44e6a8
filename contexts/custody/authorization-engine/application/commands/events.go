package commands

import (
	"encoding/json"
	"time"

	"warden/contexts/custody/authorization-engine/ports"
)

func newCustodyEnvelope(
	eventID string,
	eventType string,
	vaultID string,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	// Command-side events are partitioned by vault so consumers observe each
	// vault's state transitions in order.
	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:       eventID,
		EventType:     eventType,
		OccurredAt:    occurredAt.UTC(),
		SourceService: "authorization-engine",
		SchemaVersion: 1,
		PartitionKey:  vaultID,
		Data:          payload,
	}, nil
}
