package ports

import (
	"context"
	"time"

	"warden/contexts/custody/authorization-engine/domain/entities"
	"warden/contexts/custody/authorization-engine/domain/valueobjects"
)

// Clock abstracts current time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator abstracts UUID generation for vaults, votes, and outbox rows.
type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// VaultRepository is the write/read boundary for custody state. Commands run
// strictly serialized per vault (the hosting environment's contract), so every
// method observes and commits a consistent snapshot.
type VaultRepository interface {
	GetVault(ctx context.Context, vaultID string) (entities.Vault, error)
	SaveVault(ctx context.Context, vault entities.Vault) error

	GetVoteByVoter(ctx context.Context, vaultID string, guardianID, candidateID valueobjects.Identity) (entities.RecoveryVote, bool, error)
	CountVotes(ctx context.Context, vaultID string, candidateID valueobjects.Identity) (int, error)
	ListVotes(ctx context.Context, vaultID string) ([]entities.RecoveryVote, error)
	SaveVote(ctx context.Context, vote entities.RecoveryVote) error
	DeleteVote(ctx context.Context, vaultID string, guardianID, candidateID valueobjects.Identity) (bool, error)
	DeleteVotesForCandidate(ctx context.Context, vaultID string, candidateID valueobjects.Identity) error
}

// TransferReceipt is the execution environment's synchronous answer to a
// transfer-and-invoke request.
type TransferReceipt struct {
	Success    bool
	ReturnData []byte
}

// TransferGate is the one point where control leaves the engine: the
// environment moves value and invokes the target atomically, reporting
// success or failure before the command resumes. A failed call must leave no
// side effects downstream; the command keeps the debit unpersisted until the
// receipt confirms success.
type TransferGate interface {
	TransferAndInvoke(ctx context.Context, to valueobjects.Identity, value valueobjects.Amount, payload []byte) (TransferReceipt, error)
}

// IdempotencyRecord stores the request hash and previous response payload for
// replay-safe mutating commands.
type IdempotencyRecord struct {
	Key             string
	Operation       string
	RequestHash     string
	ResponsePayload []byte
	ExpiresAt       time.Time
}

// IdempotencyStore guarantees replay/conflict behavior for mutating commands.
type IdempotencyStore interface {
	GetRecord(ctx context.Context, key string, now time.Time) (IdempotencyRecord, bool, error)
	PutRecord(ctx context.Context, record IdempotencyRecord) error
}

// EventEnvelope is the custody event shape persisted to the outbox and
// published to the bus.
type EventEnvelope struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	OccurredAt    time.Time `json:"occurred_at"`
	SourceService string    `json:"source_service"`
	SchemaVersion int       `json:"schema_version"`
	PartitionKey  string    `json:"partition_key"`
	Data          []byte    `json:"data"`
}

// OutboxWriter appends command-side events for asynchronous relay.
type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

// OutboxMessage is a pending relay row.
type OutboxMessage struct {
	OutboxID  string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// OutboxRepository supports worker relay polling and acknowledgement.
type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

// EventPublisher emits custody events to the event bus adapter.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}
