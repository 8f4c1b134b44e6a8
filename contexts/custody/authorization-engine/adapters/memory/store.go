package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"warden/contexts/custody/authorization-engine/domain/entities"
	domainerrors "warden/contexts/custody/authorization-engine/domain/errors"
	"warden/contexts/custody/authorization-engine/domain/valueobjects"
	"warden/contexts/custody/authorization-engine/ports"

	"github.com/google/uuid"
)

// Store is an in-memory adapter implementing repository/idempotency/outbox
// ports. It is intended for tests and local development wiring.
type Store struct {
	mu sync.RWMutex

	vaults map[string]entities.Vault
	votes  map[string]entities.RecoveryVote

	idempotency map[string]ports.IdempotencyRecord
	outbox      map[string]outboxRow
	outboxSeq   uint64

	// FixedNow pins the clock for deterministic tests; zero means wall time.
	FixedNow time.Time
}

type outboxRow struct {
	ports.OutboxMessage
	// Seq breaks CreatedAt ties so relay order stays deterministic under a
	// fixed test clock.
	Seq         uint64
	PublishedAt *time.Time
}

// NewStore builds an empty in-memory adapter.
func NewStore() *Store {
	return &Store{
		vaults:      make(map[string]entities.Vault),
		votes:       make(map[string]entities.RecoveryVote),
		idempotency: make(map[string]ports.IdempotencyRecord),
		outbox:      make(map[string]outboxRow),
	}
}

func (s *Store) GetVault(_ context.Context, vaultID string) (entities.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vault, ok := s.vaults[vaultID]
	if !ok {
		return entities.Vault{}, domainerrors.ErrVaultNotFound
	}
	return vault.Clone(), nil
}

func (s *Store) SaveVault(_ context.Context, vault entities.Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vaults[vault.VaultID] = vault.Clone()
	return nil
}

func (s *Store) GetVoteByVoter(
	_ context.Context,
	vaultID string,
	guardianID, candidateID valueobjects.Identity,
) (entities.RecoveryVote, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, vote := range s.votes {
		if vote.VaultID == vaultID && vote.GuardianID == guardianID && vote.CandidateID == candidateID {
			return vote, true, nil
		}
	}
	return entities.RecoveryVote{}, false, nil
}

func (s *Store) CountVotes(_ context.Context, vaultID string, candidateID valueobjects.Identity) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, vote := range s.votes {
		if vote.VaultID == vaultID && vote.CandidateID == candidateID {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListVotes(_ context.Context, vaultID string) ([]entities.RecoveryVote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]entities.RecoveryVote, 0)
	for _, vote := range s.votes {
		if vote.VaultID == vaultID {
			items = append(items, vote)
		}
	}
	return items, nil
}

func (s *Store) SaveVote(_ context.Context, vote entities.RecoveryVote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.votes {
		if existing.VaultID == vote.VaultID &&
			existing.GuardianID == vote.GuardianID &&
			existing.CandidateID == vote.CandidateID {
			return domainerrors.ErrDuplicateVote
		}
	}
	s.votes[vote.VoteID] = vote
	return nil
}

func (s *Store) DeleteVote(
	_ context.Context,
	vaultID string,
	guardianID, candidateID valueobjects.Identity,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, vote := range s.votes {
		if vote.VaultID == vaultID && vote.GuardianID == guardianID && vote.CandidateID == candidateID {
			delete(s.votes, id)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteVotesForCandidate(_ context.Context, vaultID string, candidateID valueobjects.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, vote := range s.votes {
		if vote.VaultID == vaultID && vote.CandidateID == candidateID {
			delete(s.votes, id)
		}
	}
	return nil
}

func (s *Store) GetRecord(_ context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.idempotency[key]
	if !ok {
		return ports.IdempotencyRecord{}, false, nil
	}
	if !record.ExpiresAt.After(now) {
		delete(s.idempotency, key)
		return ports.IdempotencyRecord{}, false, nil
	}
	return record, true, nil
}

func (s *Store) PutRecord(_ context.Context, record ports.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.idempotency[record.Key]
	if exists && existing.RequestHash != record.RequestHash {
		return domainerrors.ErrIdempotencyConflict
	}
	s.idempotency[record.Key] = record
	return nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.outbox[envelope.EventID]; exists {
		return domainerrors.ErrIdempotencyConflict
	}
	payload, err := marshalEnvelope(envelope)
	if err != nil {
		return err
	}
	s.outboxSeq++
	s.outbox[envelope.EventID] = outboxRow{
		OutboxMessage: ports.OutboxMessage{
			OutboxID:  envelope.EventID,
			EventType: envelope.EventType,
			Payload:   payload,
			CreatedAt: envelope.OccurredAt,
		},
		Seq: s.outboxSeq,
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	pending := make([]outboxRow, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.PublishedAt == nil {
			pending = append(pending, row)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].Seq < pending[j].Seq
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	rows := make([]ports.OutboxMessage, 0, len(pending))
	for _, row := range pending {
		rows = append(rows, row.OutboxMessage)
	}
	return rows, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.outbox[outboxID]
	if !ok {
		return domainerrors.ErrConflict
	}
	value := publishedAt.UTC()
	row.PublishedAt = &value
	s.outbox[outboxID] = row
	return nil
}

// PendingOutboxCount reports unpublished rows. Test helper.
func (s *Store) PendingOutboxCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, row := range s.outbox {
		if row.PublishedAt == nil {
			count++
		}
	}
	return count
}

func (s *Store) Now() time.Time {
	if !s.FixedNow.IsZero() {
		return s.FixedNow
	}
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func marshalEnvelope(envelope ports.EventEnvelope) ([]byte, error) {
	return json.Marshal(envelope)
}

var _ ports.VaultRepository = (*Store)(nil)
var _ ports.IdempotencyStore = (*Store)(nil)
var _ ports.OutboxWriter = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)
