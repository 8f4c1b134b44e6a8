package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"warden/contexts/custody/authorization-engine/domain/entities"
	domainerrors "warden/contexts/custody/authorization-engine/domain/errors"
	"warden/contexts/custody/authorization-engine/domain/valueobjects"
	"warden/contexts/custody/authorization-engine/ports"

	"warden/internal/shared/outbox"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the durable custody adapter. Vault state spans three tables
// (vaults, vault_guardians, vault_allowances) and is written inside one
// transaction so a command's mutations land all-or-nothing.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) GetVault(ctx context.Context, vaultID string) (entities.Vault, error) {
	var row vaultModel
	err := r.db.WithContext(ctx).
		Where("vault_id = ?", strings.TrimSpace(vaultID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Vault{}, domainerrors.ErrVaultNotFound
		}
		return entities.Vault{}, r.logError("custody_repo_get_vault_failed", err, "vault_id", vaultID)
	}

	var guardianRows []guardianModel
	if err := r.db.WithContext(ctx).
		Where("vault_id = ?", row.VaultID).
		Order("position ASC").
		Find(&guardianRows).Error; err != nil {
		return entities.Vault{}, r.logError("custody_repo_list_guardians_failed", err, "vault_id", vaultID)
	}

	var allowanceRows []allowanceModel
	if err := r.db.WithContext(ctx).
		Where("vault_id = ?", row.VaultID).
		Find(&allowanceRows).Error; err != nil {
		return entities.Vault{}, r.logError("custody_repo_list_allowances_failed", err, "vault_id", vaultID)
	}

	return assembleVault(row, guardianRows, allowanceRows)
}

func (r *Repository) SaveVault(ctx context.Context, vault entities.Vault) error {
	row := vaultModelFromEntity(vault)
	guardianRows := guardianModelsFromEntity(vault)
	allowanceRows := allowanceModelsFromEntity(vault)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "vault_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"owner_id":   row.OwnerID,
				"balance":    row.Balance,
				"updated_at": row.UpdatedAt,
			}),
		}).Create(&row).Error; err != nil {
			return err
		}
		// Guardian and allowance sets are small (five and a handful of rows),
		// so replacing them wholesale keeps the write path simple.
		if err := tx.Where("vault_id = ?", row.VaultID).Delete(&guardianModel{}).Error; err != nil {
			return err
		}
		if len(guardianRows) > 0 {
			if err := tx.Create(&guardianRows).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("vault_id = ?", row.VaultID).Delete(&allowanceModel{}).Error; err != nil {
			return err
		}
		if len(allowanceRows) > 0 {
			if err := tx.Create(&allowanceRows).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrConflict
		}
		return r.logError("custody_repo_save_vault_failed", err, "vault_id", vault.VaultID)
	}
	return nil
}

func (r *Repository) GetVoteByVoter(
	ctx context.Context,
	vaultID string,
	guardianID, candidateID valueobjects.Identity,
) (entities.RecoveryVote, bool, error) {
	var row voteModel
	err := r.db.WithContext(ctx).
		Where("vault_id = ?", strings.TrimSpace(vaultID)).
		Where("guardian_id = ?", guardianID).
		Where("candidate_id = ?", candidateID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.RecoveryVote{}, false, nil
		}
		return entities.RecoveryVote{}, false, r.logError("custody_repo_get_vote_failed", err,
			"vault_id", vaultID,
			"guardian_id", guardianID,
		)
	}
	return row.toEntity(), true, nil
}

func (r *Repository) CountVotes(ctx context.Context, vaultID string, candidateID valueobjects.Identity) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&voteModel{}).
		Where("vault_id = ?", strings.TrimSpace(vaultID)).
		Where("candidate_id = ?", candidateID).
		Count(&count).
		Error
	if err != nil {
		return 0, r.logError("custody_repo_count_votes_failed", err,
			"vault_id", vaultID,
			"candidate_id", candidateID,
		)
	}
	return int(count), nil
}

func (r *Repository) ListVotes(ctx context.Context, vaultID string) ([]entities.RecoveryVote, error) {
	var rows []voteModel
	if err := r.db.WithContext(ctx).
		Where("vault_id = ?", strings.TrimSpace(vaultID)).
		Order("cast_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("custody_repo_list_votes_failed", err, "vault_id", vaultID)
	}
	items := make([]entities.RecoveryVote, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) SaveVote(ctx context.Context, vote entities.RecoveryVote) error {
	row := voteModel{
		VoteID:      strings.TrimSpace(vote.VoteID),
		VaultID:     strings.TrimSpace(vote.VaultID),
		GuardianID:  vote.GuardianID,
		CandidateID: vote.CandidateID,
		CastAt:      vote.CastAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		// The unique index over (vault_id, guardian_id, candidate_id) is the
		// durable duplicate-vote guard.
		if isUniqueViolation(err) {
			return domainerrors.ErrDuplicateVote
		}
		return r.logError("custody_repo_save_vote_failed", err,
			"vault_id", vote.VaultID,
			"guardian_id", vote.GuardianID,
		)
	}
	return nil
}

func (r *Repository) DeleteVote(
	ctx context.Context,
	vaultID string,
	guardianID, candidateID valueobjects.Identity,
) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("vault_id = ?", strings.TrimSpace(vaultID)).
		Where("guardian_id = ?", guardianID).
		Where("candidate_id = ?", candidateID).
		Delete(&voteModel{})
	if result.Error != nil {
		return false, r.logError("custody_repo_delete_vote_failed", result.Error,
			"vault_id", vaultID,
			"guardian_id", guardianID,
		)
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) DeleteVotesForCandidate(ctx context.Context, vaultID string, candidateID valueobjects.Identity) error {
	err := r.db.WithContext(ctx).
		Where("vault_id = ?", strings.TrimSpace(vaultID)).
		Where("candidate_id = ?", candidateID).
		Delete(&voteModel{}).
		Error
	if err != nil {
		return r.logError("custody_repo_delete_candidate_votes_failed", err,
			"vault_id", vaultID,
			"candidate_id", candidateID,
		)
	}
	return nil
}

func (r *Repository) GetRecord(ctx context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	var row idempotencyModel
	err := r.db.WithContext(ctx).
		Where("key = ?", strings.TrimSpace(key)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.IdempotencyRecord{}, false, nil
		}
		return ports.IdempotencyRecord{}, false, r.logError("custody_repo_idempotency_get_failed", err,
			"idempotency_key", strings.TrimSpace(key),
		)
	}
	if !row.ExpiresAt.IsZero() && now.UTC().After(row.ExpiresAt.UTC()) {
		if err := r.db.WithContext(ctx).
			Where("key = ?", row.Key).
			Delete(&idempotencyModel{}).Error; err != nil {
			return ports.IdempotencyRecord{}, false, r.logError("custody_repo_idempotency_expire_failed", err,
				"idempotency_key", row.Key,
			)
		}
		return ports.IdempotencyRecord{}, false, nil
	}
	return ports.IdempotencyRecord{
		Key:             row.Key,
		Operation:       row.Operation,
		RequestHash:     row.RequestHash,
		ResponsePayload: append([]byte(nil), row.ResponsePayload...),
		ExpiresAt:       row.ExpiresAt.UTC(),
	}, true, nil
}

func (r *Repository) PutRecord(ctx context.Context, record ports.IdempotencyRecord) error {
	row := idempotencyModel{
		Key:             strings.TrimSpace(record.Key),
		Operation:       record.Operation,
		RequestHash:     record.RequestHash,
		ResponsePayload: record.ResponsePayload,
		ExpiresAt:       record.ExpiresAt.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("custody_repo_idempotency_put_failed", create.Error, "idempotency_key", row.Key)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing idempotencyModel
	if err := r.db.WithContext(ctx).
		Where("key = ?", row.Key).
		First(&existing).Error; err != nil {
		return r.logError("custody_repo_idempotency_load_failed", err, "idempotency_key", row.Key)
	}
	if existing.RequestHash != row.RequestHash {
		return domainerrors.ErrIdempotencyConflict
	}
	return nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := marshalEnvelope(envelope)
	if err != nil {
		return r.logError("custody_repo_append_outbox_marshal_failed", err,
			"event_id", envelope.EventID,
			"event_type", envelope.EventType,
		)
	}
	row := outboxModel{
		OutboxID:     envelope.EventID,
		EventType:    envelope.EventType,
		PartitionKey: envelope.PartitionKey,
		Payload:      payload,
		Status:       outbox.StatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("custody_repo_append_outbox_failed", create.Error, "outbox_id", row.OutboxID)
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outbox.StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("custody_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:  row.OutboxID,
			EventType: row.EventType,
			Payload:   append([]byte(nil), row.Payload...),
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outbox.StatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("custody_repo_mark_outbox_published_failed", result.Error, "outbox_id", outboxID)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "custody/authorization-engine",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("custody repository operation failed", fields...)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func marshalEnvelope(envelope ports.EventEnvelope) ([]byte, error) {
	return json.Marshal(envelope)
}

type vaultModel struct {
	VaultID   string    `gorm:"column:vault_id;primaryKey"`
	OwnerID   string    `gorm:"column:owner_id"`
	Balance   string    `gorm:"column:balance"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (vaultModel) TableName() string {
	return "custody_vaults"
}

func vaultModelFromEntity(vault entities.Vault) vaultModel {
	row := vaultModel{
		VaultID:   strings.TrimSpace(vault.VaultID),
		OwnerID:   vault.OwnerID,
		Balance:   vault.Balance.String(),
		CreatedAt: vault.CreatedAt.UTC(),
		UpdatedAt: vault.UpdatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row
}

type guardianModel struct {
	VaultID  string `gorm:"column:vault_id;primaryKey"`
	Identity string `gorm:"column:identity;primaryKey"`
	Position int    `gorm:"column:position"`
}

func (guardianModel) TableName() string {
	return "custody_vault_guardians"
}

func guardianModelsFromEntity(vault entities.Vault) []guardianModel {
	rows := make([]guardianModel, 0, len(vault.Guardians))
	for i, guardian := range vault.Guardians {
		rows = append(rows, guardianModel{
			VaultID:  strings.TrimSpace(vault.VaultID),
			Identity: guardian,
			Position: i,
		})
	}
	return rows
}

type allowanceModel struct {
	VaultID  string `gorm:"column:vault_id;primaryKey"`
	Identity string `gorm:"column:identity;primaryKey"`
	Amount   string `gorm:"column:amount"`
}

func (allowanceModel) TableName() string {
	return "custody_vault_allowances"
}

func allowanceModelsFromEntity(vault entities.Vault) []allowanceModel {
	rows := make([]allowanceModel, 0, len(vault.Allowances))
	for identity, amount := range vault.Allowances {
		rows = append(rows, allowanceModel{
			VaultID:  strings.TrimSpace(vault.VaultID),
			Identity: identity,
			Amount:   amount.String(),
		})
	}
	return rows
}

func assembleVault(row vaultModel, guardians []guardianModel, allowances []allowanceModel) (entities.Vault, error) {
	balance, err := valueobjects.ParseAmount(row.Balance)
	if err != nil {
		return entities.Vault{}, err
	}
	vault := entities.Vault{
		VaultID:    row.VaultID,
		OwnerID:    row.OwnerID,
		Balance:    balance,
		Guardians:  make([]valueobjects.Identity, 0, len(guardians)),
		Allowances: make(map[valueobjects.Identity]valueobjects.Amount, len(allowances)),
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
	for _, guardian := range guardians {
		vault.Guardians = append(vault.Guardians, guardian.Identity)
	}
	for _, allowance := range allowances {
		amount, err := valueobjects.ParseAmount(allowance.Amount)
		if err != nil {
			return entities.Vault{}, err
		}
		vault.Allowances[allowance.Identity] = amount
	}
	return vault, nil
}

type voteModel struct {
	VoteID      string    `gorm:"column:vote_id;primaryKey"`
	VaultID     string    `gorm:"column:vault_id"`
	GuardianID  string    `gorm:"column:guardian_id"`
	CandidateID string    `gorm:"column:candidate_id"`
	CastAt      time.Time `gorm:"column:cast_at"`
}

func (voteModel) TableName() string {
	return "custody_recovery_votes"
}

func (m voteModel) toEntity() entities.RecoveryVote {
	return entities.RecoveryVote{
		VoteID:      m.VoteID,
		VaultID:     m.VaultID,
		GuardianID:  m.GuardianID,
		CandidateID: m.CandidateID,
		CastAt:      m.CastAt.UTC(),
	}
}

type idempotencyModel struct {
	Key             string    `gorm:"column:key;primaryKey"`
	Operation       string    `gorm:"column:operation"`
	RequestHash     string    `gorm:"column:request_hash"`
	ResponsePayload []byte    `gorm:"column:response_payload"`
	ExpiresAt       time.Time `gorm:"column:expires_at"`
}

func (idempotencyModel) TableName() string {
	return "custody_idempotency"
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "custody_outbox"
}

var _ ports.VaultRepository = (*Repository)(nil)
var _ ports.IdempotencyStore = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
