package commands

import (
	"context"
	"log/slog"
	"time"

	application "warden/contexts/custody/authorization-engine/application"
	"warden/contexts/custody/authorization-engine/domain/entities"
	domainerrors "warden/contexts/custody/authorization-engine/domain/errors"
	"warden/contexts/custody/authorization-engine/domain/valueobjects"
	"warden/contexts/custody/authorization-engine/ports"
	sharedevents "warden/internal/shared/events"
)

// CreateVaultCommand initializes a new vault owned by the caller.
type CreateVaultCommand struct {
	IdempotencyKey string
	CallerID       string
}

// CreateVaultResult returns the constructed vault state.
type CreateVaultResult struct {
	Vault    entities.Vault `json:"vault"`
	Replayed bool           `json:"replayed"`
}

// DepositCommand credits vault balance; the environment's value inflow
// surfaced as an explicit operation.
type DepositCommand struct {
	IdempotencyKey string
	VaultID        string
	CallerID       string
	Amount         string
}

// DepositResult reports the post-deposit balance.
type DepositResult struct {
	VaultID  string              `json:"vault_id"`
	Balance  valueobjects.Amount `json:"balance"`
	Replayed bool                `json:"replayed"`
}

// VaultUseCase handles vault lifecycle commands: creation and funding.
type VaultUseCase struct {
	Vaults         ports.VaultRepository
	Idempotency    ports.IdempotencyStore
	Outbox         ports.OutboxWriter
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// CreateVault constructs an empty authorization state owned by the caller:
// no guardians, no allowances, no standing votes, zero balance.
func (uc VaultUseCase) CreateVault(ctx context.Context, cmd CreateVaultCommand) (CreateVaultResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	caller := valueobjects.NormalizeIdentity(cmd.CallerID)
	logger.Info("vault create started",
		"event", "custody_vault_create_started",
		"module", "custody/authorization-engine",
		"layer", "application",
		"caller_id", caller,
	)

	if cmd.IdempotencyKey == "" {
		return CreateVaultResult{}, domainerrors.ErrIdempotencyKeyRequired
	}
	if valueobjects.IsZeroIdentity(caller) {
		return CreateVaultResult{}, domainerrors.ErrInvalidIdentity
	}

	requestHash, err := hashRequest(struct {
		CallerID string `json:"caller_id"`
		Op       string `json:"op"`
	}{CallerID: caller, Op: "create_vault"})
	if err != nil {
		return CreateVaultResult{}, err
	}

	now := uc.now()
	var replay CreateVaultResult
	if found, err := loadReplay(ctx, uc.Idempotency, cmd.IdempotencyKey, requestHash, now, &replay); err != nil {
		return CreateVaultResult{}, err
	} else if found {
		replay.Replayed = true
		return replay, nil
	}

	vaultID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return CreateVaultResult{}, err
	}
	vault := entities.Vault{
		VaultID:   vaultID,
		OwnerID:   caller,
		Balance:   valueobjects.ZeroAmount(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.Vaults.SaveVault(ctx, vault); err != nil {
		logger.Error("vault create write failed",
			"event", "custody_vault_create_write_failed",
			"module", "custody/authorization-engine",
			"layer", "application",
			"caller_id", caller,
			"error", err.Error(),
		)
		return CreateVaultResult{}, err
	}
	if err := uc.appendEvent(ctx, sharedevents.TypeVaultCreated, vault.VaultID, now, map[string]any{
		"vault_id": vault.VaultID,
		"owner_id": vault.OwnerID,
	}); err != nil {
		return CreateVaultResult{}, err
	}

	result := CreateVaultResult{Vault: vault}
	if err := storeReplay(ctx, uc.Idempotency, "create_vault", cmd.IdempotencyKey, requestHash, result, now.Add(uc.ttl())); err != nil {
		return CreateVaultResult{}, err
	}

	logger.Info("vault created",
		"event", "custody_vault_created",
		"module", "custody/authorization-engine",
		"layer", "application",
		"vault_id", vault.VaultID,
		"owner_id", vault.OwnerID,
	)
	return result, nil
}

// Deposit credits the vault balance. Any non-zero identity may fund a vault.
func (uc VaultUseCase) Deposit(ctx context.Context, cmd DepositCommand) (DepositResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	caller := valueobjects.NormalizeIdentity(cmd.CallerID)
	logger.Info("vault deposit started",
		"event", "custody_deposit_started",
		"module", "custody/authorization-engine",
		"layer", "application",
		"vault_id", cmd.VaultID,
		"caller_id", caller,
	)

	if cmd.IdempotencyKey == "" {
		return DepositResult{}, domainerrors.ErrIdempotencyKeyRequired
	}
	if valueobjects.IsZeroIdentity(caller) {
		return DepositResult{}, domainerrors.ErrInvalidIdentity
	}
	amount, err := valueobjects.ParseAmount(cmd.Amount)
	if err != nil {
		return DepositResult{}, domainerrors.ErrInvalidAmount
	}

	requestHash, err := hashRequest(struct {
		VaultID  string `json:"vault_id"`
		CallerID string `json:"caller_id"`
		Amount   string `json:"amount"`
		Op       string `json:"op"`
	}{VaultID: cmd.VaultID, CallerID: caller, Amount: amount.String(), Op: "deposit"})
	if err != nil {
		return DepositResult{}, err
	}

	now := uc.now()
	var replay DepositResult
	if found, err := loadReplay(ctx, uc.Idempotency, cmd.IdempotencyKey, requestHash, now, &replay); err != nil {
		return DepositResult{}, err
	} else if found {
		replay.Replayed = true
		return replay, nil
	}

	vault, err := uc.Vaults.GetVault(ctx, cmd.VaultID)
	if err != nil {
		return DepositResult{}, err
	}
	vault.Balance = vault.Balance.Add(amount)
	vault.UpdatedAt = now
	if err := uc.Vaults.SaveVault(ctx, vault); err != nil {
		logger.Error("vault deposit write failed",
			"event", "custody_deposit_write_failed",
			"module", "custody/authorization-engine",
			"layer", "application",
			"vault_id", cmd.VaultID,
			"caller_id", caller,
			"error", err.Error(),
		)
		return DepositResult{}, err
	}
	if err := uc.appendEvent(ctx, sharedevents.TypeDeposited, vault.VaultID, now, map[string]any{
		"vault_id": vault.VaultID,
		"from_id":  caller,
		"amount":   amount.String(),
		"balance":  vault.Balance.String(),
	}); err != nil {
		return DepositResult{}, err
	}

	result := DepositResult{VaultID: vault.VaultID, Balance: vault.Balance}
	if err := storeReplay(ctx, uc.Idempotency, "deposit", cmd.IdempotencyKey, requestHash, result, now.Add(uc.ttl())); err != nil {
		return DepositResult{}, err
	}

	logger.Info("vault deposit completed",
		"event", "custody_deposit_completed",
		"module", "custody/authorization-engine",
		"layer", "application",
		"vault_id", vault.VaultID,
		"caller_id", caller,
		"amount", amount.String(),
	)
	return result, nil
}

func (uc VaultUseCase) appendEvent(
	ctx context.Context,
	eventType string,
	vaultID string,
	occurredAt time.Time,
	data map[string]any,
) error {
	// Outbox is optional for pure read/test wiring, so nil is treated as no-op.
	if uc.Outbox == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := newCustodyEnvelope(eventID, eventType, vaultID, occurredAt, data)
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}

func (uc VaultUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (uc VaultUseCase) ttl() time.Duration {
	if uc.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return uc.IdempotencyTTL
}
