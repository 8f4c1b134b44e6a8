package commands

import (
	"context"
	"log/slog"
	"time"

	application "warden/contexts/custody/authorization-engine/application"
	domainerrors "warden/contexts/custody/authorization-engine/domain/errors"
	"warden/contexts/custody/authorization-engine/domain/valueobjects"
	"warden/contexts/custody/authorization-engine/ports"
	sharedevents "warden/internal/shared/events"
)

// ExecuteCommand moves value out of the vault and invokes the target through
// the transfer gate.
type ExecuteCommand struct {
	IdempotencyKey string
	VaultID        string
	CallerID       string
	ToID           string
	Value          string
	Payload        []byte
}

// ExecuteResult carries the target's raw response and the post-debit state.
type ExecuteResult struct {
	VaultID    string              `json:"vault_id"`
	ReturnData []byte              `json:"return_data"`
	Balance    valueobjects.Amount `json:"balance"`
	// Allowance is the caller's remaining limit after the debit. Nil when the
	// owner executed, since owner spends are never metered.
	Allowance *valueobjects.Amount `json:"allowance,omitempty"`
	Replayed  bool                 `json:"replayed"`
}

// ExecuteUseCase gates the single value-movement operation behind ownership
// or delegated allowance.
type ExecuteUseCase struct {
	Vaults         ports.VaultRepository
	Gate           ports.TransferGate
	Idempotency    ports.IdempotencyStore
	Outbox         ports.OutboxWriter
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// Execute transfers value to the target and invokes it with the payload.
// The owner spends without restriction; a delegate needs a positive allowance
// covering the value, and the allowance debit commits only if the downstream
// call succeeds. Nothing is persisted on a failed call, which is what keeps
// the debit-and-transfer pair all-or-nothing.
func (uc ExecuteUseCase) Execute(ctx context.Context, cmd ExecuteCommand) (ExecuteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	caller := valueobjects.NormalizeIdentity(cmd.CallerID)
	to := valueobjects.NormalizeIdentity(cmd.ToID)
	logger.Info("execute started",
		"event", "custody_execute_started",
		"module", "custody/authorization-engine",
		"layer", "application",
		"vault_id", cmd.VaultID,
		"caller_id", caller,
		"to_id", to,
	)

	if cmd.IdempotencyKey == "" {
		return ExecuteResult{}, domainerrors.ErrIdempotencyKeyRequired
	}
	value, err := valueobjects.ParseAmount(cmd.Value)
	if err != nil {
		return ExecuteResult{}, domainerrors.ErrInvalidAmount
	}

	requestHash, err := hashRequest(struct {
		VaultID  string `json:"vault_id"`
		CallerID string `json:"caller_id"`
		ToID     string `json:"to_id"`
		Value    string `json:"value"`
		Payload  []byte `json:"payload"`
		Op       string `json:"op"`
	}{VaultID: cmd.VaultID, CallerID: caller, ToID: to, Value: value.String(), Payload: cmd.Payload, Op: "execute"})
	if err != nil {
		return ExecuteResult{}, err
	}

	now := uc.now()
	var replay ExecuteResult
	if found, err := loadReplay(ctx, uc.Idempotency, cmd.IdempotencyKey, requestHash, now, &replay); err != nil {
		return ExecuteResult{}, err
	} else if found {
		replay.Replayed = true
		return replay, nil
	}

	vault, err := uc.Vaults.GetVault(ctx, cmd.VaultID)
	if err != nil {
		return ExecuteResult{}, err
	}
	if valueobjects.IsZeroIdentity(to) {
		return ExecuteResult{}, domainerrors.ErrInvalidIdentity
	}
	if vault.Balance.Cmp(value) < 0 {
		return ExecuteResult{}, domainerrors.ErrInsufficientFunds
	}

	isOwner := vault.IsOwner(caller)
	var remainingAllowance *valueobjects.Amount
	if !isOwner {
		if !vault.IsAllowedToSend(caller) {
			return ExecuteResult{}, domainerrors.ErrNotAuthorized
		}
		allowance := vault.AllowanceFor(caller)
		if allowance.Cmp(value) < 0 {
			return ExecuteResult{}, domainerrors.ErrAllowanceExceeded
		}
		debited, err := allowance.Sub(value)
		if err != nil {
			return ExecuteResult{}, domainerrors.ErrAllowanceExceeded
		}
		// The debit stays in memory until the gate confirms; allowance == 0
		// after commit clears the derived allowed-to-send view on its own.
		vault.SetAllowance(caller, debited)
		remainingAllowance = &debited
	}

	receipt, err := uc.Gate.TransferAndInvoke(ctx, to, value, cmd.Payload)
	if err != nil || !receipt.Success {
		logger.Warn("execute downstream call failed",
			"event", "custody_execute_call_failed",
			"module", "custody/authorization-engine",
			"layer", "application",
			"vault_id", cmd.VaultID,
			"caller_id", caller,
			"to_id", to,
			"value", value.String(),
		)
		return ExecuteResult{}, domainerrors.ErrCallFailed
	}

	balance, err := vault.Balance.Sub(value)
	if err != nil {
		return ExecuteResult{}, domainerrors.ErrInsufficientFunds
	}
	vault.Balance = balance
	vault.UpdatedAt = now
	if err := uc.Vaults.SaveVault(ctx, vault); err != nil {
		logger.Error("execute write failed",
			"event", "custody_execute_write_failed",
			"module", "custody/authorization-engine",
			"layer", "application",
			"vault_id", cmd.VaultID,
			"caller_id", caller,
			"error", err.Error(),
		)
		return ExecuteResult{}, err
	}
	if err := uc.appendEvent(ctx, sharedevents.TypeExecuted, vault.VaultID, now, map[string]any{
		"vault_id":  vault.VaultID,
		"caller_id": caller,
		"to_id":     to,
		"value":     value.String(),
		"by_owner":  isOwner,
		"balance":   vault.Balance.String(),
	}); err != nil {
		return ExecuteResult{}, err
	}

	result := ExecuteResult{
		VaultID:    vault.VaultID,
		ReturnData: receipt.ReturnData,
		Balance:    vault.Balance,
		Allowance:  remainingAllowance,
	}
	if err := storeReplay(ctx, uc.Idempotency, "execute", cmd.IdempotencyKey, requestHash, result, now.Add(uc.ttl())); err != nil {
		return ExecuteResult{}, err
	}

	logger.Info("execute completed",
		"event", "custody_execute_completed",
		"module", "custody/authorization-engine",
		"layer", "application",
		"vault_id", vault.VaultID,
		"caller_id", caller,
		"to_id", to,
		"value", value.String(),
		"by_owner", isOwner,
	)
	return result, nil
}

func (uc ExecuteUseCase) appendEvent(
	ctx context.Context,
	eventType string,
	vaultID string,
	occurredAt time.Time,
	data map[string]any,
) error {
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

func (uc ExecuteUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (uc ExecuteUseCase) ttl() time.Duration {
	if uc.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return uc.IdempotencyTTL
}
