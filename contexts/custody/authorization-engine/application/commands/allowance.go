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

// SetAllowanceCommand overwrites one delegate's spend limit. Owner only.
type SetAllowanceCommand struct {
	IdempotencyKey string
	VaultID        string
	CallerID       string
	TargetID       string
	Amount         string
}

// SetAllowanceResult reports the written limit and the derived send flag.
type SetAllowanceResult struct {
	VaultID       string              `json:"vault_id"`
	TargetID      string              `json:"target_id"`
	Allowance     valueobjects.Amount `json:"allowance"`
	AllowedToSend bool                `json:"allowed_to_send"`
	Replayed      bool                `json:"replayed"`
}

// AllowanceUseCase maintains delegated spend limits.
type AllowanceUseCase struct {
	Vaults         ports.VaultRepository
	Idempotency    ports.IdempotencyStore
	Outbox         ports.OutboxWriter
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// SetAllowance unconditionally writes the target's limit. There is no prior
// value check and no zero-identity check on the target; the owner may park an
// allowance on any identity, including an unusable one.
func (uc AllowanceUseCase) SetAllowance(ctx context.Context, cmd SetAllowanceCommand) (SetAllowanceResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	caller := valueobjects.NormalizeIdentity(cmd.CallerID)
	target := valueobjects.NormalizeIdentity(cmd.TargetID)
	logger.Info("set allowance started",
		"event", "custody_set_allowance_started",
		"module", "custody/authorization-engine",
		"layer", "application",
		"vault_id", cmd.VaultID,
		"caller_id", caller,
		"target_id", target,
	)

	if cmd.IdempotencyKey == "" {
		return SetAllowanceResult{}, domainerrors.ErrIdempotencyKeyRequired
	}
	amount, err := valueobjects.ParseAmount(cmd.Amount)
	if err != nil {
		return SetAllowanceResult{}, domainerrors.ErrInvalidAmount
	}

	requestHash, err := hashRequest(struct {
		VaultID  string `json:"vault_id"`
		CallerID string `json:"caller_id"`
		TargetID string `json:"target_id"`
		Amount   string `json:"amount"`
		Op       string `json:"op"`
	}{VaultID: cmd.VaultID, CallerID: caller, TargetID: target, Amount: amount.String(), Op: "set_allowance"})
	if err != nil {
		return SetAllowanceResult{}, err
	}

	now := uc.now()
	var replay SetAllowanceResult
	if found, err := loadReplay(ctx, uc.Idempotency, cmd.IdempotencyKey, requestHash, now, &replay); err != nil {
		return SetAllowanceResult{}, err
	} else if found {
		replay.Replayed = true
		return replay, nil
	}

	vault, err := uc.Vaults.GetVault(ctx, cmd.VaultID)
	if err != nil {
		return SetAllowanceResult{}, err
	}
	if !vault.IsOwner(caller) {
		return SetAllowanceResult{}, domainerrors.ErrUnauthorized
	}

	vault.SetAllowance(target, amount)
	vault.UpdatedAt = now
	if err := uc.Vaults.SaveVault(ctx, vault); err != nil {
		logger.Error("set allowance write failed",
			"event", "custody_set_allowance_write_failed",
			"module", "custody/authorization-engine",
			"layer", "application",
			"vault_id", cmd.VaultID,
			"target_id", target,
			"error", err.Error(),
		)
		return SetAllowanceResult{}, err
	}
	if err := uc.appendEvent(ctx, sharedevents.TypeAllowanceSet, vault.VaultID, now, map[string]any{
		"vault_id":        vault.VaultID,
		"target_id":       target,
		"allowance":       amount.String(),
		"allowed_to_send": amount.IsPositive(),
	}); err != nil {
		return SetAllowanceResult{}, err
	}

	result := SetAllowanceResult{
		VaultID:       vault.VaultID,
		TargetID:      target,
		Allowance:     amount,
		AllowedToSend: amount.IsPositive(),
	}
	if err := storeReplay(ctx, uc.Idempotency, "set_allowance", cmd.IdempotencyKey, requestHash, result, now.Add(uc.ttl())); err != nil {
		return SetAllowanceResult{}, err
	}

	logger.Info("set allowance completed",
		"event", "custody_set_allowance_completed",
		"module", "custody/authorization-engine",
		"layer", "application",
		"vault_id", vault.VaultID,
		"target_id", target,
		"allowance", amount.String(),
	)
	return result, nil
}

func (uc AllowanceUseCase) appendEvent(
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

func (uc AllowanceUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (uc AllowanceUseCase) ttl() time.Duration {
	if uc.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return uc.IdempotencyTTL
}
