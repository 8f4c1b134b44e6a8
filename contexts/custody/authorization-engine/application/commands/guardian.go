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

// SetGuardianCommand adds or removes one guardian. Owner only.
type SetGuardianCommand struct {
	IdempotencyKey string
	VaultID        string
	CallerID       string
	TargetID       string
	MakeGuardian   bool
}

// SetGuardianResult reports the guardian set after the mutation.
type SetGuardianResult struct {
	VaultID       string `json:"vault_id"`
	TargetID      string `json:"target_id"`
	IsGuardian    bool   `json:"is_guardian"`
	GuardianCount int    `json:"guardian_count"`
	Replayed      bool   `json:"replayed"`
}

// GuardianUseCase maintains the vault guardian set.
type GuardianUseCase struct {
	Vaults         ports.VaultRepository
	Idempotency    ports.IdempotencyStore
	Outbox         ports.OutboxWriter
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// SetGuardian adds the target to the guardian set (capped at five) or removes
// it. Removing a guardian does not purge votes it already cast; those keep
// counting toward the recovery threshold.
func (uc GuardianUseCase) SetGuardian(ctx context.Context, cmd SetGuardianCommand) (SetGuardianResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	caller := valueobjects.NormalizeIdentity(cmd.CallerID)
	target := valueobjects.NormalizeIdentity(cmd.TargetID)
	logger.Info("set guardian started",
		"event", "custody_set_guardian_started",
		"module", "custody/authorization-engine",
		"layer", "application",
		"vault_id", cmd.VaultID,
		"caller_id", caller,
		"target_id", target,
		"make_guardian", cmd.MakeGuardian,
	)

	if cmd.IdempotencyKey == "" {
		return SetGuardianResult{}, domainerrors.ErrIdempotencyKeyRequired
	}

	requestHash, err := hashRequest(struct {
		VaultID      string `json:"vault_id"`
		CallerID     string `json:"caller_id"`
		TargetID     string `json:"target_id"`
		MakeGuardian bool   `json:"make_guardian"`
		Op           string `json:"op"`
	}{VaultID: cmd.VaultID, CallerID: caller, TargetID: target, MakeGuardian: cmd.MakeGuardian, Op: "set_guardian"})
	if err != nil {
		return SetGuardianResult{}, err
	}

	now := uc.now()
	var replay SetGuardianResult
	if found, err := loadReplay(ctx, uc.Idempotency, cmd.IdempotencyKey, requestHash, now, &replay); err != nil {
		return SetGuardianResult{}, err
	} else if found {
		replay.Replayed = true
		return replay, nil
	}

	vault, err := uc.Vaults.GetVault(ctx, cmd.VaultID)
	if err != nil {
		return SetGuardianResult{}, err
	}
	if !vault.IsOwner(caller) {
		return SetGuardianResult{}, domainerrors.ErrUnauthorized
	}
	if valueobjects.IsZeroIdentity(target) {
		return SetGuardianResult{}, domainerrors.ErrInvalidIdentity
	}

	if cmd.MakeGuardian {
		if vault.IsGuardian(target) {
			return SetGuardianResult{}, domainerrors.ErrAlreadyGuardian
		}
		if vault.GuardianCount() == entities.MaxGuardians {
			return SetGuardianResult{}, domainerrors.ErrGuardianSetFull
		}
		vault.AddGuardian(target)
	} else {
		if !vault.RemoveGuardian(target) {
			return SetGuardianResult{}, domainerrors.ErrNotGuardian
		}
	}
	vault.UpdatedAt = now

	if err := uc.Vaults.SaveVault(ctx, vault); err != nil {
		logger.Error("set guardian write failed",
			"event", "custody_set_guardian_write_failed",
			"module", "custody/authorization-engine",
			"layer", "application",
			"vault_id", cmd.VaultID,
			"target_id", target,
			"error", err.Error(),
		)
		return SetGuardianResult{}, err
	}
	if err := uc.appendEvent(ctx, sharedevents.TypeGuardianChanged, vault.VaultID, now, map[string]any{
		"vault_id":       vault.VaultID,
		"target_id":      target,
		"is_guardian":    cmd.MakeGuardian,
		"guardian_count": vault.GuardianCount(),
	}); err != nil {
		return SetGuardianResult{}, err
	}

	result := SetGuardianResult{
		VaultID:       vault.VaultID,
		TargetID:      target,
		IsGuardian:    cmd.MakeGuardian,
		GuardianCount: vault.GuardianCount(),
	}
	if err := storeReplay(ctx, uc.Idempotency, "set_guardian", cmd.IdempotencyKey, requestHash, result, now.Add(uc.ttl())); err != nil {
		return SetGuardianResult{}, err
	}

	logger.Info("set guardian completed",
		"event", "custody_set_guardian_completed",
		"module", "custody/authorization-engine",
		"layer", "application",
		"vault_id", vault.VaultID,
		"target_id", target,
		"make_guardian", cmd.MakeGuardian,
		"guardian_count", vault.GuardianCount(),
	)
	return result, nil
}

func (uc GuardianUseCase) appendEvent(
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

func (uc GuardianUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (uc GuardianUseCase) ttl() time.Duration {
	if uc.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return uc.IdempotencyTTL
}
