package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	domainerrors "warden/contexts/custody/authorization-engine/domain/errors"
	"warden/contexts/custody/authorization-engine/ports"
)

const idempotencyKeyPrefix = "custody_idempotency:"

func hashRequest(payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// loadReplay decodes the stored response for a matching replayed request into
// out. A key reuse with a different request hash is an idempotency conflict.
func loadReplay(
	ctx context.Context,
	store ports.IdempotencyStore,
	key string,
	requestHash string,
	now time.Time,
	out any,
) (bool, error) {
	record, found, err := store.GetRecord(ctx, idempotencyKeyPrefix+key, now)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if record.RequestHash != requestHash {
		return false, domainerrors.ErrIdempotencyConflict
	}
	if err := json.Unmarshal(record.ResponsePayload, out); err != nil {
		return false, err
	}
	return true, nil
}

func storeReplay(
	ctx context.Context,
	store ports.IdempotencyStore,
	operation string,
	key string,
	requestHash string,
	result any,
	expiresAt time.Time,
) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return store.PutRecord(ctx, ports.IdempotencyRecord{
		Key:             idempotencyKeyPrefix + key,
		Operation:       operation,
		RequestHash:     requestHash,
		ResponsePayload: payload,
		ExpiresAt:       expiresAt,
	})
}
