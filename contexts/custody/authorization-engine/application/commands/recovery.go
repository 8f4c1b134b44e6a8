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

// ProposeOwnerCommand casts one guardian vote for a replacement owner.
type ProposeOwnerCommand struct {
	IdempotencyKey string
	VaultID        string
	CallerID       string
	CandidateID    string
}

// ProposeOwnerResult reports the tally after the vote and whether it crossed
// the threshold.
type ProposeOwnerResult struct {
	VaultID      string `json:"vault_id"`
	CandidateID  string `json:"candidate_id"`
	Votes        int    `json:"votes"`
	OwnerChanged bool   `json:"owner_changed"`
	OwnerID      string `json:"owner_id"`
	Replayed     bool   `json:"replayed"`
}

// RevokeVoteCommand withdraws the caller's standing vote for a candidate.
type RevokeVoteCommand struct {
	IdempotencyKey string
	VaultID        string
	CallerID       string
	CandidateID    string
}

// RevokeVoteResult reports the tally after the revocation.
type RevokeVoteResult struct {
	VaultID     string `json:"vault_id"`
	CandidateID string `json:"candidate_id"`
	Votes       int    `json:"votes"`
	Replayed    bool   `json:"replayed"`
}

// RecoveryUseCase runs the guardian quorum that can replace the vault owner.
type RecoveryUseCase struct {
	Vaults         ports.VaultRepository
	Idempotency    ports.IdempotencyStore
	Outbox         ports.OutboxWriter
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// ProposeOwner records the caller's vote for the candidate. Voting requires a
// fully configured guardian set of five; at three votes the candidate becomes
// the owner in the same operation and that candidate's votes are cleared.
// Other candidates' standing votes are untouched, and votes cast by guardians
// removed since casting still count.
func (uc RecoveryUseCase) ProposeOwner(ctx context.Context, cmd ProposeOwnerCommand) (ProposeOwnerResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	caller := valueobjects.NormalizeIdentity(cmd.CallerID)
	candidate := valueobjects.NormalizeIdentity(cmd.CandidateID)
	logger.Info("propose owner started",
		"event", "custody_propose_owner_started",
		"module", "custody/authorization-engine",
		"layer", "application",
		"vault_id", cmd.VaultID,
		"guardian_id", caller,
		"candidate_id", candidate,
	)

	if cmd.IdempotencyKey == "" {
		return ProposeOwnerResult{}, domainerrors.ErrIdempotencyKeyRequired
	}

	requestHash, err := hashRequest(struct {
		VaultID     string `json:"vault_id"`
		CallerID    string `json:"caller_id"`
		CandidateID string `json:"candidate_id"`
		Op          string `json:"op"`
	}{VaultID: cmd.VaultID, CallerID: caller, CandidateID: candidate, Op: "propose_owner"})
	if err != nil {
		return ProposeOwnerResult{}, err
	}

	now := uc.now()
	var replay ProposeOwnerResult
	if found, err := loadReplay(ctx, uc.Idempotency, cmd.IdempotencyKey, requestHash, now, &replay); err != nil {
		return ProposeOwnerResult{}, err
	} else if found {
		replay.Replayed = true
		return replay, nil
	}

	vault, err := uc.Vaults.GetVault(ctx, cmd.VaultID)
	if err != nil {
		return ProposeOwnerResult{}, err
	}
	if !vault.IsGuardian(caller) {
		return ProposeOwnerResult{}, domainerrors.ErrNotGuardian
	}
	if valueobjects.IsZeroIdentity(candidate) {
		return ProposeOwnerResult{}, domainerrors.ErrInvalidIdentity
	}
	if !vault.RecoveryEnabled() {
		return ProposeOwnerResult{}, domainerrors.ErrQuorumNotConfigured
	}
	if _, found, err := uc.Vaults.GetVoteByVoter(ctx, vault.VaultID, caller, candidate); err != nil {
		return ProposeOwnerResult{}, err
	} else if found {
		return ProposeOwnerResult{}, domainerrors.ErrDuplicateVote
	}

	voteID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return ProposeOwnerResult{}, err
	}
	if err := uc.Vaults.SaveVote(ctx, entities.RecoveryVote{
		VoteID:      voteID,
		VaultID:     vault.VaultID,
		GuardianID:  caller,
		CandidateID: candidate,
		CastAt:      now,
	}); err != nil {
		logger.Error("propose owner vote write failed",
			"event", "custody_propose_owner_write_failed",
			"module", "custody/authorization-engine",
			"layer", "application",
			"vault_id", cmd.VaultID,
			"guardian_id", caller,
			"candidate_id", candidate,
			"error", err.Error(),
		)
		return ProposeOwnerResult{}, err
	}
	if err := uc.appendEvent(ctx, sharedevents.TypeVoteCast, vault.VaultID, now, map[string]any{
		"vault_id":     vault.VaultID,
		"guardian_id":  caller,
		"candidate_id": candidate,
	}); err != nil {
		return ProposeOwnerResult{}, err
	}

	votes, err := uc.Vaults.CountVotes(ctx, vault.VaultID, candidate)
	if err != nil {
		return ProposeOwnerResult{}, err
	}

	result := ProposeOwnerResult{
		VaultID:     vault.VaultID,
		CandidateID: candidate,
		Votes:       votes,
		OwnerID:     vault.OwnerID,
	}
	if votes >= entities.RecoveryThreshold {
		previousOwner := vault.OwnerID
		vault.OwnerID = candidate
		vault.UpdatedAt = now
		if err := uc.Vaults.SaveVault(ctx, vault); err != nil {
			return ProposeOwnerResult{}, err
		}
		// The winning candidate's tally and voter set reset together so the
		// same guardians can vote in a future recovery round. Standing votes
		// for other candidates are deliberately left in place.
		if err := uc.Vaults.DeleteVotesForCandidate(ctx, vault.VaultID, candidate); err != nil {
			return ProposeOwnerResult{}, err
		}
		if err := uc.appendEvent(ctx, sharedevents.TypeOwnerChanged, vault.VaultID, now, map[string]any{
			"vault_id":          vault.VaultID,
			"previous_owner_id": previousOwner,
			"owner_id":          candidate,
			"votes":             votes,
		}); err != nil {
			return ProposeOwnerResult{}, err
		}
		result.Votes = 0
		result.OwnerChanged = true
		result.OwnerID = candidate

		logger.Info("owner changed by guardian quorum",
			"event", "custody_owner_changed",
			"module", "custody/authorization-engine",
			"layer", "application",
			"vault_id", vault.VaultID,
			"previous_owner_id", previousOwner,
			"owner_id", candidate,
		)
	}

	if err := storeReplay(ctx, uc.Idempotency, "propose_owner", cmd.IdempotencyKey, requestHash, result, now.Add(uc.ttl())); err != nil {
		return ProposeOwnerResult{}, err
	}

	logger.Info("propose owner completed",
		"event", "custody_propose_owner_completed",
		"module", "custody/authorization-engine",
		"layer", "application",
		"vault_id", vault.VaultID,
		"guardian_id", caller,
		"candidate_id", candidate,
		"votes", result.Votes,
		"owner_changed", result.OwnerChanged,
	)
	return result, nil
}

// RevokeVote withdraws the caller's standing vote for the candidate. The
// row-per-vote model keeps the tally floored at zero by construction.
func (uc RecoveryUseCase) RevokeVote(ctx context.Context, cmd RevokeVoteCommand) (RevokeVoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	caller := valueobjects.NormalizeIdentity(cmd.CallerID)
	candidate := valueobjects.NormalizeIdentity(cmd.CandidateID)
	logger.Info("revoke vote started",
		"event", "custody_revoke_vote_started",
		"module", "custody/authorization-engine",
		"layer", "application",
		"vault_id", cmd.VaultID,
		"guardian_id", caller,
		"candidate_id", candidate,
	)

	if cmd.IdempotencyKey == "" {
		return RevokeVoteResult{}, domainerrors.ErrIdempotencyKeyRequired
	}

	requestHash, err := hashRequest(struct {
		VaultID     string `json:"vault_id"`
		CallerID    string `json:"caller_id"`
		CandidateID string `json:"candidate_id"`
		Op          string `json:"op"`
	}{VaultID: cmd.VaultID, CallerID: caller, CandidateID: candidate, Op: "revoke_vote"})
	if err != nil {
		return RevokeVoteResult{}, err
	}

	now := uc.now()
	var replay RevokeVoteResult
	if found, err := loadReplay(ctx, uc.Idempotency, cmd.IdempotencyKey, requestHash, now, &replay); err != nil {
		return RevokeVoteResult{}, err
	} else if found {
		replay.Replayed = true
		return replay, nil
	}

	vault, err := uc.Vaults.GetVault(ctx, cmd.VaultID)
	if err != nil {
		return RevokeVoteResult{}, err
	}
	if !vault.IsGuardian(caller) {
		return RevokeVoteResult{}, domainerrors.ErrNotGuardian
	}

	deleted, err := uc.Vaults.DeleteVote(ctx, vault.VaultID, caller, candidate)
	if err != nil {
		return RevokeVoteResult{}, err
	}
	if !deleted {
		return RevokeVoteResult{}, domainerrors.ErrNoVoteToRevoke
	}
	if err := uc.appendEvent(ctx, sharedevents.TypeVoteRevoked, vault.VaultID, now, map[string]any{
		"vault_id":     vault.VaultID,
		"guardian_id":  caller,
		"candidate_id": candidate,
	}); err != nil {
		return RevokeVoteResult{}, err
	}

	votes, err := uc.Vaults.CountVotes(ctx, vault.VaultID, candidate)
	if err != nil {
		return RevokeVoteResult{}, err
	}

	result := RevokeVoteResult{
		VaultID:     vault.VaultID,
		CandidateID: candidate,
		Votes:       votes,
	}
	if err := storeReplay(ctx, uc.Idempotency, "revoke_vote", cmd.IdempotencyKey, requestHash, result, now.Add(uc.ttl())); err != nil {
		return RevokeVoteResult{}, err
	}

	logger.Info("revoke vote completed",
		"event", "custody_revoke_vote_completed",
		"module", "custody/authorization-engine",
		"layer", "application",
		"vault_id", vault.VaultID,
		"guardian_id", caller,
		"candidate_id", candidate,
		"votes", votes,
	)
	return result, nil
}

func (uc RecoveryUseCase) appendEvent(
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

func (uc RecoveryUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (uc RecoveryUseCase) ttl() time.Duration {
	if uc.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return uc.IdempotencyTTL
}
