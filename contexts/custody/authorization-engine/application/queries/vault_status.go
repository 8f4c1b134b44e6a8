package queries

import (
	"context"
	"log/slog"
	"sort"
	"time"

	application "warden/contexts/custody/authorization-engine/application"
	"warden/contexts/custody/authorization-engine/domain/valueobjects"
	"warden/contexts/custody/authorization-engine/ports"
)

// VaultStatus is the read model for one vault's authorization state.
type VaultStatus struct {
	VaultID         string
	OwnerID         string
	Balance         valueobjects.Amount
	Guardians       []string
	GuardianCount   int
	RecoveryEnabled bool
}

// AllowanceView is the read model for one delegate's spend limit.
type AllowanceView struct {
	VaultID       string
	Identity      string
	Allowance     valueobjects.Amount
	AllowedToSend bool
}

// VaultStatusUseCase serves the engine's read-only queries. Queries have no
// side effects and no preconditions beyond a resolvable vault.
type VaultStatusUseCase struct {
	Vaults ports.VaultRepository
	Logger *slog.Logger
}

// Status returns the vault's owner, guardian set, and balance.
func (uc VaultStatusUseCase) Status(ctx context.Context, vaultID string) (VaultStatus, error) {
	vault, err := uc.Vaults.GetVault(ctx, vaultID)
	if err != nil {
		logger := application.ResolveLogger(uc.Logger)
		logger.Error("vault status read failed",
			"event", "custody_vault_status_failed",
			"module", "custody/authorization-engine",
			"layer", "application",
			"vault_id", vaultID,
			"error", err.Error(),
		)
		return VaultStatus{}, err
	}
	return VaultStatus{
		VaultID:         vault.VaultID,
		OwnerID:         vault.OwnerID,
		Balance:         vault.Balance,
		Guardians:       append([]string(nil), vault.Guardians...),
		GuardianCount:   vault.GuardianCount(),
		RecoveryEnabled: vault.RecoveryEnabled(),
	}, nil
}

// IsGuardian reports whether the identity is in the vault's guardian set.
func (uc VaultStatusUseCase) IsGuardian(ctx context.Context, vaultID string, identity string) (bool, error) {
	vault, err := uc.Vaults.GetVault(ctx, vaultID)
	if err != nil {
		return false, err
	}
	return vault.IsGuardian(valueobjects.NormalizeIdentity(identity)), nil
}

// VoteView is one standing recovery vote.
type VoteView struct {
	GuardianID  string
	CandidateID string
	CastAt      time.Time
}

// StandingVotes returns every uncleared recovery vote for the vault, oldest
// first. Votes cast by since-removed guardians are included; they still count.
func (uc VaultStatusUseCase) StandingVotes(ctx context.Context, vaultID string) ([]VoteView, error) {
	if _, err := uc.Vaults.GetVault(ctx, vaultID); err != nil {
		return nil, err
	}
	votes, err := uc.Vaults.ListVotes(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(votes, func(i, j int) bool {
		return votes[i].CastAt.Before(votes[j].CastAt)
	})
	items := make([]VoteView, 0, len(votes))
	for _, vote := range votes {
		items = append(items, VoteView{
			GuardianID:  vote.GuardianID,
			CandidateID: vote.CandidateID,
			CastAt:      vote.CastAt,
		})
	}
	return items, nil
}

// Votes returns the current recovery tally for a candidate.
func (uc VaultStatusUseCase) Votes(ctx context.Context, vaultID string, candidateID string) (int, error) {
	if _, err := uc.Vaults.GetVault(ctx, vaultID); err != nil {
		return 0, err
	}
	return uc.Vaults.CountVotes(ctx, vaultID, valueobjects.NormalizeIdentity(candidateID))
}

// Allowance returns the identity's remaining limit and the derived send flag.
func (uc VaultStatusUseCase) Allowance(ctx context.Context, vaultID string, identity string) (AllowanceView, error) {
	vault, err := uc.Vaults.GetVault(ctx, vaultID)
	if err != nil {
		return AllowanceView{}, err
	}
	id := valueobjects.NormalizeIdentity(identity)
	allowance := vault.AllowanceFor(id)
	return AllowanceView{
		VaultID:       vault.VaultID,
		Identity:      id,
		Allowance:     allowance,
		AllowedToSend: allowance.IsPositive(),
	}, nil
}
