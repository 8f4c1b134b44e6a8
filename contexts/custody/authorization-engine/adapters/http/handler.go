package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"warden/contexts/custody/authorization-engine/application/commands"
	"warden/contexts/custody/authorization-engine/application/queries"
	httptransport "warden/contexts/custody/authorization-engine/transport/http"
)

// Handler adapts transport DTOs to application commands and queries. All
// authorization decisions live below; the handler only shuttles identities
// and payloads through.
type Handler struct {
	Vaults     commands.VaultUseCase
	Guardians  commands.GuardianUseCase
	Allowances commands.AllowanceUseCase
	Executions commands.ExecuteUseCase
	Recovery   commands.RecoveryUseCase
	Status     queries.VaultStatusUseCase
	Logger     *slog.Logger
}

func (h Handler) CreateVaultHandler(
	ctx context.Context,
	callerID string,
	idempotencyKey string,
) (httptransport.VaultResponse, error) {
	result, err := h.Vaults.CreateVault(ctx, commands.CreateVaultCommand{
		IdempotencyKey: idempotencyKey,
		CallerID:       callerID,
	})
	if err != nil {
		return httptransport.VaultResponse{}, err
	}
	return httptransport.VaultResponse{
		VaultID:         result.Vault.VaultID,
		OwnerID:         result.Vault.OwnerID,
		Balance:         result.Vault.Balance.String(),
		Guardians:       append([]string(nil), result.Vault.Guardians...),
		GuardianCount:   result.Vault.GuardianCount(),
		RecoveryEnabled: result.Vault.RecoveryEnabled(),
		Replayed:        result.Replayed,
	}, nil
}

func (h Handler) DepositHandler(
	ctx context.Context,
	vaultID string,
	callerID string,
	idempotencyKey string,
	req httptransport.DepositRequest,
) (httptransport.DepositResponse, error) {
	result, err := h.Vaults.Deposit(ctx, commands.DepositCommand{
		IdempotencyKey: idempotencyKey,
		VaultID:        vaultID,
		CallerID:       callerID,
		Amount:         req.Amount,
	})
	if err != nil {
		return httptransport.DepositResponse{}, err
	}
	return httptransport.DepositResponse{
		VaultID:  result.VaultID,
		Balance:  result.Balance.String(),
		Replayed: result.Replayed,
	}, nil
}

func (h Handler) SetGuardianHandler(
	ctx context.Context,
	vaultID string,
	callerID string,
	idempotencyKey string,
	req httptransport.SetGuardianRequest,
) (httptransport.GuardianResponse, error) {
	result, err := h.Guardians.SetGuardian(ctx, commands.SetGuardianCommand{
		IdempotencyKey: idempotencyKey,
		VaultID:        vaultID,
		CallerID:       callerID,
		TargetID:       req.TargetID,
		MakeGuardian:   req.MakeGuardian,
	})
	if err != nil {
		return httptransport.GuardianResponse{}, err
	}
	return httptransport.GuardianResponse{
		VaultID:       result.VaultID,
		TargetID:      result.TargetID,
		IsGuardian:    result.IsGuardian,
		GuardianCount: result.GuardianCount,
		Replayed:      result.Replayed,
	}, nil
}

func (h Handler) SetAllowanceHandler(
	ctx context.Context,
	vaultID string,
	callerID string,
	idempotencyKey string,
	req httptransport.SetAllowanceRequest,
) (httptransport.AllowanceResponse, error) {
	result, err := h.Allowances.SetAllowance(ctx, commands.SetAllowanceCommand{
		IdempotencyKey: idempotencyKey,
		VaultID:        vaultID,
		CallerID:       callerID,
		TargetID:       req.TargetID,
		Amount:         req.Amount,
	})
	if err != nil {
		return httptransport.AllowanceResponse{}, err
	}
	return httptransport.AllowanceResponse{
		VaultID:       result.VaultID,
		TargetID:      result.TargetID,
		Allowance:     result.Allowance.String(),
		AllowedToSend: result.AllowedToSend,
		Replayed:      result.Replayed,
	}, nil
}

func (h Handler) ExecuteHandler(
	ctx context.Context,
	vaultID string,
	callerID string,
	idempotencyKey string,
	req httptransport.ExecuteRequest,
) (httptransport.ExecuteResponse, error) {
	result, err := h.Executions.Execute(ctx, commands.ExecuteCommand{
		IdempotencyKey: idempotencyKey,
		VaultID:        vaultID,
		CallerID:       callerID,
		ToID:           req.ToID,
		Value:          req.Value,
		Payload:        req.Payload,
	})
	if err != nil {
		return httptransport.ExecuteResponse{}, err
	}
	resp := httptransport.ExecuteResponse{
		VaultID:    result.VaultID,
		ReturnData: result.ReturnData,
		Balance:    result.Balance.String(),
		Replayed:   result.Replayed,
	}
	if result.Allowance != nil {
		remaining := result.Allowance.String()
		resp.Allowance = &remaining
	}
	return resp, nil
}

func (h Handler) ProposeOwnerHandler(
	ctx context.Context,
	vaultID string,
	callerID string,
	idempotencyKey string,
	req httptransport.ProposeOwnerRequest,
) (httptransport.ProposeOwnerResponse, error) {
	result, err := h.Recovery.ProposeOwner(ctx, commands.ProposeOwnerCommand{
		IdempotencyKey: idempotencyKey,
		VaultID:        vaultID,
		CallerID:       callerID,
		CandidateID:    req.CandidateID,
	})
	if err != nil {
		return httptransport.ProposeOwnerResponse{}, err
	}
	return httptransport.ProposeOwnerResponse{
		VaultID:      result.VaultID,
		CandidateID:  result.CandidateID,
		Votes:        result.Votes,
		OwnerChanged: result.OwnerChanged,
		OwnerID:      result.OwnerID,
		Replayed:     result.Replayed,
	}, nil
}

func (h Handler) RevokeVoteHandler(
	ctx context.Context,
	vaultID string,
	callerID string,
	idempotencyKey string,
	req httptransport.RevokeVoteRequest,
) (httptransport.RevokeVoteResponse, error) {
	result, err := h.Recovery.RevokeVote(ctx, commands.RevokeVoteCommand{
		IdempotencyKey: idempotencyKey,
		VaultID:        vaultID,
		CallerID:       callerID,
		CandidateID:    req.CandidateID,
	})
	if err != nil {
		return httptransport.RevokeVoteResponse{}, err
	}
	return httptransport.RevokeVoteResponse{
		VaultID:     result.VaultID,
		CandidateID: result.CandidateID,
		Votes:       result.Votes,
		Replayed:    result.Replayed,
	}, nil
}

func (h Handler) VaultStatusHandler(ctx context.Context, vaultID string) (httptransport.VaultResponse, error) {
	status, err := h.Status.Status(ctx, vaultID)
	if err != nil {
		return httptransport.VaultResponse{}, err
	}
	return httptransport.VaultResponse{
		VaultID:         status.VaultID,
		OwnerID:         status.OwnerID,
		Balance:         status.Balance.String(),
		Guardians:       status.Guardians,
		GuardianCount:   status.GuardianCount,
		RecoveryEnabled: status.RecoveryEnabled,
	}, nil
}

func (h Handler) GuardianStatusHandler(
	ctx context.Context,
	vaultID string,
	identity string,
) (httptransport.GuardianStatusResponse, error) {
	isGuardian, err := h.Status.IsGuardian(ctx, vaultID, identity)
	if err != nil {
		return httptransport.GuardianStatusResponse{}, err
	}
	return httptransport.GuardianStatusResponse{
		VaultID:    vaultID,
		Identity:   identity,
		IsGuardian: isGuardian,
	}, nil
}

func (h Handler) AllowanceStatusHandler(
	ctx context.Context,
	vaultID string,
	identity string,
) (httptransport.AllowanceResponse, error) {
	view, err := h.Status.Allowance(ctx, vaultID, identity)
	if err != nil {
		return httptransport.AllowanceResponse{}, err
	}
	return httptransport.AllowanceResponse{
		VaultID:       view.VaultID,
		TargetID:      view.Identity,
		Allowance:     view.Allowance.String(),
		AllowedToSend: view.AllowedToSend,
	}, nil
}

func (h Handler) StandingVotesHandler(
	ctx context.Context,
	vaultID string,
) (httptransport.StandingVotesResponse, error) {
	votes, err := h.Status.StandingVotes(ctx, vaultID)
	if err != nil {
		return httptransport.StandingVotesResponse{}, err
	}
	resp := httptransport.StandingVotesResponse{
		VaultID: vaultID,
		Votes:   make([]httptransport.StandingVote, 0, len(votes)),
	}
	for _, vote := range votes {
		resp.Votes = append(resp.Votes, httptransport.StandingVote{
			GuardianID:  vote.GuardianID,
			CandidateID: vote.CandidateID,
			CastAt:      vote.CastAt.UTC().Format(time.RFC3339),
		})
	}
	return resp, nil
}

func (h Handler) VotesHandler(
	ctx context.Context,
	vaultID string,
	candidateID string,
) (httptransport.VotesResponse, error) {
	votes, err := h.Status.Votes(ctx, vaultID, candidateID)
	if err != nil {
		return httptransport.VotesResponse{}, err
	}
	return httptransport.VotesResponse{
		VaultID:     vaultID,
		CandidateID: candidateID,
		Votes:       votes,
	}, nil
}
