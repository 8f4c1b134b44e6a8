package authorizationengine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	authorizationengine "warden/contexts/custody/authorization-engine"
	domainerrors "warden/contexts/custody/authorization-engine/domain/errors"
	httptransport "warden/contexts/custody/authorization-engine/transport/http"
)

const owner = "owner-1"

func newVault(t *testing.T, module authorizationengine.Module) string {
	t.Helper()
	resp, err := module.Handler.CreateVaultHandler(context.Background(), owner, "idem-create")
	if err != nil {
		t.Fatalf("create vault failed: %v", err)
	}
	if resp.OwnerID != owner {
		t.Fatalf("expected owner %q, got %q", owner, resp.OwnerID)
	}
	return resp.VaultID
}

func deposit(t *testing.T, module authorizationengine.Module, vaultID string, key string, amount string) httptransport.DepositResponse {
	t.Helper()
	resp, err := module.Handler.DepositHandler(
		context.Background(), vaultID, "funder-1", key,
		httptransport.DepositRequest{Amount: amount},
	)
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	return resp
}

func addGuardians(t *testing.T, module authorizationengine.Module, vaultID string, count int) []string {
	t.Helper()
	guardians := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("guardian-%d", i)
		_, err := module.Handler.SetGuardianHandler(
			context.Background(), vaultID, owner, fmt.Sprintf("idem-guardian-%d", i),
			httptransport.SetGuardianRequest{TargetID: id, MakeGuardian: true},
		)
		if err != nil {
			t.Fatalf("add guardian %s failed: %v", id, err)
		}
		guardians = append(guardians, id)
	}
	return guardians
}

func TestCreateVaultInitialState(t *testing.T) {
	module := authorizationengine.NewInMemoryModule(nil)
	vaultID := newVault(t, module)

	status, err := module.Handler.VaultStatusHandler(context.Background(), vaultID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Balance != "0" {
		t.Fatalf("expected zero balance, got %s", status.Balance)
	}
	if status.GuardianCount != 0 || status.RecoveryEnabled {
		t.Fatalf("expected empty guardian set with recovery disabled")
	}
}

func TestDepositAccumulatesBalance(t *testing.T) {
	module := authorizationengine.NewInMemoryModule(nil)
	vaultID := newVault(t, module)

	deposit(t, module, vaultID, "idem-dep-1", "250")
	resp := deposit(t, module, vaultID, "idem-dep-2", "750")
	if resp.Balance != "1000" {
		t.Fatalf("expected balance 1000, got %s", resp.Balance)
	}

	_, err := module.Handler.DepositHandler(
		context.Background(), vaultID, "funder-1", "idem-dep-3",
		httptransport.DepositRequest{Amount: "-5"},
	)
	if !errors.Is(err, domainerrors.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative deposit, got %v", err)
	}
}

func TestGuardianSetCapAndMembership(t *testing.T) {
	module := authorizationengine.NewInMemoryModule(nil)
	vaultID := newVault(t, module)
	addGuardians(t, module, vaultID, 5)

	status, err := module.Handler.VaultStatusHandler(context.Background(), vaultID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.GuardianCount != 5 || !status.RecoveryEnabled {
		t.Fatalf("expected full quorum with recovery enabled, got count=%d enabled=%v",
			status.GuardianCount, status.RecoveryEnabled)
	}

	_, err = module.Handler.SetGuardianHandler(
		context.Background(), vaultID, owner, "idem-guardian-6",
		httptransport.SetGuardianRequest{TargetID: "guardian-6", MakeGuardian: true},
	)
	if !errors.Is(err, domainerrors.ErrGuardianSetFull) {
		t.Fatalf("expected ErrGuardianSetFull, got %v", err)
	}

	_, err = module.Handler.SetGuardianHandler(
		context.Background(), vaultID, owner, "idem-guardian-dup",
		httptransport.SetGuardianRequest{TargetID: "guardian-1", MakeGuardian: true},
	)
	if !errors.Is(err, domainerrors.ErrAlreadyGuardian) {
		t.Fatalf("expected ErrAlreadyGuardian, got %v", err)
	}

	_, err = module.Handler.SetGuardianHandler(
		context.Background(), vaultID, owner, "idem-guardian-missing",
		httptransport.SetGuardianRequest{TargetID: "stranger", MakeGuardian: false},
	)
	if !errors.Is(err, domainerrors.ErrNotGuardian) {
		t.Fatalf("expected ErrNotGuardian for removing a non-member, got %v", err)
	}

	_, err = module.Handler.SetGuardianHandler(
		context.Background(), vaultID, "guardian-1", "idem-guardian-nonowner",
		httptransport.SetGuardianRequest{TargetID: "guardian-7", MakeGuardian: true},
	)
	if !errors.Is(err, domainerrors.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-owner mutation, got %v", err)
	}

	_, err = module.Handler.SetGuardianHandler(
		context.Background(), vaultID, owner, "idem-guardian-zero",
		httptransport.SetGuardianRequest{TargetID: "   ", MakeGuardian: true},
	)
	if !errors.Is(err, domainerrors.ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity for blank target, got %v", err)
	}
}

func TestRecoveryRequiresFullQuorum(t *testing.T) {
	module := authorizationengine.NewInMemoryModule(nil)
	vaultID := newVault(t, module)
	addGuardians(t, module, vaultID, 4)

	_, err := module.Handler.ProposeOwnerHandler(
		context.Background(), vaultID, "guardian-1", "idem-propose-early",
		httptransport.ProposeOwnerRequest{CandidateID: "new-owner"},
	)
	if !errors.Is(err, domainerrors.ErrQuorumNotConfigured) {
		t.Fatalf("expected ErrQuorumNotConfigured below five guardians, got %v", err)
	}
}

func TestRecoveryThresholdReplacesOwner(t *testing.T) {
	module := authorizationengine.NewInMemoryModule(nil)
	vaultID := newVault(t, module)
	guardians := addGuardians(t, module, vaultID, 5)

	for i, guardian := range guardians[:2] {
		resp, err := module.Handler.ProposeOwnerHandler(
			context.Background(), vaultID, guardian, fmt.Sprintf("idem-vote-%d", i),
			httptransport.ProposeOwnerRequest{CandidateID: "new-owner"},
		)
		if err != nil {
			t.Fatalf("vote %d failed: %v", i, err)
		}
		if resp.OwnerChanged {
			t.Fatalf("owner must not change below three votes")
		}
		if resp.Votes != i+1 {
			t.Fatalf("expected tally %d, got %d", i+1, resp.Votes)
		}
	}

	_, err := module.Handler.ProposeOwnerHandler(
		context.Background(), vaultID, guardians[0], "idem-vote-dup",
		httptransport.ProposeOwnerRequest{CandidateID: "new-owner"},
	)
	if !errors.Is(err, domainerrors.ErrDuplicateVote) {
		t.Fatalf("expected ErrDuplicateVote, got %v", err)
	}

	// A vote for a different candidate is a separate tally.
	other, err := module.Handler.ProposeOwnerHandler(
		context.Background(), vaultID, guardians[3], "idem-vote-other",
		httptransport.ProposeOwnerRequest{CandidateID: "rival-owner"},
	)
	if err != nil {
		t.Fatalf("rival vote failed: %v", err)
	}
	if other.Votes != 1 {
		t.Fatalf("expected rival tally 1, got %d", other.Votes)
	}

	winning, err := module.Handler.ProposeOwnerHandler(
		context.Background(), vaultID, guardians[2], "idem-vote-3",
		httptransport.ProposeOwnerRequest{CandidateID: "new-owner"},
	)
	if err != nil {
		t.Fatalf("third vote failed: %v", err)
	}
	if !winning.OwnerChanged || winning.OwnerID != "new-owner" {
		t.Fatalf("expected owner change to new-owner, got %+v", winning)
	}
	if winning.Votes != 0 {
		t.Fatalf("expected winning tally reset to 0, got %d", winning.Votes)
	}

	status, err := module.Handler.VaultStatusHandler(context.Background(), vaultID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.OwnerID != "new-owner" {
		t.Fatalf("expected persisted owner new-owner, got %s", status.OwnerID)
	}

	// Only the winning candidate's tally resets.
	rival, err := module.Handler.VotesHandler(context.Background(), vaultID, "rival-owner")
	if err != nil {
		t.Fatalf("rival tally read failed: %v", err)
	}
	if rival.Votes != 1 {
		t.Fatalf("expected rival tally to survive the flip, got %d", rival.Votes)
	}
}

func TestProposeOwnerRejectsNonGuardian(t *testing.T) {
	module := authorizationengine.NewInMemoryModule(nil)
	vaultID := newVault(t, module)
	addGuardians(t, module, vaultID, 5)

	_, err := module.Handler.ProposeOwnerHandler(
		context.Background(), vaultID, "stranger", "idem-propose-stranger",
		httptransport.ProposeOwnerRequest{CandidateID: "new-owner"},
	)
	if !errors.Is(err, domainerrors.ErrNotGuardian) {
		t.Fatalf("expected ErrNotGuardian, got %v", err)
	}
}

func TestRevokeVoteAndRevote(t *testing.T) {
	module := authorizationengine.NewInMemoryModule(nil)
	vaultID := newVault(t, module)
	guardians := addGuardians(t, module, vaultID, 5)

	_, err := module.Handler.ProposeOwnerHandler(
		context.Background(), vaultID, guardians[0], "idem-vote-1",
		httptransport.ProposeOwnerRequest{CandidateID: "new-owner"},
	)
	if err != nil {
		t.Fatalf("vote failed: %v", err)
	}

	revoked, err := module.Handler.RevokeVoteHandler(
		context.Background(), vaultID, guardians[0], "idem-revoke-1",
		httptransport.RevokeVoteRequest{CandidateID: "new-owner"},
	)
	if err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if revoked.Votes != 0 {
		t.Fatalf("expected tally 0 after revoke, got %d", revoked.Votes)
	}

	_, err = module.Handler.RevokeVoteHandler(
		context.Background(), vaultID, guardians[0], "idem-revoke-2",
		httptransport.RevokeVoteRequest{CandidateID: "new-owner"},
	)
	if !errors.Is(err, domainerrors.ErrNoVoteToRevoke) {
		t.Fatalf("expected ErrNoVoteToRevoke on second revoke, got %v", err)
	}

	revote, err := module.Handler.ProposeOwnerHandler(
		context.Background(), vaultID, guardians[0], "idem-vote-again",
		httptransport.ProposeOwnerRequest{CandidateID: "new-owner"},
	)
	if err != nil {
		t.Fatalf("revote failed: %v", err)
	}
	if revote.Votes != 1 {
		t.Fatalf("expected tally 1 after revote, got %d", revote.Votes)
	}
}

func TestRemovedGuardianVoteStillCounts(t *testing.T) {
	module := authorizationengine.NewInMemoryModule(nil)
	vaultID := newVault(t, module)
	guardians := addGuardians(t, module, vaultID, 5)

	_, err := module.Handler.ProposeOwnerHandler(
		context.Background(), vaultID, guardians[0], "idem-vote-1",
		httptransport.ProposeOwnerRequest{CandidateID: "new-owner"},
	)
	if err != nil {
		t.Fatalf("vote failed: %v", err)
	}

	_, err = module.Handler.SetGuardianHandler(
		context.Background(), vaultID, owner, "idem-remove-voter",
		httptransport.SetGuardianRequest{TargetID: guardians[0], MakeGuardian: false},
	)
	if err != nil {
		t.Fatalf("remove guardian failed: %v", err)
	}

	tally, err := module.Handler.VotesHandler(context.Background(), vaultID, "new-owner")
	if err != nil {
		t.Fatalf("tally read failed: %v", err)
	}
	if tally.Votes != 1 {
		t.Fatalf("expected removed guardian's standing vote to keep counting, got %d", tally.Votes)
	}
}

func TestOwnerExecuteDebitsBalance(t *testing.T) {
	module := authorizationengine.NewInMemoryModule(nil)
	vaultID := newVault(t, module)
	deposit(t, module, vaultID, "idem-dep", "1000")

	resp, err := module.Handler.ExecuteHandler(
		context.Background(), vaultID, owner, "idem-exec-1",
		httptransport.ExecuteRequest{ToID: "merchant-1", Value: "400", Payload: []byte(`{"op":"pay"}`)},
	)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if resp.Balance != "600" {
		t.Fatalf("expected balance 600, got %s", resp.Balance)
	}
	if resp.Allowance != nil {
		t.Fatalf("owner execution must not report an allowance")
	}
	if string(resp.ReturnData) != `{"op":"pay"}` {
		t.Fatalf("expected echoed payload, got %q", resp.ReturnData)
	}
	if module.Gate.CallCount() != 1 {
		t.Fatalf("expected one gate call, got %d", module.Gate.CallCount())
	}

	_, err = module.Handler.ExecuteHandler(
		context.Background(), vaultID, owner, "idem-exec-over",
		httptransport.ExecuteRequest{ToID: "merchant-1", Value: "601"},
	)
	if !errors.Is(err, domainerrors.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	_, err = module.Handler.ExecuteHandler(
		context.Background(), vaultID, owner, "idem-exec-zero-to",
		httptransport.ExecuteRequest{ToID: " ", Value: "1"},
	)
	if !errors.Is(err, domainerrors.ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity for blank target, got %v", err)
	}
}

func TestDelegateAllowanceLifecycle(t *testing.T) {
	module := authorizationengine.NewInMemoryModule(nil)
	vaultID := newVault(t, module)
	deposit(t, module, vaultID, "idem-dep", "1000")

	granted, err := module.Handler.SetAllowanceHandler(
		context.Background(), vaultID, owner, "idem-allow-1",
		httptransport.SetAllowanceRequest{TargetID: "delegate-1", Amount: "100"},
	)
	if err != nil {
		t.Fatalf("set allowance failed: %v", err)
	}
	if !granted.AllowedToSend {
		t.Fatalf("positive allowance must grant the send flag")
	}

	spent, err := module.Handler.ExecuteHandler(
		context.Background(), vaultID, "delegate-1", "idem-exec-1",
		httptransport.ExecuteRequest{ToID: "merchant-1", Value: "60"},
	)
	if err != nil {
		t.Fatalf("delegate execute failed: %v", err)
	}
	if spent.Allowance == nil || *spent.Allowance != "40" {
		t.Fatalf("expected remaining allowance 40, got %v", spent.Allowance)
	}
	if spent.Balance != "940" {
		t.Fatalf("expected balance 940, got %s", spent.Balance)
	}

	_, err = module.Handler.ExecuteHandler(
		context.Background(), vaultID, "delegate-1", "idem-exec-2",
		httptransport.ExecuteRequest{ToID: "merchant-1", Value: "60"},
	)
	if !errors.Is(err, domainerrors.ErrAllowanceExceeded) {
		t.Fatalf("expected ErrAllowanceExceeded, got %v", err)
	}

	cleared, err := module.Handler.SetAllowanceHandler(
		context.Background(), vaultID, owner, "idem-allow-2",
		httptransport.SetAllowanceRequest{TargetID: "delegate-1", Amount: "0"},
	)
	if err != nil {
		t.Fatalf("clear allowance failed: %v", err)
	}
	if cleared.AllowedToSend {
		t.Fatalf("zero allowance must clear the send flag")
	}

	_, err = module.Handler.ExecuteHandler(
		context.Background(), vaultID, "delegate-1", "idem-exec-3",
		httptransport.ExecuteRequest{ToID: "merchant-1", Value: "1"},
	)
	if !errors.Is(err, domainerrors.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized after allowance cleared, got %v", err)
	}

	_, err = module.Handler.SetAllowanceHandler(
		context.Background(), vaultID, "delegate-1", "idem-allow-selfserve",
		httptransport.SetAllowanceRequest{TargetID: "delegate-1", Amount: "9999"},
	)
	if !errors.Is(err, domainerrors.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-owner allowance write, got %v", err)
	}
}

func TestAllowanceDebitedToZeroDisablesSending(t *testing.T) {
	module := authorizationengine.NewInMemoryModule(nil)
	vaultID := newVault(t, module)
	deposit(t, module, vaultID, "idem-dep", "1000")

	_, err := module.Handler.SetAllowanceHandler(
		context.Background(), vaultID, owner, "idem-allow",
		httptransport.SetAllowanceRequest{TargetID: "delegate-1", Amount: "100"},
	)
	if err != nil {
		t.Fatalf("set allowance failed: %v", err)
	}

	_, err = module.Handler.ExecuteHandler(
		context.Background(), vaultID, "delegate-1", "idem-exec-1",
		httptransport.ExecuteRequest{ToID: "merchant-1", Value: "40"},
	)
	if err != nil {
		t.Fatalf("first spend failed: %v", err)
	}

	// Spending the exact remainder lands the allowance on zero through a
	// debit, not an owner write.
	drained, err := module.Handler.ExecuteHandler(
		context.Background(), vaultID, "delegate-1", "idem-exec-2",
		httptransport.ExecuteRequest{ToID: "merchant-1", Value: "60"},
	)
	if err != nil {
		t.Fatalf("draining spend failed: %v", err)
	}
	if drained.Allowance == nil || *drained.Allowance != "0" {
		t.Fatalf("expected remaining allowance 0, got %v", drained.Allowance)
	}

	view, err := module.Handler.AllowanceStatusHandler(context.Background(), vaultID, "delegate-1")
	if err != nil {
		t.Fatalf("allowance read failed: %v", err)
	}
	if view.Allowance != "0" || view.AllowedToSend {
		t.Fatalf("drained allowance must clear the send flag, got allowance=%s allowed=%v",
			view.Allowance, view.AllowedToSend)
	}

	_, err = module.Handler.ExecuteHandler(
		context.Background(), vaultID, "delegate-1", "idem-exec-3",
		httptransport.ExecuteRequest{ToID: "merchant-1", Value: "1"},
	)
	if !errors.Is(err, domainerrors.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized after allowance drained to zero, got %v", err)
	}
}

func TestExecuteRollsBackOnGateFailure(t *testing.T) {
	module := authorizationengine.NewInMemoryModule(nil)
	vaultID := newVault(t, module)
	deposit(t, module, vaultID, "idem-dep", "500")

	_, err := module.Handler.SetAllowanceHandler(
		context.Background(), vaultID, owner, "idem-allow",
		httptransport.SetAllowanceRequest{TargetID: "delegate-1", Amount: "200"},
	)
	if err != nil {
		t.Fatalf("set allowance failed: %v", err)
	}

	module.Gate.FailNext = true
	_, err = module.Handler.ExecuteHandler(
		context.Background(), vaultID, "delegate-1", "idem-exec-fail",
		httptransport.ExecuteRequest{ToID: "merchant-1", Value: "150"},
	)
	if !errors.Is(err, domainerrors.ErrCallFailed) {
		t.Fatalf("expected ErrCallFailed, got %v", err)
	}

	status, err := module.Handler.VaultStatusHandler(context.Background(), vaultID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Balance != "500" {
		t.Fatalf("failed call must not debit the balance, got %s", status.Balance)
	}
	view, err := module.Handler.AllowanceStatusHandler(context.Background(), vaultID, "delegate-1")
	if err != nil {
		t.Fatalf("allowance read failed: %v", err)
	}
	if view.Allowance != "200" {
		t.Fatalf("failed call must not debit the allowance, got %s", view.Allowance)
	}
}

func TestExecuteIdempotentReplay(t *testing.T) {
	module := authorizationengine.NewInMemoryModule(nil)
	vaultID := newVault(t, module)
	deposit(t, module, vaultID, "idem-dep", "1000")

	first, err := module.Handler.ExecuteHandler(
		context.Background(), vaultID, owner, "idem-exec-replay",
		httptransport.ExecuteRequest{ToID: "merchant-1", Value: "100"},
	)
	if err != nil {
		t.Fatalf("first execute failed: %v", err)
	}
	if first.Replayed {
		t.Fatalf("first execution must not be a replay")
	}

	second, err := module.Handler.ExecuteHandler(
		context.Background(), vaultID, owner, "idem-exec-replay",
		httptransport.ExecuteRequest{ToID: "merchant-1", Value: "100"},
	)
	if err != nil {
		t.Fatalf("replayed execute failed: %v", err)
	}
	if !second.Replayed {
		t.Fatalf("expected replay marker on second call")
	}
	if second.Balance != first.Balance {
		t.Fatalf("replay must return the original result")
	}
	if module.Gate.CallCount() != 1 {
		t.Fatalf("replay must not reach the gate again, got %d calls", module.Gate.CallCount())
	}

	status, err := module.Handler.VaultStatusHandler(context.Background(), vaultID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Balance != "900" {
		t.Fatalf("replay must not debit twice, got balance %s", status.Balance)
	}
}

func TestCommandsEmitOutboxEvents(t *testing.T) {
	module := authorizationengine.NewInMemoryModule(nil)
	vaultID := newVault(t, module)
	deposit(t, module, vaultID, "idem-dep", "100")

	// vault_created + deposited
	if got := module.Store.PendingOutboxCount(); got != 2 {
		t.Fatalf("expected 2 pending outbox rows, got %d", got)
	}

	if err := module.Relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("relay drain failed: %v", err)
	}
	if got := module.Store.PendingOutboxCount(); got != 0 {
		t.Fatalf("expected drained outbox, got %d pending", got)
	}
}
