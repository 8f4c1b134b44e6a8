package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	authorizationengine "warden/contexts/custody/authorization-engine"
	custodyhttp "warden/contexts/custody/authorization-engine/transport/http"
	"warden/internal/platform/metrics"
)

func newTestServer(t *testing.T) (*Server, authorizationengine.Module) {
	t.Helper()
	module := authorizationengine.NewInMemoryModule(nil)
	return New(module, metrics.New(), nil, ":0"), module
}

func doJSON(
	t *testing.T,
	server *Server,
	method string,
	path string,
	callerID string,
	idempotencyKey string,
	body any,
) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if callerID != "" {
		req.Header.Set("X-Caller-Id", callerID)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func createVault(t *testing.T, server *Server) string {
	t.Helper()
	resp := doJSON(t, server, http.MethodPost, "/api/custody/v1/vaults", "owner-1", "idem-create", nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var vault custodyhttp.VaultResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &vault); err != nil {
		t.Fatalf("decode vault failed: %v", err)
	}
	return vault.VaultID
}

func TestCreateVaultRequiresCallerHeader(t *testing.T) {
	server, _ := newTestServer(t)
	resp := doJSON(t, server, http.MethodPost, "/api/custody/v1/vaults", "", "idem-1", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without X-Caller-Id, got %d", resp.Code)
	}
}

func TestVaultStatusNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	resp := doJSON(t, server, http.MethodGet, "/api/custody/v1/vaults/missing", "", "", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	var body custodyhttp.ErrorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body failed: %v", err)
	}
	if body.Code != "vault_not_found" {
		t.Fatalf("expected vault_not_found code, got %s", body.Code)
	}
}

func TestGuardianCapConflictStatus(t *testing.T) {
	server, _ := newTestServer(t)
	vaultID := createVault(t, server)
	base := "/api/custody/v1/vaults/" + vaultID

	for i := 1; i <= 5; i++ {
		resp := doJSON(t, server, http.MethodPost, base+"/guardians", "owner-1",
			fmt.Sprintf("idem-g-%d", i),
			custodyhttp.SetGuardianRequest{TargetID: fmt.Sprintf("guardian-%d", i), MakeGuardian: true})
		if resp.Code != http.StatusOK {
			t.Fatalf("guardian %d add expected 200, got %d: %s", i, resp.Code, resp.Body.String())
		}
	}

	resp := doJSON(t, server, http.MethodPost, base+"/guardians", "owner-1", "idem-g-6",
		custodyhttp.SetGuardianRequest{TargetID: "guardian-6", MakeGuardian: true})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for sixth guardian, got %d", resp.Code)
	}

	// Removing a non-member is a conflict, not a forbidden: the sentinel
	// refers to the target on this route.
	resp = doJSON(t, server, http.MethodPost, base+"/guardians", "owner-1", "idem-g-rm",
		custodyhttp.SetGuardianRequest{TargetID: "stranger", MakeGuardian: false})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 removing non-member, got %d", resp.Code)
	}

	resp = doJSON(t, server, http.MethodPost, base+"/guardians", "guardian-1", "idem-g-f",
		custodyhttp.SetGuardianRequest{TargetID: "guardian-7", MakeGuardian: true})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner caller, got %d", resp.Code)
	}
}

func TestExecuteStatusMapping(t *testing.T) {
	server, module := newTestServer(t)
	vaultID := createVault(t, server)
	base := "/api/custody/v1/vaults/" + vaultID

	resp := doJSON(t, server, http.MethodPost, base+"/deposit", "funder-1", "idem-dep",
		custodyhttp.DepositRequest{Amount: "100"})
	if resp.Code != http.StatusOK {
		t.Fatalf("deposit expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = doJSON(t, server, http.MethodPost, base+"/execute", "owner-1", "idem-exec-over",
		custodyhttp.ExecuteRequest{ToID: "merchant-1", Value: "101"})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for insufficient funds, got %d", resp.Code)
	}

	module.Gate.FailNext = true
	resp = doJSON(t, server, http.MethodPost, base+"/execute", "owner-1", "idem-exec-fail",
		custodyhttp.ExecuteRequest{ToID: "merchant-1", Value: "50"})
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for downstream failure, got %d", resp.Code)
	}

	resp = doJSON(t, server, http.MethodPost, base+"/execute", "owner-1", "idem-exec-ok",
		custodyhttp.ExecuteRequest{ToID: "merchant-1", Value: "50"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var result custodyhttp.ExecuteResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode execute response failed: %v", err)
	}
	if result.Balance != "50" {
		t.Fatalf("expected balance 50, got %s", result.Balance)
	}

	resp = doJSON(t, server, http.MethodPost, base+"/execute", "stranger", "idem-exec-deny",
		custodyhttp.ExecuteRequest{ToID: "merchant-1", Value: "1"})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unauthorized sender, got %d", resp.Code)
	}
}

func TestRecoveryRoutes(t *testing.T) {
	server, _ := newTestServer(t)
	vaultID := createVault(t, server)
	base := "/api/custody/v1/vaults/" + vaultID

	for i := 1; i <= 5; i++ {
		doJSON(t, server, http.MethodPost, base+"/guardians", "owner-1",
			fmt.Sprintf("idem-g-%d", i),
			custodyhttp.SetGuardianRequest{TargetID: fmt.Sprintf("guardian-%d", i), MakeGuardian: true})
	}

	for i := 1; i <= 2; i++ {
		resp := doJSON(t, server, http.MethodPost, base+"/recovery/votes", fmt.Sprintf("guardian-%d", i),
			fmt.Sprintf("idem-vote-%d", i),
			custodyhttp.ProposeOwnerRequest{CandidateID: "new-owner"})
		if resp.Code != http.StatusOK {
			t.Fatalf("vote %d expected 200, got %d: %s", i, resp.Code, resp.Body.String())
		}
	}

	resp := doJSON(t, server, http.MethodGet, base+"/recovery/votes", "", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("standing votes expected 200, got %d", resp.Code)
	}
	var standing custodyhttp.StandingVotesResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &standing); err != nil {
		t.Fatalf("decode standing votes failed: %v", err)
	}
	if len(standing.Votes) != 2 {
		t.Fatalf("expected 2 standing votes, got %d", len(standing.Votes))
	}
	if standing.Votes[0].GuardianID != "guardian-1" {
		t.Fatalf("expected oldest vote first, got %s", standing.Votes[0].GuardianID)
	}

	resp = doJSON(t, server, http.MethodPost, base+"/recovery/votes", "guardian-3", "idem-vote-3",
		custodyhttp.ProposeOwnerRequest{CandidateID: "new-owner"})
	if resp.Code != http.StatusOK {
		t.Fatalf("vote 3 expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = doJSON(t, server, http.MethodGet, base, "", "", nil)
	var status custodyhttp.VaultResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status failed: %v", err)
	}
	if status.OwnerID != "new-owner" {
		t.Fatalf("expected owner flip after three votes, got %s", status.OwnerID)
	}

	resp = doJSON(t, server, http.MethodGet, base+"/recovery/votes/new-owner", "", "", nil)
	var tally custodyhttp.VotesResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &tally); err != nil {
		t.Fatalf("decode tally failed: %v", err)
	}
	if tally.Votes != 0 {
		t.Fatalf("expected cleared tally, got %d", tally.Votes)
	}
}
