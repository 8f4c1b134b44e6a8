package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	authorizationengine "warden/contexts/custody/authorization-engine"
	custodyerrors "warden/contexts/custody/authorization-engine/domain/errors"
	custodyhttp "warden/contexts/custody/authorization-engine/transport/http"
	"warden/internal/platform/metrics"

	httpSwagger "github.com/swaggo/http-swagger"
)

type Server struct {
	mux     *http.ServeMux
	logger  *slog.Logger
	addr    string
	custody authorizationengine.Module
	metrics *metrics.Metrics
}

func New(
	custody authorizationengine.Module,
	collector *metrics.Metrics,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:     http.NewServeMux(),
		logger:  logger,
		addr:    addr,
		custody: custody,
		metrics: collector,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the routing table for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.route("POST /api/custody/v1/vaults", s.handleCreateVault)
	s.route("GET /api/custody/v1/vaults/{vault_id}", s.handleVaultStatus)
	s.route("POST /api/custody/v1/vaults/{vault_id}/deposit", s.handleDeposit)
	s.route("POST /api/custody/v1/vaults/{vault_id}/guardians", s.handleSetGuardian)
	s.route("GET /api/custody/v1/vaults/{vault_id}/guardians/{identity}", s.handleGuardianStatus)
	s.route("POST /api/custody/v1/vaults/{vault_id}/allowances", s.handleSetAllowance)
	s.route("GET /api/custody/v1/vaults/{vault_id}/allowances/{identity}", s.handleAllowanceStatus)
	s.route("POST /api/custody/v1/vaults/{vault_id}/execute", s.handleExecute)
	s.route("POST /api/custody/v1/vaults/{vault_id}/recovery/votes", s.handleProposeOwner)
	s.route("POST /api/custody/v1/vaults/{vault_id}/recovery/votes/revoke", s.handleRevokeVote)
	s.route("GET /api/custody/v1/vaults/{vault_id}/recovery/votes", s.handleStandingVotes)
	s.route("GET /api/custody/v1/vaults/{vault_id}/recovery/votes/{candidate_id}", s.handleVotes)
}

func (s *Server) route(pattern string, handler http.HandlerFunc) {
	if s.metrics == nil {
		s.mux.HandleFunc(pattern, handler)
		return
	}
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		s.metrics.ObserveRequest(pattern, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCallerID(w, r)
	if !ok {
		return
	}
	resp, err := s.custody.Handler.CreateVaultHandler(r.Context(), callerID, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleVaultStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.custody.Handler.VaultStatusHandler(r.Context(), r.PathValue("vault_id"))
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCallerID(w, r)
	if !ok {
		return
	}
	var req custodyhttp.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCustodyError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.custody.Handler.DepositHandler(
		r.Context(),
		r.PathValue("vault_id"),
		callerID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetGuardian(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCallerID(w, r)
	if !ok {
		return
	}
	var req custodyhttp.SetGuardianRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCustodyError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.custody.Handler.SetGuardianHandler(
		r.Context(),
		r.PathValue("vault_id"),
		callerID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		// On this route ErrNotGuardian refers to the removal target, not the
		// caller, so it reports as a conflict rather than a forbidden.
		if errors.Is(err, custodyerrors.ErrNotGuardian) {
			writeCustodyError(w, http.StatusConflict, "not_guardian", err.Error())
			return
		}
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGuardianStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.custody.Handler.GuardianStatusHandler(
		r.Context(),
		r.PathValue("vault_id"),
		r.PathValue("identity"),
	)
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetAllowance(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCallerID(w, r)
	if !ok {
		return
	}
	var req custodyhttp.SetAllowanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCustodyError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.custody.Handler.SetAllowanceHandler(
		r.Context(),
		r.PathValue("vault_id"),
		callerID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAllowanceStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.custody.Handler.AllowanceStatusHandler(
		r.Context(),
		r.PathValue("vault_id"),
		r.PathValue("identity"),
	)
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCallerID(w, r)
	if !ok {
		return
	}
	var req custodyhttp.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCustodyError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.custody.Handler.ExecuteHandler(
		r.Context(),
		r.PathValue("vault_id"),
		callerID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProposeOwner(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCallerID(w, r)
	if !ok {
		return
	}
	var req custodyhttp.ProposeOwnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCustodyError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.custody.Handler.ProposeOwnerHandler(
		r.Context(),
		r.PathValue("vault_id"),
		callerID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRevokeVote(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCallerID(w, r)
	if !ok {
		return
	}
	var req custodyhttp.RevokeVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCustodyError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.custody.Handler.RevokeVoteHandler(
		r.Context(),
		r.PathValue("vault_id"),
		callerID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStandingVotes(w http.ResponseWriter, r *http.Request) {
	resp, err := s.custody.Handler.StandingVotesHandler(r.Context(), r.PathValue("vault_id"))
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVotes(w http.ResponseWriter, r *http.Request) {
	resp, err := s.custody.Handler.VotesHandler(
		r.Context(),
		r.PathValue("vault_id"),
		r.PathValue("candidate_id"),
	)
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func requireCallerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	callerID := strings.TrimSpace(r.Header.Get("X-Caller-Id"))
	if callerID == "" {
		writeCustodyError(w, http.StatusUnauthorized, "missing_caller", "X-Caller-Id header is required")
		return "", false
	}
	return callerID, true
}

func writeCustodyDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, custodyerrors.ErrUnauthorized):
		writeCustodyError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, custodyerrors.ErrNotGuardian):
		writeCustodyError(w, http.StatusForbidden, "not_guardian", err.Error())
	case errors.Is(err, custodyerrors.ErrNotAuthorized):
		writeCustodyError(w, http.StatusForbidden, "not_authorized", err.Error())
	case errors.Is(err, custodyerrors.ErrInvalidIdentity):
		writeCustodyError(w, http.StatusBadRequest, "invalid_identity", err.Error())
	case errors.Is(err, custodyerrors.ErrInvalidAmount):
		writeCustodyError(w, http.StatusBadRequest, "invalid_amount", err.Error())
	case errors.Is(err, custodyerrors.ErrIdempotencyKeyRequired):
		writeCustodyError(w, http.StatusBadRequest, "idempotency_key_required", err.Error())
	case errors.Is(err, custodyerrors.ErrVaultNotFound):
		writeCustodyError(w, http.StatusNotFound, "vault_not_found", err.Error())
	case errors.Is(err, custodyerrors.ErrAlreadyGuardian):
		writeCustodyError(w, http.StatusConflict, "already_guardian", err.Error())
	case errors.Is(err, custodyerrors.ErrGuardianSetFull):
		writeCustodyError(w, http.StatusConflict, "guardian_set_full", err.Error())
	case errors.Is(err, custodyerrors.ErrDuplicateVote):
		writeCustodyError(w, http.StatusConflict, "duplicate_vote", err.Error())
	case errors.Is(err, custodyerrors.ErrNoVoteToRevoke):
		writeCustodyError(w, http.StatusConflict, "no_vote_to_revoke", err.Error())
	case errors.Is(err, custodyerrors.ErrQuorumNotConfigured):
		writeCustodyError(w, http.StatusConflict, "quorum_not_configured", err.Error())
	case errors.Is(err, custodyerrors.ErrIdempotencyConflict):
		writeCustodyError(w, http.StatusConflict, "idempotency_conflict", err.Error())
	case errors.Is(err, custodyerrors.ErrConflict):
		writeCustodyError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, custodyerrors.ErrInsufficientFunds):
		writeCustodyError(w, http.StatusUnprocessableEntity, "insufficient_funds", err.Error())
	case errors.Is(err, custodyerrors.ErrAllowanceExceeded):
		writeCustodyError(w, http.StatusUnprocessableEntity, "allowance_exceeded", err.Error())
	case errors.Is(err, custodyerrors.ErrCallFailed):
		writeCustodyError(w, http.StatusBadGateway, "call_failed", err.Error())
	default:
		writeCustodyError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeCustodyError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, custodyhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
