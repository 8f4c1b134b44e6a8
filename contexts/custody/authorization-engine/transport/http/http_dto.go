package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type VaultResponse struct {
	VaultID         string   `json:"vault_id"`
	OwnerID         string   `json:"owner_id"`
	Balance         string   `json:"balance"`
	Guardians       []string `json:"guardians"`
	GuardianCount   int      `json:"guardian_count"`
	RecoveryEnabled bool     `json:"recovery_enabled"`
	Replayed        bool     `json:"replayed,omitempty"`
}

type DepositRequest struct {
	Amount string `json:"amount"`
}

type DepositResponse struct {
	VaultID  string `json:"vault_id"`
	Balance  string `json:"balance"`
	Replayed bool   `json:"replayed"`
}

type SetGuardianRequest struct {
	TargetID     string `json:"target_id"`
	MakeGuardian bool   `json:"make_guardian"`
}

type GuardianResponse struct {
	VaultID       string `json:"vault_id"`
	TargetID      string `json:"target_id"`
	IsGuardian    bool   `json:"is_guardian"`
	GuardianCount int    `json:"guardian_count"`
	Replayed      bool   `json:"replayed"`
}

type SetAllowanceRequest struct {
	TargetID string `json:"target_id"`
	Amount   string `json:"amount"`
}

type AllowanceResponse struct {
	VaultID       string `json:"vault_id"`
	TargetID      string `json:"target_id"`
	Allowance     string `json:"allowance"`
	AllowedToSend bool   `json:"allowed_to_send"`
	Replayed      bool   `json:"replayed,omitempty"`
}

type ExecuteRequest struct {
	ToID string `json:"to_id"`
	// Value is a base-10 integer string; amounts never travel as JSON numbers.
	Value   string `json:"value"`
	Payload []byte `json:"payload,omitempty"`
}

type ExecuteResponse struct {
	VaultID    string  `json:"vault_id"`
	ReturnData []byte  `json:"return_data,omitempty"`
	Balance    string  `json:"balance"`
	Allowance  *string `json:"allowance,omitempty"`
	Replayed   bool    `json:"replayed"`
}

type ProposeOwnerRequest struct {
	CandidateID string `json:"candidate_id"`
}

type ProposeOwnerResponse struct {
	VaultID      string `json:"vault_id"`
	CandidateID  string `json:"candidate_id"`
	Votes        int    `json:"votes"`
	OwnerChanged bool   `json:"owner_changed"`
	OwnerID      string `json:"owner_id"`
	Replayed     bool   `json:"replayed"`
}

type RevokeVoteRequest struct {
	CandidateID string `json:"candidate_id"`
}

type RevokeVoteResponse struct {
	VaultID     string `json:"vault_id"`
	CandidateID string `json:"candidate_id"`
	Votes       int    `json:"votes"`
	Replayed    bool   `json:"replayed"`
}

type GuardianStatusResponse struct {
	VaultID    string `json:"vault_id"`
	Identity   string `json:"identity"`
	IsGuardian bool   `json:"is_guardian"`
}

type VotesResponse struct {
	VaultID     string `json:"vault_id"`
	CandidateID string `json:"candidate_id"`
	Votes       int    `json:"votes"`
}

type StandingVote struct {
	GuardianID  string `json:"guardian_id"`
	CandidateID string `json:"candidate_id"`
	CastAt      string `json:"cast_at"`
}

type StandingVotesResponse struct {
	VaultID string         `json:"vault_id"`
	Votes   []StandingVote `json:"votes"`
}
