package entities

import (
	"time"

	"warden/contexts/custody/authorization-engine/domain/valueobjects"
)

// RecoveryVote records one guardian currently voting to make CandidateID the
// vault owner. The tally for a candidate is the count of its vote rows; the
// voter set is the guardians on those rows. Uniqueness over
// (vault, guardian, candidate) is what enforces the duplicate-vote rule.
type RecoveryVote struct {
	VoteID      string                `json:"vote_id"`
	VaultID     string                `json:"vault_id"`
	GuardianID  valueobjects.Identity `json:"guardian_id"`
	CandidateID valueobjects.Identity `json:"candidate_id"`
	CastAt      time.Time             `json:"cast_at"`
}
