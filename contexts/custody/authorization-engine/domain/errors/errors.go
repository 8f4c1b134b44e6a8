package errors

import "errors"

var (
	// Authorization preconditions.
	ErrUnauthorized  = errors.New("caller is not the vault owner")
	ErrNotGuardian   = errors.New("identity is not a guardian")
	ErrNotAuthorized = errors.New("caller has no positive allowance")

	// Input preconditions.
	ErrInvalidIdentity = errors.New("zero identity is not allowed")
	ErrInvalidAmount   = errors.New("invalid amount")

	// Guardian set mutations.
	ErrAlreadyGuardian = errors.New("identity is already a guardian")
	ErrGuardianSetFull = errors.New("guardian set is full")

	// Spending.
	ErrInsufficientFunds = errors.New("vault balance is insufficient")
	ErrAllowanceExceeded = errors.New("allowance is insufficient")
	ErrCallFailed        = errors.New("downstream call failed")

	// Recovery voting.
	ErrQuorumNotConfigured = errors.New("guardian quorum is not fully configured")
	ErrDuplicateVote       = errors.New("guardian already voted for this candidate")
	ErrNoVoteToRevoke      = errors.New("no standing vote to revoke")

	// Ambient service errors.
	ErrVaultNotFound          = errors.New("vault not found")
	ErrConflict               = errors.New("conflicting concurrent write")
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	ErrIdempotencyConflict    = errors.New("idempotency key conflict")
)
