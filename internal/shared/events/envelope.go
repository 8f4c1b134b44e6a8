// Package events names the event types warden services publish. Payload
// shapes stay private to the emitting module; consumers couple to the type
// strings only.
package events

// Custody event types emitted by the authorization engine. Custody events
// partition by vault so per-vault ordering survives the bus.
const (
	TypeVaultCreated    = "custody.vault_created"
	TypeDeposited       = "custody.deposited"
	TypeGuardianChanged = "custody.guardian_changed"
	TypeAllowanceSet    = "custody.allowance_set"
	TypeExecuted        = "custody.executed"
	TypeVoteCast        = "custody.vote_cast"
	TypeVoteRevoked     = "custody.vote_revoked"
	TypeOwnerChanged    = "custody.owner_changed"
)
