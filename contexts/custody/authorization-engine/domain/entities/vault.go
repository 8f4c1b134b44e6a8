package entities

import (
	"time"

	"warden/contexts/custody/authorization-engine/domain/valueobjects"
)

const (
	// MaxGuardians is the guardian set cardinality cap.
	MaxGuardians = 5
	// RecoveryQuorumSize is the guardian count required before recovery
	// voting is enabled. Voting only works against a fully configured set.
	RecoveryQuorumSize = 5
	// RecoveryThreshold is the vote count that transfers ownership.
	RecoveryThreshold = 3
)

// Vault is the durable authorization state for one pool of value: the sole
// owner, the guardian set, per-delegate allowances, and the balance the
// execute operation draws from.
type Vault struct {
	VaultID    string                                             `json:"vault_id"`
	OwnerID    valueobjects.Identity                              `json:"owner_id"`
	Balance    valueobjects.Amount                                `json:"balance"`
	Guardians  []valueobjects.Identity                            `json:"guardians"`
	Allowances map[valueobjects.Identity]valueobjects.Amount      `json:"allowances"`
	CreatedAt  time.Time                                          `json:"created_at"`
	UpdatedAt  time.Time                                          `json:"updated_at"`
}

// IsOwner reports whether the identity is the vault's current owner.
func (v Vault) IsOwner(id valueobjects.Identity) bool {
	return !valueobjects.IsZeroIdentity(id) && v.OwnerID == id
}

// IsGuardian reports whether the identity is in the guardian set.
func (v Vault) IsGuardian(id valueobjects.Identity) bool {
	for _, guardian := range v.Guardians {
		if guardian == id {
			return true
		}
	}
	return false
}

// GuardianCount returns the guardian set cardinality.
func (v Vault) GuardianCount() int {
	return len(v.Guardians)
}

// RecoveryEnabled reports whether the guardian set is fully configured for
// quorum voting.
func (v Vault) RecoveryEnabled() bool {
	return len(v.Guardians) == RecoveryQuorumSize
}

// AllowanceFor returns the remaining spend limit for an identity. Identities
// without an entry have a zero allowance.
func (v Vault) AllowanceFor(id valueobjects.Identity) valueobjects.Amount {
	if v.Allowances == nil {
		return valueobjects.ZeroAmount()
	}
	return v.Allowances[id]
}

// IsAllowedToSend is the derived view of allowance > 0. It is never stored
// independently; it always reflects the current allowance.
func (v Vault) IsAllowedToSend(id valueobjects.Identity) bool {
	return v.AllowanceFor(id).IsPositive()
}

// AddGuardian appends the identity to the guardian set. Callers enforce the
// duplicate and cardinality preconditions first.
func (v *Vault) AddGuardian(id valueobjects.Identity) {
	v.Guardians = append(v.Guardians, id)
}

// RemoveGuardian deletes the identity from the guardian set and reports
// whether it was present.
func (v *Vault) RemoveGuardian(id valueobjects.Identity) bool {
	for i, guardian := range v.Guardians {
		if guardian == id {
			v.Guardians = append(v.Guardians[:i], v.Guardians[i+1:]...)
			return true
		}
	}
	return false
}

// SetAllowance unconditionally overwrites the spend limit for an identity.
func (v *Vault) SetAllowance(id valueobjects.Identity, amount valueobjects.Amount) {
	if v.Allowances == nil {
		v.Allowances = make(map[valueobjects.Identity]valueobjects.Amount)
	}
	v.Allowances[id] = amount
}

// Clone deep-copies the vault so adapters never hand out aliased state.
func (v Vault) Clone() Vault {
	copied := v
	copied.Guardians = append([]valueobjects.Identity(nil), v.Guardians...)
	if v.Allowances != nil {
		copied.Allowances = make(map[valueobjects.Identity]valueobjects.Amount, len(v.Allowances))
		for id, amount := range v.Allowances {
			copied.Allowances[id] = amount
		}
	}
	return copied
}
