package valueobjects

import "strings"

// Identity is an opaque participant identifier supplied by the execution
// environment. The empty string is the reserved zero identity and is never a
// valid owner, guardian, or delegate target.
type Identity = string

// NormalizeIdentity trims surrounding whitespace so that comparisons are
// stable across transports.
func NormalizeIdentity(raw string) Identity {
	return strings.TrimSpace(raw)
}

// IsZeroIdentity reports whether the value is the reserved zero identity.
func IsZeroIdentity(id Identity) bool {
	return strings.TrimSpace(id) == ""
}
