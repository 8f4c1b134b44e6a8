// Package outbox fixes the row status vocabulary shared by every
// outbox-backed repository.
package outbox

const (
	StatusPending   = "pending"
	StatusPublished = "published"
)
