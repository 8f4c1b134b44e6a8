package postgresadapter

import (
	"context"
	"time"

	"warden/contexts/custody/authorization-engine/ports"

	"github.com/google/uuid"
)

// SystemClock provides wall time for production wiring.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// UUIDGenerator issues random identifiers for vaults, votes, and events.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

var _ ports.Clock = SystemClock{}
var _ ports.IDGenerator = UUIDGenerator{}
