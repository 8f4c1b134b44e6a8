package memory

import (
	"context"
	"sync"

	"warden/contexts/custody/authorization-engine/domain/valueobjects"
	"warden/contexts/custody/authorization-engine/ports"
)

// TransferCall records one request observed by the gate.
type TransferCall struct {
	To      valueobjects.Identity
	Value   valueobjects.Amount
	Payload []byte
}

// Gate is a scriptable in-memory transfer gate. By default every call
// succeeds and echoes the payload back as return data; tests flip FailNext or
// FailAll to exercise the all-or-nothing rollback path.
type Gate struct {
	mu sync.Mutex

	Calls      []TransferCall
	ReturnData []byte
	FailNext   bool
	FailAll    bool
}

// NewGate builds a gate that succeeds until told otherwise.
func NewGate() *Gate {
	return &Gate{}
}

func (g *Gate) TransferAndInvoke(
	_ context.Context,
	to valueobjects.Identity,
	value valueobjects.Amount,
	payload []byte,
) (ports.TransferReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Calls = append(g.Calls, TransferCall{
		To:      to,
		Value:   value,
		Payload: append([]byte(nil), payload...),
	})
	if g.FailAll || g.FailNext {
		g.FailNext = false
		return ports.TransferReceipt{}, nil
	}
	data := g.ReturnData
	if data == nil {
		data = append([]byte(nil), payload...)
	}
	return ports.TransferReceipt{Success: true, ReturnData: data}, nil
}

// CallCount reports how many transfers the gate observed.
func (g *Gate) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}

var _ ports.TransferGate = (*Gate)(nil)
