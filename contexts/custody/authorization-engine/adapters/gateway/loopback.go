package gateway

import (
	"context"
	"log/slog"

	"warden/contexts/custody/authorization-engine/domain/valueobjects"
	"warden/contexts/custody/authorization-engine/ports"
)

// LoopbackGate acknowledges transfers in-process. It stands in for the
// settlement rail until external transport wiring lands; the engine's
// accounting and authorization semantics do not depend on what sits behind
// the gate.
type LoopbackGate struct {
	Logger *slog.Logger
}

func (g LoopbackGate) TransferAndInvoke(
	_ context.Context,
	to valueobjects.Identity,
	value valueobjects.Amount,
	payload []byte,
) (ports.TransferReceipt, error) {
	if g.Logger != nil {
		g.Logger.Info("transfer dispatched",
			"event", "custody_gate_transfer_dispatched",
			"module", "custody/authorization-engine",
			"layer", "adapter",
			"to_id", to,
			"value", value.String(),
			"payload_bytes", len(payload),
		)
	}
	return ports.TransferReceipt{
		Success:    true,
		ReturnData: append([]byte(nil), payload...),
	}, nil
}

var _ ports.TransferGate = LoopbackGate{}
