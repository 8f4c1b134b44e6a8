package authorizationengine

import (
	"log/slog"
	"time"

	"warden/contexts/custody/authorization-engine/adapters/events"
	httpadapter "warden/contexts/custody/authorization-engine/adapters/http"
	"warden/contexts/custody/authorization-engine/adapters/memory"
	"warden/contexts/custody/authorization-engine/application/commands"
	"warden/contexts/custody/authorization-engine/application/queries"
	"warden/contexts/custody/authorization-engine/application/workers"
	"warden/contexts/custody/authorization-engine/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Store   *memory.Store
	Gate    *memory.Gate
	Relay   workers.OutboxRelay
}

type Dependencies struct {
	Vaults         ports.VaultRepository
	Idempotency    ports.IdempotencyStore
	Outbox         ports.OutboxWriter
	Gate           ports.TransferGate
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

func NewModule(deps Dependencies) Module {
	vaultUseCase := commands.VaultUseCase{
		Vaults:         deps.Vaults,
		Idempotency:    deps.Idempotency,
		Outbox:         deps.Outbox,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		IdempotencyTTL: deps.IdempotencyTTL,
		Logger:         deps.Logger,
	}
	guardianUseCase := commands.GuardianUseCase{
		Vaults:         deps.Vaults,
		Idempotency:    deps.Idempotency,
		Outbox:         deps.Outbox,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		IdempotencyTTL: deps.IdempotencyTTL,
		Logger:         deps.Logger,
	}
	allowanceUseCase := commands.AllowanceUseCase{
		Vaults:         deps.Vaults,
		Idempotency:    deps.Idempotency,
		Outbox:         deps.Outbox,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		IdempotencyTTL: deps.IdempotencyTTL,
		Logger:         deps.Logger,
	}
	executeUseCase := commands.ExecuteUseCase{
		Vaults:         deps.Vaults,
		Idempotency:    deps.Idempotency,
		Outbox:         deps.Outbox,
		Gate:           deps.Gate,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		IdempotencyTTL: deps.IdempotencyTTL,
		Logger:         deps.Logger,
	}
	recoveryUseCase := commands.RecoveryUseCase{
		Vaults:         deps.Vaults,
		Idempotency:    deps.Idempotency,
		Outbox:         deps.Outbox,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		IdempotencyTTL: deps.IdempotencyTTL,
		Logger:         deps.Logger,
	}
	statusUseCase := queries.VaultStatusUseCase{
		Vaults: deps.Vaults,
		Logger: deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Vaults:     vaultUseCase,
			Guardians:  guardianUseCase,
			Allowances: allowanceUseCase,
			Executions: executeUseCase,
			Recovery:   recoveryUseCase,
			Status:     statusUseCase,
			Logger:     deps.Logger,
		},
	}
}

// NewInMemoryModule wires the engine against the in-memory store and a
// scriptable transfer gate. Used by tests and local development.
func NewInMemoryModule(logger *slog.Logger) Module {
	store := memory.NewStore()
	gate := memory.NewGate()
	module := NewModule(Dependencies{
		Vaults:         store,
		Idempotency:    store,
		Outbox:         store,
		Gate:           gate,
		Clock:          store,
		IDGen:          store,
		IdempotencyTTL: 24 * time.Hour,
		Logger:         logger,
	})
	module.Store = store
	module.Gate = gate
	module.Relay = workers.OutboxRelay{
		Outbox:    store,
		Publisher: events.NewPublisher(logger),
		Clock:     store,
		Logger:    logger,
	}
	return module
}
