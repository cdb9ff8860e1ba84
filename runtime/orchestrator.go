// Package runtime handles event propagation between the services and the
// connected subscribers. It orchestrates the system without containing
// business logic or domain rules.
package runtime

import (
	"chat-engine/contract"
	"context"
	"log/slog"
	"sync"
)

type Orchestrator struct {
	mu         sync.Mutex
	log        *slog.Logger
	supervisor contract.ISupervisor
	bus        *Bus
	extra      []contract.Worker
}

// NewOrchestrator supervises the fan-out workers of bus along with extra
// background workers.
func NewOrchestrator(log *slog.Logger, supervisor contract.ISupervisor, bus *Bus, extra ...contract.Worker) *Orchestrator {
	return &Orchestrator{log: log, supervisor: supervisor, bus: bus, extra: extra}
}

// Start registers the workers and blocks until the supervisor stops.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	o.supervisor.Add(o.bus.Workers()...)
	if len(o.extra) > 0 {
		o.supervisor.Add(o.extra...)
	}
	o.mu.Unlock()

	o.log.Info("Starting orchestrator and all supervised workers")
	o.supervisor.Run(ctx)
	return nil
}

// Stop initiates a graceful shutdown: subscriptions are torn down first so
// that no handler runs once the workers are gone.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.bus.Close()
	o.supervisor.Stop()
}
