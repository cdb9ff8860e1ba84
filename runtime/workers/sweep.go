package workers

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper evicts idle entries and returns how many remain.
type Sweeper interface {
	Sweep() int
}

// SweepWorker calls a Sweeper on every tick until the context is done.
type SweepWorker struct {
	log      *slog.Logger
	name     string
	sweeper  Sweeper
	interval time.Duration
}

func NewSweepWorker(log *slog.Logger, name string, sweeper Sweeper, interval time.Duration) *SweepWorker {
	return &SweepWorker{log: log, name: name, sweeper: sweeper, interval: interval}
}

func (w *SweepWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			remaining := w.sweeper.Sweep()
			w.log.Debug("Sweep done", "name", w.name, "remaining", remaining)
		}
	}
}
