package services

import (
	"context"
	"log/slog"
	"time"
)

// Reconciler rebuilds the counters derived from the logs. Every counter is
// checked once when the worker starts, then only the conversations whose
// counter write failed are retried.
type Reconciler struct {
	log         *slog.Logger
	chat        *ChatService
	communities *CommunityService
	interval    time.Duration
}

func NewReconciler(log *slog.Logger, chat *ChatService, communities *CommunityService, interval time.Duration) *Reconciler {
	return &Reconciler{log: log, chat: chat, communities: communities, interval: interval}
}

func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.ReconcileAll(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if remaining := r.chat.RepairDrifted(ctx); remaining > 0 {
				r.log.Warn("Unread counters still drifted", "conversations", remaining)
			}
		}
	}
}

// ReconcileAll checks every conversation and every community.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	start := time.Now()
	if err := r.chat.ReconcileAll(ctx); err != nil {
		return err
	}
	if err := r.communities.ReconcileAll(ctx); err != nil {
		return err
	}
	r.log.Info("Counters reconciled", "duration", time.Since(start))
	return nil
}
