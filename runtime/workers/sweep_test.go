package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingSweeper struct{ calls atomic.Int32 }

func (s *countingSweeper) Sweep() int { return int(s.calls.Add(1)) }

func TestSweepWorker_Sweeps_Until_Cancelled(t *testing.T) {
	req := require.New(t)
	sweeper := &countingSweeper{}
	worker := NewSweepWorker(slog.Default(), "test", sweeper, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)

	// Given a running worker
	go func() { done <- worker.Run(ctx) }()

	// When a few ticks elapse
	req.Eventually(func() bool { return sweeper.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	// Then it stops cleanly
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("worker did not stop")
	}
}
