package server

import (
	"chat-engine/auth"
	"context"
	"log/slog"
	"time"

	grpclog "github.com/mama165/sdk-go/grpc"
	"github.com/samber/lo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Check reports whether one engine component can serve requests.
type Check func(ctx context.Context) error

// HealthServer publishes the result of the component checks on the standard
// grpc.health.v1 service: one service name per component and the empty name
// for the engine as a whole, serving only when every component is.
type HealthServer struct {
	*health.Server
	log      *slog.Logger
	checks   map[string]Check
	interval time.Duration
}

func NewHealthServer(log *slog.Logger, checks map[string]Check, interval time.Duration) *HealthServer {
	h := &HealthServer{Server: health.NewServer(), log: log, checks: checks, interval: interval}
	for _, name := range lo.Keys(checks) {
		h.SetServingStatus(name, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	h.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return h
}

// Run evaluates the checks on every tick. It marks everything as not
// serving when ctx is done so that load balancers drain the node first.
func (h *HealthServer) Run(ctx context.Context) error {
	h.Evaluate(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return nil
		case <-ticker.C:
			h.Evaluate(ctx)
		}
	}
}

// Evaluate runs every check once and returns the overall status.
func (h *HealthServer) Evaluate(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	overall := grpc_health_v1.HealthCheckResponse_SERVING
	for name, check := range h.checks {
		status := grpc_health_v1.HealthCheckResponse_SERVING
		if err := check(ctx); err != nil {
			h.log.Warn("Health check failed", "component", name, "error", err)
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			overall = status
		}
		h.SetServingStatus(name, status)
	}
	h.SetServingStatus("", overall)
	return overall
}

// NewGRPCServer builds the gRPC server of the engine with logging and
// authentication interceptors. Health calls are public.
func NewGRPCServer(log *slog.Logger, issuer auth.TokenIssuer, healthServer *HealthServer) *grpc.Server {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpclog.UnaryLoggingInterceptor(log),
			auth.UnaryInterceptor(issuer),
		))
	grpc_health_v1.RegisterHealthServer(s, healthServer)
	return s
}
