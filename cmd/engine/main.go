package main

import (
	"chat-engine/auth"
	"chat-engine/collaborators"
	grpcserver "chat-engine/infrastructure/grpc/server"
	httpserver "chat-engine/infrastructure/http/server"
	"chat-engine/internal"
	"chat-engine/moderation"
	"chat-engine/observability"
	"chat-engine/repositories"
	"chat-engine/runtime"
	"chat-engine/runtime/workers"
	"chat-engine/services"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const (
	inspectEndpoint    = "/inspect"
	limiterSweepPeriod = time.Minute
	readHeaderTimeout  = 5 * time.Second
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Engine terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// Deferred cleanups (database, typing timers) always run before the process exits.
func run() (int, error) {
	// 1. Configuration & Logger
	config, err := internal.LoadConfig(".env")
	if err != nil {
		return exitConfig, err
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Collaborators
	directory, err := collaborators.LoadDirectory(config.DirectoryFilepath, logger)
	if err != nil {
		return exitConfig, err
	}
	censored, err := moderation.LoadEmbedded()
	if err != nil {
		return exitRuntime, fmt.Errorf("censored words loading failed: %w", err)
	}
	moderator, err := moderation.NewModerator(censored.Words, charReplacement, logger)
	if err != nil {
		return exitRuntime, fmt.Errorf("moderator init failed: %w", err)
	}
	logger.Info("Moderation ready", "words", len(censored.Words), "languages", len(censored.Languages))

	// 3. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()
	if config.DebugPort > 0 {
		url := fmt.Sprintf("http://localhost:%d%s", config.DebugPort, inspectEndpoint)
		logger.Info("Debug Badger inspector available", "url", url)
		database.StartDebugServer(db, config.DebugPort, inspectEndpoint, RecordMapper)
	}

	// 4. Engine
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	bus := runtime.NewBus(logger, runtime.NewRegistry(), metrics, runtime.BusConfig{
		Shards:             config.NumberOfWorkers,
		ShardBuffer:        config.BufferSize,
		SubscriptionBuffer: config.ConnectionBufferSize,
		SinkTimeout:        config.SinkTimeout,
		LatencyThreshold:   config.LatencyThreshold,
	})
	locks := runtime.NewKeyedMutex()

	messageRepository := repositories.NewMessageRepository(db, logger, config.LimitMessages)
	conversationRepository := repositories.NewConversationRepository(db, logger)
	communityRepository := repositories.NewCommunityRepository(db, logger)

	access := services.NewAccessControl(conversationRepository, communityRepository)
	store := services.NewMessageStore(logger, messageRepository, access, moderator, locks, metrics, config.MaxContentLength)
	presence := services.NewPresenceTracker(logger, bus, access, locks, metrics)
	typing := services.NewTypingCoordinator(logger, bus, presence, access, locks, metrics, config.TypingTTL)
	defer typing.Close()

	chatService := services.NewChatService(logger, conversationRepository, store, typing, presence,
		directory, directory, bus, locks)
	communityService := services.NewCommunityService(logger, communityRepository, store,
		collaborators.NewContextCountryDetector(config.DefaultCountry), bus, locks, config.ExclusiveCommunity)
	svc := httpserver.Services{
		Chat:        chatService,
		Communities: communityService,
		Messages:    store,
		Reactions:   services.NewReactionAggregator(logger, messageRepository, access, bus, locks),
		Presence:    presence,
		Access:      access,
		Bus:         bus,
	}

	issuer := auth.NewTokenIssuer(config.JWTSecret, config.AuthTokenDuration)
	limiter := auth.NewLimiterPool(config.RateLimitRPS, config.RateLimitBurst)

	health := grpcserver.NewHealthServer(logger, map[string]grpcserver.Check{
		"badger": func(context.Context) error {
			if db.IsClosed() {
				return errors.New("badger is closed")
			}
			return nil
		},
		"bus": bus.Healthy,
	}, config.MetricInterval)

	// 5. Setup Supervision & Orchestration
	supervisor := workers.NewSupervisor(logger).WithRestartInterval(config.RestartInterval)
	orchestrator := runtime.NewOrchestrator(logger, supervisor, bus,
		workers.NewChannelCapacityWorker(logger, bus.Channels(), metrics, config.MetricInterval),
		workers.NewSweepWorker(logger, "rate-limiter", limiter, limiterSweepPeriod),
		services.NewReconciler(logger, chatService, communityService, config.ReconcileInterval),
		health,
	)

	// 6. Transport
	if !logger.Enabled(ctx, slog.LevelDebug) {
		gin.SetMode(gin.ReleaseMode)
	}
	api := httpserver.NewServer(logger, svc, issuer, limiter, metrics, registry, httpserver.Config{
		PingInterval:         config.PingInterval,
		ConnectionBufferSize: config.ConnectionBufferSize,
	})
	httpServer := &http.Server{
		Addr:              config.HTTPAddress(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	httpServer.RegisterOnShutdown(api.CloseStreams)

	grpcServer := grpcserver.NewGRPCServer(logger, issuer, health)
	listener, err := net.Listen("tcp", config.GRPCAddress())
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", config.GRPCAddress(), err)
	}

	// 7. Run until a signal or the first failure
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting orchestrator...")
		if err := orchestrator.Start(gctx); err != nil {
			return fmt.Errorf("orchestrator error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", httpServer.Addr, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("Starting gRPC server", "address", listener.Addr().String())
		for serviceName := range grpcServer.GetServiceInfo() {
			logger.Debug("📡 gRPC exposed services", "name", serviceName)
		}
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// 8. Final Cleanup (Graceful Shutdown)
		// Sockets close first so that presence goes offline while the bus still delivers.
		logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown incomplete", "error", err)
		}
		grpcServer.GracefulStop()
		typing.Close()
		orchestrator.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return exitRuntime, err
	}
	logger.Info("Program stopped cleanly")
	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG)
	} else {
		options = options.WithLoggingLevel(badger.WARNING)
	}

	return options
}

// RecordMapper renders stored entries on the debug inspector.
func RecordMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)
	record := repositories.Describe(key, val)
	row.Type = record.Kind
	row.Detail = record.Detail
	return row
}
