package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/evidentta/controlverify/internal/api/rest"
	"github.com/evidentta/controlverify/internal/domain/health"
	"github.com/evidentta/controlverify/internal/infrastructure/cache"
	"github.com/evidentta/controlverify/internal/infrastructure/config"
	"github.com/evidentta/controlverify/internal/infrastructure/database"
	"github.com/evidentta/controlverify/internal/infrastructure/repository"
	"github.com/evidentta/controlverify/internal/infrastructure/telemetry"
	"github.com/evidentta/controlverify/internal/metrics"
	healthsvc "github.com/evidentta/controlverify/internal/service/health"
	syncsvc "github.com/evidentta/controlverify/internal/service/sync"
	"github.com/evidentta/controlverify/internal/service/sync/providers"
	"github.com/evidentta/controlverify/internal/service/verification"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("setting up logger: %v", err)
	}
	slog.SetDefault(logger)

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("setting up zap logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.Initialize(ctx, &telemetry.Config{
		ServiceName:    "controlverify-api",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		BatchTimeout:   cfg.Telemetry.BatchTimeout,
	})
	if err != nil {
		log.Fatalf("initializing telemetry: %v", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := database.Connect(ctx, &cfg.Database, zapLogger)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer db.Close()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				database.LogStats(db, zapLogger)
			}
		}
	}()

	rdb, err := cache.NewRedisClient(&cfg.Redis, zapLogger)
	if err != nil {
		log.Fatalf("connecting to redis: %v", err)
	}
	defer rdb.Close()

	registry, err := metrics.NewRegistry()
	if err != nil {
		log.Fatalf("creating metrics registry: %v", err)
	}

	historyRepo := repository.NewHistoryRepository(db)
	controlRepo := repository.NewControlRepository(db, historyRepo)
	integrationRepo := repository.NewIntegrationRepository(db)
	ruleRepo := repository.NewRuleRepository(db)
	evidenceRepo := repository.NewEvidenceRepository(db)
	mappingRepo := repository.NewMappingRepository(db)
	credentialRepo := repository.NewCredentialRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	scoreCache := cache.NewScoreCache(rdb, cfg.Scoring.CacheTTL, zapLogger)
	syncLease := cache.NewSyncLease(rdb, cfg.Sync.LeaseTTL, zapLogger)

	adapterRegistry := providers.NewRegistry(
		providers.NewIdentityAdapter(providers.IdentityConfig{
			BaseURL:           cfg.Providers.Identity.BaseURL,
			Timeout:           cfg.Providers.Identity.Timeout,
			RequestsPerSecond: cfg.Providers.Identity.RequestsPerSecond,
			Burst:             cfg.Providers.Identity.Burst,
		}, zapLogger),
		providers.NewCloudAdapter(providers.CloudConfig{
			BaseURL:           cfg.Providers.Cloud.BaseURL,
			Timeout:           cfg.Providers.Cloud.Timeout,
			RequestsPerSecond: cfg.Providers.Cloud.RequestsPerSecond,
			Burst:             cfg.Providers.Cloud.Burst,
		}, zapLogger),
		providers.NewSourceCodeAdapter(providers.SourceCodeConfig{
			BaseURL:           cfg.Providers.SourceCode.BaseURL,
			Timeout:           cfg.Providers.SourceCode.Timeout,
			RequestsPerSecond: cfg.Providers.SourceCode.RequestsPerSecond,
			Burst:             cfg.Providers.SourceCode.Burst,
		}, zapLogger),
	)

	reconciler := verification.NewReconciler(controlRepo, zapLogger)
	manualService := verification.NewManualService(controlRepo, auditRepo, zapLogger)
	orchestrator := syncsvc.NewOrchestrator(
		integrationRepo, adapterRegistry, credentialRepo, ruleRepo,
		reconciler, syncLease, scoreCache, registry, zapLogger,
		syncsvc.Config{
			MaxRetries:       cfg.Sync.MaxRetries,
			RetryBackoffBase: cfg.Sync.RetryBackoffBase,
			ScheduleCooldown: cfg.Sync.ScheduleCooldown,
			ProviderTimeout:  cfg.Sync.ProviderTimeout,
		},
	)

	policy := health.ScorePolicy{
		ValidityWindow:      cfg.Scoring.ValidityWindow(),
		RecommendationFloor: cfg.Scoring.RecommendationFloor,
	}
	healthService := healthsvc.NewService(
		controlRepo, historyRepo, evidenceRepo, mappingRepo,
		reconciler, orchestrator, scoreCache, auditRepo,
		registry, zapLogger, policy,
	)

	sweeper := healthsvc.NewSweeper(
		controlRepo, reconciler, scoreCache, registry, zapLogger,
		policy.ValidityWindow, cfg.Sync.SweepInterval,
	)
	go sweeper.Run(ctx)

	server := rest.NewServer(cfg.Server, rest.Services{
		Health:       healthService,
		Manual:       manualService,
		Orchestrator: orchestrator,
	}, db, rdb, logger, instrumentHTTP)
	server.Handle("GET /metrics", metricsHandler())

	if err := server.Start(ctx); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
	}
}
