package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	tlhttp "github.com/taskledger/taskledger/internal/adapter/http"
	tlnats "github.com/taskledger/taskledger/internal/adapter/nats"
	"github.com/taskledger/taskledger/internal/adapter/natskv"
	"github.com/taskledger/taskledger/internal/adapter/natsobj"
	"github.com/taskledger/taskledger/internal/adapter/otel"
	"github.com/taskledger/taskledger/internal/adapter/postgres"
	"github.com/taskledger/taskledger/internal/adapter/ristretto"
	"github.com/taskledger/taskledger/internal/adapter/shell"
	"github.com/taskledger/taskledger/internal/adapter/tiered"
	"github.com/taskledger/taskledger/internal/adapter/ws"
	"github.com/taskledger/taskledger/internal/config"
	"github.com/taskledger/taskledger/internal/logger"
	"github.com/taskledger/taskledger/internal/middleware"
	"github.com/taskledger/taskledger/internal/resilience"
	"github.com/taskledger/taskledger/internal/secrets"
	"github.com/taskledger/taskledger/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	if cfg.Logging.Async {
		async := logger.NewAsyncHandler(log.Handler(), 1024, 1)
		defer async.Close()
		log = slog.New(async)
	}
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx := context.Background()

	// Secrets can override the DSN and NATS URL at runtime.
	vault, err := secrets.NewVault(secrets.EnvLoader("DATABASE_URL", "NATS_URL"))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	if dsn := vault.Get("DATABASE_URL"); dsn != "" {
		cfg.Postgres.DSN = dsn
	}
	if url := vault.Get("NATS_URL"); url != "" {
		cfg.NATS.URL = url
	}

	// --- Telemetry ---
	shutdownTelemetry, err := otel.Setup(ctx, cfg.Logging.Service, cfg.Telemetry.Endpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	queue, err := tlnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()
	log.Info("nats connected")

	// Tiered snapshot cache: in-process ristretto over a NATS KV bucket.
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()

	kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("l2 cache: %w", err)
	}
	snapshots := tiered.New(l1, natskv.New(kv), time.Minute)

	obj, err := queue.ObjectStore(ctx, cfg.Storage.ArtifactBucket)
	if err != nil {
		return fmt.Errorf("create artifact bucket: %w", err)
	}
	artifacts := natsobj.New(obj)

	// --- Services ---

	hub := ws.NewHub()
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	fanout := service.NewFanout(queue, hub, breaker, log)

	events := postgres.NewEventStore(pool)
	checkpoints := postgres.NewCheckpointStore(pool)
	mistakes := postgres.NewMistakeStore(pool)

	proj := service.NewProjectionService(events, checkpoints, snapshots, metrics, log)
	workflowSvc := service.NewWorkflowService(events, proj, fanout, metrics, log)

	exec := shell.New(cfg.Executor.MaxConcurrent, cfg.Executor.WorkDir)
	gateSvc := service.NewGateService(workflowSvc, exec, mistakes, fanout, metrics, cfg.Gates, log)
	checkpointSvc := service.NewCheckpointService(workflowSvc, checkpoints, fanout, metrics, log)
	batchSvc := service.NewBatchService(workflowSvc, gateSvc, checkpointSvc, fanout, cfg.Batch, cfg.Checkpoint, log)

	// --- HTTP ---

	handlers := &tlhttp.Handlers{
		Workflows:         workflowSvc,
		Gates:             gateSvc,
		Checkpoints:       checkpointSvc,
		Batches:           batchSvc,
		Hub:               hub,
		Artifacts:         artifacts,
		CheckpointOnPause: cfg.Checkpoint.OnPause,
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(tlhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(middleware.Actor)
	r.Use(tlhttp.Logger)
	r.Use(tlhttp.SecurityHeaders)
	r.Use(limiter.Handler)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	tlhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := queue.Drain(); err != nil {
		log.Warn("nats drain failed", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}
