package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ehr/cds/internal/config"
	"github.com/ehr/cds/internal/domain/clinical"
	"github.com/ehr/cds/internal/domain/patient"
	"github.com/ehr/cds/internal/domain/rules"
	"github.com/ehr/cds/internal/domain/summary"
	"github.com/ehr/cds/internal/platform/audit"
	"github.com/ehr/cds/internal/platform/auth"
	"github.com/ehr/cds/internal/platform/db"
	"github.com/ehr/cds/internal/platform/metrics"
	"github.com/ehr/cds/internal/platform/middleware"
	"github.com/ehr/cds/internal/platform/worker"
)

const auditTimeout = 5 * time.Second

// app holds the wired services shared by the server and operator commands.
type app struct {
	ref        *rules.ReferenceData
	patients   *patient.Service
	clinical   *clinical.Service
	summary    *summary.Service
	engine     *summary.Engine
	dispatcher *summary.Dispatcher
	queue      *worker.Queue
	audit      *audit.Async
	auditStore *audit.Store
}

func buildApp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*app, error) {
	rulesRepo := rules.NewRepoPG(pool)
	if cfg.CatalogFile != "" {
		if _, err := importReference(ctx, rulesRepo, cfg.CatalogFile); err != nil {
			return nil, err
		}
		logger.Info().Str("file", cfg.CatalogFile).Msg("reference data imported")
	}
	ref, err := rulesRepo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reference data: %w", err)
	}
	stats := logger.Info()
	for name, n := range ref.Stats() {
		stats = stats.Int(name, n)
	}
	stats.Msg("reference data loaded")

	a := &app{ref: ref, auditStore: audit.NewStore(pool)}
	a.audit = audit.NewAsync(a.auditStore, logger, auditTimeout)

	a.patients = patient.NewService(patient.NewRepoPG(pool), a.audit)
	factRepo := clinical.NewRepoPG(pool)
	eval := rules.NewEvaluator(ref, clinical.NewFactSource(a.patients, factRepo), logger)
	a.engine = summary.NewEngine(eval, ref.Catalog, summary.NewPGStores(pool), summary.NewLedgerPG(pool), db.TxRunner(pool), logger)

	a.queue = worker.NewQueue(worker.Config{
		Name:    "reconcile",
		Workers: cfg.ReconcileWorkers,
		Size:    cfg.ReconcileQueueSize,
		Timeout: cfg.ReconcileTimeout,
	}, logger)
	a.dispatcher = summary.NewDispatcher(a.queue, a.engine, logger)

	a.clinical = clinical.NewService(factRepo, ref, a.patients, a.dispatcher, a.audit)
	a.patients.SetTrigger(a.dispatcher)
	a.summary = summary.NewService(a.engine, a.patients, a.clinical, a.dispatcher, a.audit)
	return a, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	metrics.Register(prometheus.DefaultRegisterer)

	a, err := buildApp(ctx, cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise services")
	}
	a.queue.Start()

	sched := worker.NewScheduler(logger)
	if cfg.ReconcileSweepSchedule != "" {
		err := sched.Add("reconcile-sweep", cfg.ReconcileSweepSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ReconcileTimeout)
			defer cancel()
			if _, err := a.dispatcher.Sweep(ctx, a.patients); err != nil {
				logger.Error().Err(err).Msg("reconciliation sweep failed")
			}
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to schedule sweep")
		}
	}
	sched.Start()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Doctor-ID"},
	}))

	e.GET("/health", db.HealthHandler(pool, func() map[string]any {
		return map[string]any{
			"reconcile_queue_depth": a.queue.Depth(),
			"scheduled_jobs":        sched.Len(),
		}
	}))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	patient.NewHandler(a.patients).RegisterRoutes(apiV1)
	clinical.NewHandler(a.clinical).RegisterRoutes(apiV1)
	summary.NewHandler(a.summary).RegisterRoutes(apiV1)
	audit.NewHandler(a.auditStore, a.patients).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	<-sched.Stop().Done()
	if err := a.queue.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Int("pending", a.queue.Depth()).Msg("reconcile queue did not drain")
	}
	a.audit.Wait()
	logger.Info().Msg("server stopped")
	return nil
}
