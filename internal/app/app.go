// Package app wires the gateway's components — tenant directory, pool
// registry, request pipeline, data controller, realtime bridge, job engine,
// and notification rule engine — into the runtime modes the process
// supports: "api" (the full HTTP surface), "control_plane" (admin surface
// only), and "worker" (drains the webhook and push queues).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/cascata/gateway/internal/config"
	"github.com/cascata/gateway/internal/crypto"
	"github.com/cascata/gateway/internal/httpserver"
	"github.com/cascata/gateway/internal/platform"
	"github.com/cascata/gateway/internal/telemetry"
	"github.com/cascata/gateway/pkg/control"
	"github.com/cascata/gateway/pkg/data"
	"github.com/cascata/gateway/pkg/jobs"
	"github.com/cascata/gateway/pkg/pipeline"
	"github.com/cascata/gateway/pkg/pool"
	"github.com/cascata/gateway/pkg/realtime"
	"github.com/cascata/gateway/pkg/rules"
	"github.com/cascata/gateway/pkg/tenant"
)

// Run is the process entry point. It reads config, connects to the
// control-plane database and Redis, replays control-plane migrations, and
// starts the mode selected by cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting cascata gateway", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	controlDB, err := platform.NewPostgresPool(ctx, cfg.ControlDatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to control database: %w", err)
	}
	defer controlDB.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunControlMigrations(cfg.ControlDatabaseURL, cfg.MigrationsControlDir); err != nil {
		return fmt.Errorf("running control-plane migrations: %w", err)
	}
	logger.Info("control-plane migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	envelope, err := crypto.NewEnvelope(cfg.SysSecret)
	if err != nil {
		return fmt.Errorf("building secret envelope: %w", err)
	}

	registry := pool.NewRegistry(
		cfg.MaxActivePools,
		time.Duration(cfg.PoolIdleTTLSeconds)*time.Second,
		time.Duration(cfg.PoolIdleReapSeconds)*time.Second,
		logger,
	)
	go registry.Run(ctx)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, controlDB, rdb, metricsReg, envelope, registry, true)
	case "control_plane":
		// Control-plane-only replicas serve admin traffic without mounting
		// the tenant data plane or holding LISTEN connections.
		return runAPI(ctx, cfg, logger, controlDB, rdb, metricsReg, envelope, registry, false)
	case "worker":
		return runWorker(ctx, cfg, logger, controlDB, rdb, registry)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	controlDB *pgxpool.Pool,
	rdb *redis.Client,
	metricsReg *prometheus.Registry,
	envelope *crypto.Envelope,
	registry *pool.Registry,
	dataPlane bool,
) error {
	// --- Control plane ---
	tenantStore := tenant.NewStore(controlDB)
	shield := tenant.NewPanicShield(rdb)

	adminStore := control.NewAdminStore(controlDB)
	adminAuth, err := control.NewAdminAuth(adminStore, cfg.SystemJWTSecret)
	if err != nil {
		return fmt.Errorf("building admin auth: %w", err)
	}
	loginLimiter := control.NewLoginRateLimiter(rdb, 10, 15*time.Minute)
	projects := control.NewProjects(tenantStore, envelope, registry)
	exporter := control.NewInMemoryExporter()

	directory := tenant.NewDirectory(tenantStore, envelope, shield, adminAuth)

	pooler := pool.Endpoint{Host: cfg.DBPoolHost, Port: cfg.DBPoolPort, User: cfg.DBUser, Password: cfg.DBPass}
	direct := pool.Endpoint{Host: cfg.DBDirectHost, Port: cfg.DBDirectPort, User: cfg.DBUser, Password: cfg.DBPass}

	// --- Request pipeline ---
	pl := pipeline.New(directory, registry, rdb, logger, pipeline.Config{
		DefaultBodyLimitBytes: cfg.DefaultBodyLimitBytes,
		EdgeBodyLimitBytes:    cfg.EdgeBodyLimitBytes,
		MaxBodyLimitBytes:     cfg.MaxBodyLimitBytes,
		Pooler:                pooler,
		DefaultStatementMs:    cfg.DefaultStatementMs,
		AcquireTimeout:        time.Duration(cfg.PoolAcquireTimeoutMs) * time.Millisecond,
	})

	// --- Job engine (enqueue side only; the worker process drains it) ---
	pushHistory := control.NewPushHistoryStore(controlDB)
	jobsEngine := jobs.NewEngine(rdb, registry, pushHistory, logger, jobs.Config{
		WebhookTimeout:  time.Duration(cfg.WebhookTimeoutSeconds) * time.Second,
		FallbackTimeout: time.Duration(cfg.FallbackTimeoutSeconds) * time.Second,
		PushConcurrency: cfg.PushWorkerConcurrency,
	})

	// --- Notification rule engine and webhook trigger, bridged into
	// realtime fan-out ---
	rulesStore := rules.NewStore(controlDB)
	ruleEngine := rules.NewEngine(rulesStore, tenantStore, jobsEngine, rules.PoolConfig{
		Pooler:             pooler,
		DefaultStatementMs: cfg.DefaultStatementMs,
	}, logger)

	webhookStore := jobs.NewWebhookStore(controlDB, envelope)
	webhookTrigger := jobs.NewTrigger(webhookStore, jobsEngine, logger)

	bridge := realtime.NewBridge(logger, cfg.RealtimeMaxSubscribers, realtime.Notifiers{ruleEngine, webhookTrigger})
	defer bridge.Shutdown()

	realtimeHandler := realtime.NewHandler(bridge, logger, direct, time.Duration(cfg.RealtimeKeepAliveSeconds)*time.Second)

	// --- HTTP surface ---
	dataHandler := data.NewHandler(logger)
	pushHandler := jobs.NewHandler(jobsEngine, logger, pooler)
	webhookAdmin := jobs.NewWebhookAdminHandler(webhookStore, logger)
	rulesHandler := rules.NewHandler(rulesStore, logger)
	controlHandler := control.NewHandler(logger, adminAuth, loginLimiter, projects, exporter, shield)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httpserver.RequestID)
	r.Use(httpserver.Logger(logger))
	r.Use(httpserver.Metrics)

	r.Route("/api", func(r chi.Router) {
		r.Use(pl.Chain)

		r.Route("/control", func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   cfg.CORSAllowedOrigins,
				AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
				AllowCredentials: true,
			}))
			r.Mount("/", controlHandler.Routes())
		})

		if dataPlane {
			r.Route("/data/{slug}", func(r chi.Router) {
				r.Get("/realtime", realtimeHandler.ServeHTTP)
				r.Mount("/webhooks", webhookAdmin.Routes())
				r.Route("/push", func(r chi.Router) {
					r.Mount("/rules", rulesHandler.Routes())
					r.Mount("/", pushHandler.Routes())
				})
				r.Mount("/", dataHandler.Routes())
			})
		}
	})

	r.Handle(cfg.MetricsPath, promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()
		registry.CloseAll()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, controlDB *pgxpool.Pool, rdb *redis.Client, registry *pool.Registry) error {
	logger.Info("worker started")

	pushHistory := control.NewPushHistoryStore(controlDB)
	engine := jobs.NewEngine(rdb, registry, pushHistory, logger, jobs.Config{
		WebhookTimeout:  time.Duration(cfg.WebhookTimeoutSeconds) * time.Second,
		FallbackTimeout: time.Duration(cfg.FallbackTimeoutSeconds) * time.Second,
		PushConcurrency: cfg.PushWorkerConcurrency,
	})

	engine.Run(ctx)
	registry.CloseAll()
	return nil
}
