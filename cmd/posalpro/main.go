package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/posalpro/posalpro/pkg/api"
	"github.com/posalpro/posalpro/pkg/async"
	"github.com/posalpro/posalpro/pkg/audit"
	"github.com/posalpro/posalpro/pkg/auth"
	"github.com/posalpro/posalpro/pkg/config"
	"github.com/posalpro/posalpro/pkg/fieldaccess"
	"github.com/posalpro/posalpro/pkg/httputil"
	"github.com/posalpro/posalpro/pkg/observability"
	"github.com/posalpro/posalpro/pkg/rbac"
	"github.com/posalpro/posalpro/pkg/routeguard"
	"github.com/posalpro/posalpro/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const (
	maxRequestBody = 1 << 20
	auditQueueSize = 1024
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "posalpro: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "posalpro").
		WithField("version", version)
	observability.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("PosalPro stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	telemetry, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := storage.OpenDatabase(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := storage.OpenRedis(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	auditLogger, dbAudit, err := buildAuditLogger(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer auditLogger.Close()

	manager, err := rbac.NewManager(db, redisClient, auditLogger, logger, metrics, rbac.Config{
		CacheTTL:       cfg.RBAC.CacheTTL,
		LocalCacheSize: cfg.RBAC.LocalCacheSize,
		Dialect:        rbac.DialectPostgres,
	})
	if err != nil {
		return fmt.Errorf("failed to create RBAC manager: %w", err)
	}
	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize RBAC: %w", err)
	}

	catalog, err := loadCatalog(cfg.Access.CatalogFile)
	if err != nil {
		return err
	}
	builder := fieldaccess.NewBuilder(catalog, logger, metrics)

	routes, err := loadRoutes(cfg.Access.RoutesFile)
	if err != nil {
		return err
	}
	if cfg.Access.RoutesFile != "" {
		async.SafeGo(ctx, logger, "route table watcher", 0, func(ctx context.Context) error {
			return routes.Watch(ctx, cfg.Access.RoutesFile, logger)
		})
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("failed to create token manager: %w", err)
	}
	sessions := auth.NewRedisSessionStore(redisClient, cfg.Auth.SessionTTL)
	manager.EnableSessions(sessions, tokens)

	guard, err := routeguard.NewIntegrator(routeguard.Config{
		LoginPath:                cfg.Access.LoginPath,
		UnauthorizedPath:         cfg.Access.UnauthorizedPath,
		ErrorPath:                cfg.Access.ErrorPath,
		UnsafeAdminSessionBypass: cfg.Access.UnsafeAdminSessionBypass,
	}, routes, tokens, sessions, manager, auditLogger, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create route guard: %w", err)
	}

	var events api.EventSearcher
	if dbAudit != nil {
		events = dbAudit
	}
	apiServer := api.NewServer(db, builder, manager.GetValidator(), events)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      buildHandler(cfg, logger, metrics, guard, manager, apiServer),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           buildHealthRouter(db, redisClient, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler, err := buildScheduler(cfg, logger, metrics, db, dbAudit)
	if err != nil {
		return err
	}
	scheduler.Start()

	// Hooks run in reverse, so telemetry flushes after the servers drain.
	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.OnShutdown("telemetry", telemetry.Shutdown)
	shutdown.OnShutdown("background tasks", func(context.Context) error {
		cancel()
		return nil
	})
	shutdown.OnShutdown("scheduler", scheduler.Stop)
	shutdown.OnShutdown("health server", healthServer.Shutdown)
	shutdown.OnShutdown("api server", server.Shutdown)

	serveErr := make(chan error, 2)
	go serve(server, "api", logger, serveErr)
	go serve(healthServer, "health", logger, serveErr)

	waitCtx, stopWaiting := context.WithCancel(ctx)
	defer stopWaiting()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("Server failed, shutting down")
			stopWaiting()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}

func serve(server *http.Server, name string, logger *observability.Logger, errs chan<- error) {
	logger.WithFields(map[string]interface{}{
		"server": name,
		"addr":   server.Addr,
	}).Info("Server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs <- fmt.Errorf("%s server: %w", name, err)
	}
}

// buildAuditLogger fans security events out to the application log, the
// optional JSON-lines files and the optional security_events table. The
// table sink is returned separately for searches and retention.
func buildAuditLogger(ctx context.Context, cfg *config.Config, db *sql.DB, logger *observability.Logger) (audit.Logger, *audit.DBLogger, error) {
	sinks := []audit.Logger{audit.NewSlogLogger(logger)}

	if cfg.Audit.LogDir != "" {
		fileCfg := audit.DefaultFileLoggerConfig()
		fileCfg.Dir = cfg.Audit.LogDir
		fileLogger, err := audit.NewFileLogger(fileCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create audit file logger: %w", err)
		}
		sinks = append(sinks, fileLogger)
	}

	var dbLogger *audit.DBLogger
	if cfg.Audit.Database {
		var err error
		if dbLogger, err = audit.NewDBLogger(ctx, db); err != nil {
			return nil, nil, fmt.Errorf("failed to create audit database logger: %w", err)
		}
		sinks = append(sinks, dbLogger)
	}

	onError := func(err error) {
		logger.WithError(err).Error("Failed to record security event")
	}
	return audit.NewQueuedMultiLogger(auditQueueSize, onError, sinks...), dbLogger, nil
}

func loadCatalog(path string) (*fieldaccess.Catalog, error) {
	if path == "" {
		return fieldaccess.DefaultCatalog()
	}
	catalog, err := fieldaccess.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load field catalog: %w", err)
	}
	return catalog, nil
}

func loadRoutes(path string) (*routeguard.Registry, error) {
	if path == "" {
		return routeguard.DefaultRegistry()
	}
	table, err := routeguard.LoadRoutes(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load route table: %w", err)
	}
	return routeguard.NewRegistry(table...)
}

// buildHandler wraps the API router in the request pipeline. The guard sits
// outside the router so unmatched paths and CORS preflights are handled too.
func buildHandler(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, guard *routeguard.Integrator, manager *rbac.Manager, apiServer *api.Server) http.Handler {
	router := mux.NewRouter()
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}

	apiRouter := router.PathPrefix("/api").Subrouter()
	manager.RegisterRoutes(apiRouter)
	apiServer.RegisterRoutes(apiRouter)

	var middleware []func(http.Handler) http.Handler
	if cfg.Observability.OTelEnabled {
		middleware = append(middleware, observability.TracingMiddleware(cfg.Observability.OTelServiceName))
	}
	middleware = append(middleware,
		observability.RequestLoggingMiddleware(logger),
		observability.RecoveryMiddleware(logger),
		httputil.CORSMiddleware(cfg.Server.AllowedOrigins),
		httputil.TimeoutMiddleware(cfg.Server.WriteTimeout),
		httputil.MaxBytesMiddleware(maxRequestBody),
		httputil.ContentTypeMiddleware,
		guard.Middleware,
	)
	return httputil.Chain(middleware...)(router)
}

func buildHealthRouter(db *sql.DB, redisClient *redis.Client, registry *prometheus.Registry) *mux.Router {
	router := mux.NewRouter()
	checker := observability.NewHealthChecker(version,
		observability.DatabaseProbe(db),
		observability.RedisProbe(redisClient),
	)
	observability.RegisterHealthRoutes(router, checker)
	if registry != nil {
		observability.RegisterMetricsEndpoint(router, registry)
	}
	return router
}

func buildScheduler(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, db *sql.DB, dbAudit *audit.DBLogger) (*async.Scheduler, error) {
	scheduler := async.NewScheduler(logger)

	if metrics != nil && cfg.Observability.DBStatsInterval > 0 {
		spec := "@every " + cfg.Observability.DBStatsInterval.String()
		if err := scheduler.AddTask(spec, "db pool stats", 5*time.Second, func(ctx context.Context) error {
			metrics.RecordDBStats(db.Stats())
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if dbAudit != nil && cfg.Audit.RetentionDays > 0 {
		retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
		if err := scheduler.AddTask(cfg.Audit.RetentionSchedule, "security event retention", 10*time.Minute, func(ctx context.Context) error {
			purged, err := dbAudit.Purge(ctx, time.Now().Add(-retention))
			if err != nil {
				return err
			}
			logger.WithField("purged", purged).Info("Expired security events purged")
			return nil
		}); err != nil {
			return nil, err
		}
	}

	return scheduler, nil
}
