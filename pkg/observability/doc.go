// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown for the PosalPro
// server.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.ParseLevel(cfg.LogLevel), os.Stdout)
//	logger.WithField("user_id", userID).Info("permission cache cleared")
//
// RequestLoggingMiddleware assigns each request an ID (taken from
// X-Request-ID when present) and stores the logger in the request context.
// FromContext retrieves it tagged with that ID, falling back to Default.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	observability.RegisterMetricsEndpoint(router, registry)
//
// Domain counters cover field denials, permission checks, permission cache
// lookups per tier, and route guard outcomes.
//
// # Tracing
//
//	providers, err := observability.InitOTel(ctx, otelCfg, logger)
//	shutdown.OnShutdown("telemetry", providers.Shutdown)
//	handler = observability.TracingMiddleware("posalpro")(handler)
//
// InitOTel exports traces and metrics over OTLP gRPC and returns nil
// providers when disabled. Request logs carry trace_id and span_id when a
// span is active.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version,
//		observability.DatabaseProbe(db),
//		observability.RedisProbe(redisClient),
//	)
//	observability.RegisterHealthRoutes(router, checker)
//
// Probes run concurrently. A failing critical probe answers /health/ready
// with 503; anything else reports degraded with 200.
//
// # Shutdown
//
// ShutdownManager runs hooks newest first under one deadline, so listeners
// registered last stop before the stores they depend on close.
package observability
