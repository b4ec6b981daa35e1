// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", id).Info("fursona generated")
//
// Request-scoped loggers carry the request ID, user ID and trace IDs:
//
//	observability.FromContext(r.Context()).WithError(err).Error("charge failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.GenerationsTotal.WithLabelValues("gemini", "success").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, imageStore, version)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
package observability
