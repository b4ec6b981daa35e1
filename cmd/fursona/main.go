package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/fursona/pkg/api"
	"github.com/platinummonkey/fursona/pkg/auth"
	"github.com/platinummonkey/fursona/pkg/billing"
	"github.com/platinummonkey/fursona/pkg/config"
	"github.com/platinummonkey/fursona/pkg/httputil"
	"github.com/platinummonkey/fursona/pkg/jobs"
	"github.com/platinummonkey/fursona/pkg/middleware"
	"github.com/platinummonkey/fursona/pkg/observability"
	"github.com/platinummonkey/fursona/pkg/persona"
	"github.com/platinummonkey/fursona/pkg/storage"
	"github.com/platinummonkey/fursona/pkg/storage/postgres"
	"github.com/platinummonkey/fursona/pkg/usage"
)

var version = "dev"

var migrateOnly = flag.Bool("migrate-only", false, "Run database migrations and exit")

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fursona: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
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

	db, err := postgres.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	if cfg.Server.AutoMigrate || *migrateOnly {
		if err := postgres.RunMigrations(ctx, db, logger); err != nil {
			db.Close()
			return err
		}
	}
	if *migrateOnly {
		logger.Info("Migrations complete")
		return db.Close()
	}

	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient, err = postgres.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			db.Close()
			return err
		}
		logger.Info("Redis connected; rate limits are shared across instances")
	}

	images, err := storage.NewImageStore(ctx, cfg.Storage)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize image storage: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	catalog, err := billing.NewCatalogHolder(
		billing.DefaultCatalog(cfg.Stripe.BasicPriceID, cfg.Stripe.ProPriceID, cfg.Stripe.Enabled),
		cfg.Stripe.CatalogFile,
		logger,
	)
	if err != nil {
		db.Close()
		return err
	}

	subscriptions := billing.NewPostgresStore(db)
	subscriptions.SetCatalog(catalog)

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		db.Close()
		return err
	}
	authService := auth.NewService(db, auth.NewPostgresStore(db), subscriptions, tokens, cfg.Auth.BcryptCost)

	generators, err := buildGenerators(cfg.Generator, metrics, logger)
	if err != nil {
		db.Close()
		return err
	}
	personas := persona.NewService(usage.NewGate(subscriptions, metrics), generators, persona.NewPostgresStore(db), images, metrics)
	personas.SetMaxImageBytes(cfg.Server.MaxUploadBytes)

	var (
		provider billing.PaymentProvider
		webhooks api.WebhookProcessor
	)
	if cfg.Stripe.Enabled {
		provider = billing.NewStripeProvider(cfg.Stripe.SecretKey, cfg.Stripe.Timeout)
		webhooks = billing.NewProcessor(subscriptions, billing.NewStripeEventParser(cfg.Stripe.WebhookSecret), catalog, billing.ProcessorOptions{
			CacheSize: cfg.Stripe.EventCacheSize,
			CacheTTL:  cfg.Stripe.EventCacheTTL,
			Metrics:   metrics,
			Logger:    logger,
		})
	} else {
		logger.Warn("Stripe is not configured; only the free tier is available")
	}

	server := api.NewServer(api.Dependencies{
		Auth:            authService,
		Personas:        personas,
		Subscriptions:   subscriptions,
		Checkout:        billing.NewCheckoutService(subscriptions, provider, catalog, cfg.Stripe.FrontendURL, metrics),
		Webhooks:        webhooks,
		Catalog:         catalog,
		AuthMW:          middleware.NewAuthMiddleware(tokens, auth.NewAuditLogger(logger)),
		Metrics:         metrics,
		LoginLimiter:    newLimiter(ctx, redisClient, cfg.RateLimit.LoginPerMinute, "ratelimit:login"),
		GenerateLimiter: newLimiter(ctx, redisClient, cfg.RateLimit.GeneratePerMinute, "ratelimit:generate"),
	})

	if fs, ok := images.(*storage.FilesystemImageStore); ok {
		server.Router().PathPrefix("/uploads/").Handler(
			http.StripPrefix("/uploads/", http.FileServer(http.Dir(fs.Root()))),
		)
	}

	handler := httputil.Chain(
		httputil.RecoveryMiddleware,
		httputil.RequestIDMiddleware(logger),
		httputil.LoggingMiddleware,
		httputil.CORSMiddleware(cfg.Server.CORSOrigins),
		httputil.MaxBytesMiddleware(requestBodyLimit(cfg.Server.MaxUploadBytes)),
	)(server)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(handler, "fursona-api"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient, images, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	scheduler := jobs.NewScheduler(logger, metrics)
	if err := scheduler.PruneEvents(cfg.Jobs.PruneEventsSchedule, subscriptions, cfg.Stripe.EventRetention); err != nil {
		db.Close()
		return err
	}
	if err := scheduler.PoolStats(cfg.Jobs.PoolStatsSchedule, db); err != nil {
		db.Close()
		return err
	}
	scheduler.Start(ctx)
	// Fill the pool gauges and apply ledger retention now rather than at the
	// first tick.
	for _, name := range []string{jobs.PoolStatsJob, jobs.PruneEventsJob} {
		if err := scheduler.Trigger(name); err != nil {
			logger.WithError(err).Warn("Startup job not run")
		}
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc("jobs", scheduler.Stop)
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.RegisterShutdownFunc("database", func(context.Context) error { return db.Close() })
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc("otel", otelProviders.Shutdown)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Fursona API listening on %s", apiServer.Addr)
		return serve(apiServer)
	})
	g.Go(func() error {
		logger.Infof("Health and metrics listening on %s", healthServer.Addr)
		return serve(healthServer)
	})
	g.Go(func() error {
		return catalog.Watch(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Fursona stopped")
	return nil
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
	}
	return nil
}

// buildGenerators registers every provider that has an API key
func buildGenerators(cfg config.GeneratorConfig, metrics *observability.Metrics, logger *observability.Logger) (*persona.Registry, error) {
	registry := persona.NewRegistry(cfg.DefaultProvider)

	providers := []persona.GeneratorConfig{
		{Provider: persona.ProviderGemini, APIKey: cfg.GeminiAPIKey, BaseURL: cfg.GeminiBaseURL, Model: cfg.GeminiModel},
		{Provider: persona.ProviderOpenAI, APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL, Model: cfg.OpenAIModel},
	}
	for _, p := range providers {
		if p.APIKey == "" {
			continue
		}
		p.SystemPrompt = cfg.SystemPrompt
		p.Temperature = cfg.Temperature
		p.MaxTokens = cfg.MaxTokens
		p.Timeout = cfg.Timeout

		g, err := persona.NewOpenAIGenerator(p, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to configure %s: %w", p.Provider, err)
		}
		registry.Register(p.Provider, g)
	}

	if len(registry.Providers()) == 0 {
		logger.Warn("No AI provider API key is set; generation requests will fail")
	}
	return registry, nil
}

// newLimiter returns a per-minute limiter, shared through Redis when
// available. A non-positive rate disables limiting.
func newLimiter(ctx context.Context, redisClient *redis.Client, perMinute int, prefix string) middleware.Limiter {
	if perMinute <= 0 {
		return nil
	}
	if redisClient != nil {
		return middleware.NewDistributedRateLimiter(redisClient, middleware.PerMinute(perMinute), prefix)
	}
	limiter := middleware.NewRateLimiter(middleware.PerMinute(perMinute))
	limiter.StartCleanup(ctx)
	return limiter
}

// requestBodyLimit allows for base64 expansion of the largest accepted photo
func requestBodyLimit(maxImageBytes int64) int64 {
	return maxImageBytes*4/3 + 1<<20
}
