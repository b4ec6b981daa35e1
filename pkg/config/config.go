package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/platinummonkey/fursona/pkg/observability"
	"github.com/platinummonkey/fursona/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Auth          AuthConfig
	Stripe        StripeConfig
	Generator     GeneratorConfig
	RateLimit     RateLimitConfig
	Jobs          JobsConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxUploadBytes  int64
	AutoMigrate     bool

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuthConfig holds token settings
type AuthConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

// StripeConfig holds payment provider settings
type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	BasicPriceID   string
	ProPriceID     string
	FrontendURL    string
	Timeout        time.Duration
	CatalogFile    string
	EventCacheSize int
	EventCacheTTL  time.Duration
	EventRetention time.Duration
	Enabled        bool
}

// GeneratorConfig holds AI provider settings
type GeneratorConfig struct {
	DefaultProvider string
	GeminiAPIKey    string
	GeminiModel     string
	GeminiBaseURL   string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	SystemPrompt    string
	Temperature     float32
	MaxTokens       int
	Timeout         time.Duration
}

// RateLimitConfig limits expensive or sensitive routes
type RateLimitConfig struct {
	GeneratePerMinute int
	LoginPerMinute    int
}

// JobsConfig holds background job schedules (cron syntax)
type JobsConfig struct {
	PruneEventsSchedule string
	PoolStatsSchedule   string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads .env (if present) and then the environment
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Stripe:        loadStripeConfig(),
		Generator:     loadGeneratorConfig(),
		RateLimit:     loadRateLimitConfig(),
		Jobs:          loadJobsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("FURSONA_HOST", "0.0.0.0"),
		Port:            getEnv("FURSONA_PORT", getEnv("PORT", "5000")),
		ReadTimeout:     getEnvDuration("FURSONA_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvDuration("FURSONA_WRITE_TIMEOUT", 90*time.Second),
		IdleTimeout:     getEnvDuration("FURSONA_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout: getEnvDuration("FURSONA_SHUTDOWN_TIMEOUT", 30*time.Second),
		CORSOrigins:     getEnvList("FURSONA_CORS_ORIGINS", []string{getEnv("FRONTEND_URL", "http://localhost:5173")}),
		MaxUploadBytes:  getEnvInt64("FURSONA_MAX_UPLOAD_BYTES", 16*1024*1024),
		AutoMigrate:     getEnvBool("FURSONA_AUTO_MIGRATE", false),
		HealthPort:      getEnv("FURSONA_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if v := getEnv("FURSONA_STORAGE_TYPE", ""); v != "" {
		cfg.Type = v
	}
	if v := getEnv("FURSONA_FILESYSTEM_ROOT", ""); v != "" {
		cfg.FilesystemRoot = v
	}
	if v := getEnv("FURSONA_PUBLIC_BASE_URL", ""); v != "" {
		cfg.PublicBaseURL = v
	}

	cfg.PostgresURL = getEnv("FURSONA_POSTGRES_URL", getEnv("DATABASE_URL", ""))
	if v := getEnvInt("FURSONA_POSTGRES_MAX_CONNS", 0); v > 0 {
		cfg.PostgresMaxConns = v
	}
	if v := getEnvInt("FURSONA_POSTGRES_MIN_CONNS", 0); v > 0 {
		cfg.PostgresMinConns = v
	}
	if v := getEnvDuration("FURSONA_POSTGRES_TIMEOUT", 0); v > 0 {
		cfg.PostgresTimeout = v
	}

	cfg.S3Endpoint = getEnv("FURSONA_S3_ENDPOINT", "")
	if v := getEnv("FURSONA_S3_REGION", ""); v != "" {
		cfg.S3Region = v
	}
	cfg.S3Bucket = getEnv("FURSONA_S3_BUCKET", "")
	cfg.S3AccessKey = getEnv("FURSONA_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnv("FURSONA_S3_SECRET_KEY", "")
	cfg.S3UsePathStyle = getEnvBool("FURSONA_S3_USE_PATH_STYLE", false)

	cfg.RedisURL = getEnv("FURSONA_REDIS_URL", "")
	cfg.RedisPassword = getEnv("FURSONA_REDIS_PASSWORD", "")
	if v := getEnvInt("FURSONA_REDIS_DB", -1); v >= 0 {
		cfg.RedisDB = v
	}
	if v := getEnvInt("FURSONA_REDIS_POOL_SIZE", 0); v > 0 {
		cfg.RedisPoolSize = v
	}

	return cfg
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:  getEnv("JWT_SECRET", ""),
		TokenTTL:   getEnvDuration("FURSONA_TOKEN_TTL", 7*24*time.Hour),
		BcryptCost: getEnvInt("FURSONA_BCRYPT_COST", 10),
	}
}

func loadStripeConfig() StripeConfig {
	cfg := StripeConfig{
		SecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
		BasicPriceID:   getEnv("BASIC_PLAN_PRICE_ID", ""),
		ProPriceID:     getEnv("PRO_PLAN_PRICE_ID", ""),
		FrontendURL:    strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:5173"), "/"),
		Timeout:        getEnvDuration("FURSONA_STRIPE_TIMEOUT", 15*time.Second),
		CatalogFile:    getEnv("FURSONA_PLAN_CATALOG_FILE", ""),
		EventCacheSize: getEnvInt("FURSONA_WEBHOOK_CACHE_SIZE", 4096),
		EventCacheTTL:  getEnvDuration("FURSONA_WEBHOOK_CACHE_TTL", 24*time.Hour),
		EventRetention: getEnvDuration("FURSONA_WEBHOOK_RETENTION", 30*24*time.Hour),
	}
	cfg.Enabled = cfg.SecretKey != "" && cfg.WebhookSecret != "" && cfg.BasicPriceID != "" && cfg.ProPriceID != ""
	return cfg
}

func loadGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		DefaultProvider: strings.ToLower(getEnv("LLM_PROVIDER", "gemini")),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("FURSONA_GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:   getEnv("FURSONA_GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("FURSONA_OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:   getEnv("FURSONA_OPENAI_BASE_URL", ""),
		SystemPrompt:    getEnv("FURSONA_SYSTEM_PROMPT", getEnv("GEMINI_SYSTEM_PROMPT", "")),
		Temperature:     float32(getEnvFloat("FURSONA_TEMPERATURE", 0.9)),
		MaxTokens:       getEnvInt("FURSONA_MAX_TOKENS", 1024),
		Timeout:         getEnvDuration("FURSONA_GENERATION_TIMEOUT", 60*time.Second),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		GeneratePerMinute: getEnvInt("FURSONA_GENERATE_RATE_LIMIT", 10),
		LoginPerMinute:    getEnvInt("FURSONA_LOGIN_RATE_LIMIT", 20),
	}
}

func loadJobsConfig() JobsConfig {
	return JobsConfig{
		PruneEventsSchedule: getEnv("FURSONA_PRUNE_EVENTS_SCHEDULE", "@daily"),
		PoolStatsSchedule:   getEnv("FURSONA_POOL_STATS_SCHEDULE", "@every 15s"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("FURSONA_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("FURSONA_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("FURSONA_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("FURSONA_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("FURSONA_OTEL_SERVICE_NAME", "fursona"),
		OTelServiceVersion: getEnv("FURSONA_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("FURSONA_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("FURSONA_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	switch c.Storage.Type {
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem storage")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be filesystem or s3)", c.Storage.Type)
	}

	switch c.Generator.DefaultProvider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("invalid LLM_PROVIDER: %s (must be gemini or openai)", c.Generator.DefaultProvider)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
