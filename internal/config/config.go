package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	DBMaxConns         int32
	DBMinConns         int32
	RedisURL           string
	CORSAllowedOrigins []string
	BodyLimitBytes     int64
	AuditEnabled       bool
	HSTS               bool

	JWTSecret        string
	JWTIssuer        string
	JWTAudience      string
	JWTSkew          time.Duration
	AccessCookieName string

	CartTTL          time.Duration
	LockTTL          time.Duration
	LockWait         time.Duration
	LockRetryBackoff time.Duration
	IdempotencyTTL   time.Duration

	DiscountCacheTTL   time.Duration
	CatalogCacheTTL    time.Duration
	PricingConcurrency int

	VoucherRateWindow time.Duration
	VoucherRateMax    int

	QueueName         string
	QueueMaxAttempts  int
	WorkerConcurrency int
	CartSweepCron     string
	DLQPageSize       int
	WorkerMetricsAddr string

	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	TracingEndpoint  string
	TracingRatio     float64
	PprofEnabled     bool
	PprofUser        string
	PprofPass        string

	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		DBMaxConns:         int32(parseInt(k.String("DB_MAX_CONNS"), 10)),
		DBMinConns:         int32(parseInt(k.String("DB_MIN_CONNS"), 0)),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BodyLimitBytes:     int64(parseInt(k.String("HTTP_BODY_LIMIT_BYTES"), 1<<20)),
		HSTS:               parseBool(k.String("SECURE_HSTS"), false),
		AuditEnabled:       parseBool(k.String("AUDIT_ENABLED"), true),

		JWTSecret:        k.String("JWT_SECRET"),
		JWTIssuer:        strings.TrimSpace(k.String("JWT_ISSUER")),
		JWTAudience:      strings.TrimSpace(k.String("JWT_AUDIENCE")),
		JWTSkew:          parseDuration(k.String("JWT_SKEW"), "30s"),
		AccessCookieName: valueOrDefault(k.String("ACCESS_COOKIE_NAME"), "access_token"),

		CartTTL:          parseDuration(k.String("CART_TTL"), "168h"),
		LockTTL:          parseDuration(k.String("CART_LOCK_TTL"), "5s"),
		LockWait:         parseDuration(k.String("CART_LOCK_WAIT"), "2s"),
		LockRetryBackoff: parseDuration(k.String("CART_LOCK_RETRY_BACKOFF"), "25ms"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		DiscountCacheTTL:   parseDuration(k.String("DISCOUNT_CACHE_TTL"), "60s"),
		CatalogCacheTTL:    parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
		PricingConcurrency: parseInt(k.String("PRICING_CONCURRENCY"), 8),

		VoucherRateWindow: parseDuration(k.String("VOUCHER_RATE_WINDOW"), "1m"),
		VoucherRateMax:    parseInt(k.String("VOUCHER_RATE_MAX"), 10),

		QueueName:         valueOrDefault(k.String("QUEUE_NAME"), "default"),
		QueueMaxAttempts:  parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 10),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 5),
		CartSweepCron:     valueOrDefault(k.String("CART_SWEEP_CRON"), "@hourly"),
		DLQPageSize:       parseInt(k.String("QUEUE_DLQ_PAGE_SIZE"), 50),
		WorkerMetricsAddr: valueOrDefault(k.String("WORKER_METRICS_ADDR"), ":9091"),

		LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsEnabled:   parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "toko"),
		MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
		TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING"), false),
		TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		TracingEndpoint:  strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingRatio:     parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		PprofEnabled:     parseBool(k.String("OBS_ENABLE_PPROF"), false),
		PprofUser:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
		PprofPass:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),

		ShutdownTimeout: parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		cfg.DBMinConns = cfg.DBMaxConns
	}

	return cfg, nil
}

// RequireJWT reports whether the token settings needed by the API are present.
func (c *Config) RequireJWT() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
