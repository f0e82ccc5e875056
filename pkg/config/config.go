package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/posalpro/posalpro/pkg/observability"
	"github.com/posalpro/posalpro/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// RBAC configuration
	RBAC RBACConfig

	// Auth configuration
	Auth AuthConfig

	// Access configuration: route table, field catalog and redirect targets
	Access AccessConfig

	// Audit configuration
	Audit AuditConfig

	// Observability configuration
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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// CORS origins allowed to call the API; empty allows none
	AllowedOrigins []string
}

// RBACConfig holds permission cache settings
type RBACConfig struct {
	CacheTTL       time.Duration
	LocalCacheSize int
}

// AuthConfig holds session token settings
type AuthConfig struct {
	JWTSecret  string
	Issuer     string
	TokenTTL   time.Duration
	SessionTTL time.Duration
}

// AccessConfig holds route guard and field catalog settings
type AccessConfig struct {
	// RoutesFile replaces the embedded route table and is watched for changes
	RoutesFile string

	// CatalogFile replaces the embedded field catalog
	CatalogFile string

	LoginPath        string
	UnauthorizedPath string
	ErrorPath        string

	// UnsafeAdminSessionBypass skips session validation for super-admins
	UnsafeAdminSessionBypass bool
}

// AuditConfig holds security event sink settings
type AuditConfig struct {
	// LogDir enables the JSON-lines file sink when set
	LogDir string

	// Database enables the security_events table sink
	Database bool

	// RetentionDays bounds how long stored events are kept; zero keeps them forever
	RetentionDays int

	// RetentionSchedule is the cron spec of the purge job
	RetentionSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// DBStatsInterval is how often connection pool gauges are refreshed
	DBStatsInterval time.Duration

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		RBAC:          loadRBACConfig(),
		Auth:          loadAuthConfig(),
		Access:        loadAccessConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("POSALPRO_HOST", "0.0.0.0"),
		Port:            getEnv("POSALPRO_PORT", "8080"),
		ReadTimeout:     getEnvDuration("POSALPRO_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("POSALPRO_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("POSALPRO_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("POSALPRO_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("POSALPRO_HEALTH_PORT", "9090"),
		AllowedOrigins:  getEnvList("POSALPRO_ALLOWED_ORIGINS"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	if pgURL := getEnv("POSALPRO_DATABASE_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("POSALPRO_DATABASE_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("POSALPRO_DATABASE_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("POSALPRO_DATABASE_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("POSALPRO_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("POSALPRO_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("POSALPRO_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("POSALPRO_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("POSALPRO_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

// loadRBACConfig loads permission cache configuration from environment
func loadRBACConfig() RBACConfig {
	return RBACConfig{
		CacheTTL:       getEnvDuration("POSALPRO_PERMISSION_CACHE_TTL", 5*time.Minute),
		LocalCacheSize: getEnvInt("POSALPRO_PERMISSION_CACHE_SIZE", 10000),
	}
}

// loadAuthConfig loads session token configuration from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:  getEnv("POSALPRO_JWT_SECRET", ""),
		Issuer:     getEnv("POSALPRO_JWT_ISSUER", "posalpro"),
		TokenTTL:   getEnvDuration("POSALPRO_TOKEN_TTL", 8*time.Hour),
		SessionTTL: getEnvDuration("POSALPRO_SESSION_TTL", 8*time.Hour),
	}
}

// loadAccessConfig loads route guard configuration from environment
func loadAccessConfig() AccessConfig {
	return AccessConfig{
		RoutesFile:               getEnv("POSALPRO_ROUTES_FILE", ""),
		CatalogFile:              getEnv("POSALPRO_FIELD_CATALOG_FILE", ""),
		LoginPath:                getEnv("POSALPRO_LOGIN_PATH", "/login"),
		UnauthorizedPath:         getEnv("POSALPRO_UNAUTHORIZED_PATH", "/unauthorized"),
		ErrorPath:                getEnv("POSALPRO_ERROR_PATH", "/error"),
		UnsafeAdminSessionBypass: getEnvBool("POSALPRO_UNSAFE_ADMIN_SESSION_BYPASS", false),
	}
}

// loadAuditConfig loads audit sink configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		LogDir:            getEnv("POSALPRO_AUDIT_LOG_DIR", ""),
		Database:          getEnvBool("POSALPRO_AUDIT_DATABASE", true),
		RetentionDays:     getEnvInt("POSALPRO_AUDIT_RETENTION_DAYS", 90),
		RetentionSchedule: getEnv("POSALPRO_AUDIT_RETENTION_SCHEDULE", "30 3 * * *"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:        observability.ParseLevel(getEnv("POSALPRO_LOG_LEVEL", "info")),
		MetricsEnabled:  getEnvBool("POSALPRO_METRICS_ENABLED", true),
		DBStatsInterval: getEnvDuration("POSALPRO_DB_STATS_INTERVAL", 30*time.Second),

		OTelEnabled:        getEnvBool("POSALPRO_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("POSALPRO_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("POSALPRO_OTEL_SERVICE_NAME", "posalpro"),
		OTelServiceVersion: getEnv("POSALPRO_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("POSALPRO_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("POSALPRO_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Server.HealthPort == "" {
		return errors.New("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return errors.New("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return errors.New("database URL is required")
	}
	if c.Storage.RedisURL == "" {
		return errors.New("redis URL is required for session validation")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("JWT secret must be at least 32 bytes")
	}
	if c.Auth.TokenTTL <= 0 || c.Auth.SessionTTL <= 0 {
		return errors.New("token and session TTL must be positive")
	}

	if c.RBAC.CacheTTL <= 0 {
		return errors.New("permission cache TTL must be positive")
	}
	if c.RBAC.LocalCacheSize <= 0 {
		return errors.New("permission cache size must be positive")
	}

	if c.Audit.RetentionDays < 0 {
		return errors.New("audit retention days must not be negative")
	}

	for name, p := range map[string]string{
		"login":        c.Access.LoginPath,
		"unauthorized": c.Access.UnauthorizedPath,
		"error":        c.Access.ErrorPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s path must be absolute, got %q", name, p)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return errors.New("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r <= 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be in (0, 1], got %v", r)
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

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable as a list
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
