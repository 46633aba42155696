package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/calyptra/pulse/pkg/observability"
	"github.com/calyptra/pulse/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage tier configuration
	Storage storage.Config

	// Telemetry behaviour knobs
	Telemetry TelemetryConfig

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

	// Production toggles Secure viewer cookies.
	Production bool
}

// TelemetryConfig holds limits and cache behaviour for the telemetry core.
type TelemetryConfig struct {
	// IngestBatchLimit caps one ingest call's accepted rows.
	IngestBatchLimit int
	// FlushBatchLimit caps one flush's dequeued rows.
	FlushBatchLimit int
	// ResolveCacheEntries bounds the single-flight resolve cache.
	ResolveCacheEntries int
	// ViewerTTL / AnonymousTTL are the read-path memoization TTLs.
	ViewerTTL    time.Duration
	AnonymousTTL time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	TracingEnabled     bool
	TracingEndpoint    string
	TracingServiceName string
	TracingInsecure    bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Telemetry:     loadTelemetryConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PULSE_HOST", "0.0.0.0"),
		Port:            getEnv("PULSE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PULSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PULSE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("PULSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PULSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("PULSE_HEALTH_PORT", "9090"),
		Production:      getEnvBool("PULSE_PRODUCTION", false),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if redisURL := getEnv("PULSE_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("PULSE_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("PULSE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("PULSE_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("PULSE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	if driver := getEnv("PULSE_DB_DRIVER", ""); driver != "" {
		cfg.DatabaseDriver = driver
	}
	if dbURL := getEnv("PULSE_DB_URL", ""); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}

	if s3Endpoint := getEnv("PULSE_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("PULSE_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("PULSE_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("PULSE_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("PULSE_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("PULSE_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}

	if timeout := getEnvDuration("PULSE_STORAGE_TIMEOUT", 0); timeout > 0 {
		cfg.OpTimeout = timeout
	}
	if tz := getEnv("PULSE_TIMEZONE", ""); tz != "" {
		cfg.Timezone = tz
	}

	return cfg
}

func loadTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		IngestBatchLimit:    getEnvInt("PULSE_INGEST_BATCH_LIMIT", 200),
		FlushBatchLimit:     getEnvInt("PULSE_FLUSH_BATCH_LIMIT", 500),
		ResolveCacheEntries: getEnvInt("PULSE_RESOLVE_CACHE_ENTRIES", 4096),
		ViewerTTL:           getEnvDuration("PULSE_VIEWER_CACHE_TTL", 3*time.Second),
		AnonymousTTL:        getEnvDuration("PULSE_ANON_CACHE_TTL", 12*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("PULSE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("PULSE_METRICS_ENABLED", true),
		TracingEnabled:     getEnvBool("PULSE_TRACING_ENABLED", false),
		TracingEndpoint:    getEnv("PULSE_TRACING_ENDPOINT", "localhost:4317"),
		TracingServiceName: getEnv("PULSE_TRACING_SERVICE_NAME", "pulse-telemetry"),
		TracingInsecure:    getEnvBool("PULSE_TRACING_INSECURE", true),
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

	if c.Storage.HasDatabase() {
		switch c.Storage.DatabaseDriver {
		case "postgres", "sqlite3":
		default:
			return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Storage.DatabaseDriver)
		}
	}

	if _, err := time.LoadLocation(c.Storage.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Storage.Timezone, err)
	}

	if c.Telemetry.IngestBatchLimit <= 0 {
		return fmt.Errorf("ingest batch limit must be positive")
	}
	if c.Telemetry.FlushBatchLimit <= 0 {
		return fmt.Errorf("flush batch limit must be positive")
	}

	if c.Observability.TracingEnabled {
		if c.Observability.TracingEndpoint == "" {
			return fmt.Errorf("tracing endpoint is required when tracing is enabled")
		}
		if c.Observability.TracingServiceName == "" {
			return fmt.Errorf("tracing service name is required when tracing is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
