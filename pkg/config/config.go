package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/webhookrelay/pkg/observability"
	"github.com/platinummonkey/webhookrelay/pkg/staterepo"
	"github.com/platinummonkey/webhookrelay/pkg/webhookstore"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage StorageConfig

	// Observability configuration
	Observability ObservabilityConfig

	// EnginePath is the TOML file the delivery engine's hot-reloadable
	// knobs (retry/batching/rate-limit) are loaded from. Empty means run
	// on DefaultEngineConfig with no file watch.
	EnginePath string
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
}

// StorageConfig bundles the connection settings for every backing store the
// delivery engine talks to: the Postgres-backed webhook/event repositories
// (pkg/webhookstore) and the Redis+S3 checkpoint store (pkg/staterepo).
type StorageConfig struct {
	Postgres webhookstore.ConnectionConfig
	Redis    staterepo.RedisConfig
	S3       staterepo.S3Config
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
		EnginePath:    getEnv("WEBHOOKRELAY_ENGINE_CONFIG", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("WEBHOOKRELAY_HOST", "0.0.0.0"),
		Port:            getEnv("WEBHOOKRELAY_PORT", "8080"),
		ReadTimeout:     getEnvDuration("WEBHOOKRELAY_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WEBHOOKRELAY_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("WEBHOOKRELAY_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("WEBHOOKRELAY_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("WEBHOOKRELAY_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Postgres: webhookstore.ConnectionConfig{
			PrimaryURL:  getEnv("WEBHOOKRELAY_POSTGRES_URL", ""),
			ReplicaURLs: splitNonEmpty(getEnv("WEBHOOKRELAY_POSTGRES_REPLICA_URLS", "")),
			MaxConns:    getEnvInt("WEBHOOKRELAY_POSTGRES_MAX_CONNS", 10),
			MinConns:    getEnvInt("WEBHOOKRELAY_POSTGRES_MIN_CONNS", 2),
			Timeout:     getEnvDuration("WEBHOOKRELAY_POSTGRES_TIMEOUT", 5*time.Second),
			MaxLifetime: getEnvDuration("WEBHOOKRELAY_POSTGRES_MAX_LIFETIME", time.Hour),
			MaxIdleTime: getEnvDuration("WEBHOOKRELAY_POSTGRES_MAX_IDLE_TIME", 10*time.Minute),
		},
		Redis: staterepo.RedisConfig{
			URL:         getEnv("WEBHOOKRELAY_REDIS_URL", "redis://localhost:6379/0"),
			Password:    getEnv("WEBHOOKRELAY_REDIS_PASSWORD", ""),
			DB:          getEnvInt("WEBHOOKRELAY_REDIS_DB", 0),
			MaxRetries:  getEnvInt("WEBHOOKRELAY_REDIS_MAX_RETRIES", 3),
			PoolSize:    getEnvInt("WEBHOOKRELAY_REDIS_POOL_SIZE", 10),
			Key:         getEnv("WEBHOOKRELAY_REDIS_CHECKPOINT_KEY", "webhookrelay:checkpoint"),
			LockTTL:     getEnvDuration("WEBHOOKRELAY_REDIS_LOCK_TTL", 5*time.Second),
			DialTimeout: getEnvDuration("WEBHOOKRELAY_REDIS_DIAL_TIMEOUT", 5*time.Second),
		},
		S3: staterepo.S3Config{
			Region:       getEnv("WEBHOOKRELAY_S3_REGION", "us-east-1"),
			Bucket:       getEnv("WEBHOOKRELAY_S3_BUCKET", ""),
			Key:          getEnv("WEBHOOKRELAY_S3_CHECKPOINT_KEY", "webhookrelay/checkpoint.json"),
			Endpoint:     getEnv("WEBHOOKRELAY_S3_ENDPOINT", ""),
			UsePathStyle: getEnvBool("WEBHOOKRELAY_S3_USE_PATH_STYLE", false),
			AccessKey:    getEnv("WEBHOOKRELAY_S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("WEBHOOKRELAY_S3_SECRET_KEY", ""),
		},
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("WEBHOOKRELAY_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("WEBHOOKRELAY_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("WEBHOOKRELAY_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("WEBHOOKRELAY_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("WEBHOOKRELAY_OTEL_SERVICE_NAME", "webhookrelay"),
		OTelServiceVersion: getEnv("WEBHOOKRELAY_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("WEBHOOKRELAY_OTEL_INSECURE", true),
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

	if c.Storage.Postgres.PrimaryURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Storage.S3.Bucket == "" {
		return fmt.Errorf("S3 bucket is required")
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

// splitNonEmpty splits a comma-separated environment variable, dropping
// empty segments. Used for the optional Postgres read-replica list.
func splitNonEmpty(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
