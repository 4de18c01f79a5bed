// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings (defaults shown):
//
//	WEBHOOKRELAY_HOST="0.0.0.0"
//	WEBHOOKRELAY_PORT="8080"
//	WEBHOOKRELAY_HEALTH_PORT="9090"
//	WEBHOOKRELAY_READ_TIMEOUT="15s"
//	WEBHOOKRELAY_WRITE_TIMEOUT="15s"
//	WEBHOOKRELAY_IDLE_TIMEOUT="60s"
//	WEBHOOKRELAY_SHUTDOWN_TIMEOUT="30s"
//
// Storage settings:
//
//	WEBHOOKRELAY_POSTGRES_URL=""  # required
//	WEBHOOKRELAY_POSTGRES_REPLICA_URLS=""
//	WEBHOOKRELAY_POSTGRES_MAX_CONNS="10"
//	WEBHOOKRELAY_POSTGRES_MIN_CONNS="2"
//	WEBHOOKRELAY_REDIS_URL="redis://localhost:6379/0"
//	WEBHOOKRELAY_REDIS_POOL_SIZE="10"
//	WEBHOOKRELAY_REDIS_CHECKPOINT_KEY="webhookrelay:checkpoint"
//	WEBHOOKRELAY_S3_BUCKET=""  # required
//	WEBHOOKRELAY_S3_REGION="us-east-1"
//	WEBHOOKRELAY_S3_ENDPOINT=""
//	WEBHOOKRELAY_S3_CHECKPOINT_KEY="webhookrelay/checkpoint.json"
//
// Observability settings:
//
//	WEBHOOKRELAY_LOG_LEVEL="info"  # debug, info, warn, error
//	WEBHOOKRELAY_METRICS_ENABLED="true"
//	WEBHOOKRELAY_OTEL_ENABLED="false"
//	WEBHOOKRELAY_OTEL_ENDPOINT="localhost:4317"
//
// Engine settings: WEBHOOKRELAY_ENGINE_CONFIG names a TOML file holding the
// delivery engine's EngineConfig (see LoadEngineConfig and
// EngineConfigWatcher).
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Postgres: %s\n", cfg.Storage.Postgres.PrimaryURL)
//	fmt.Printf("Log level: %v\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/webhookstore, pkg/staterepo: use the storage configuration
//   - pkg/observability: Uses observability configuration
package config
