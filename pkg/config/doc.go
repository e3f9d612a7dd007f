// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings, plus an optional YAML seed file of
// bootstrap SAML connections that is hot-reloaded on change.
//
// # Configuration Structure
//
// Server settings:
//
//	FEDERATE_HOST="0.0.0.0"
//	FEDERATE_PORT="8080"
//	FEDERATE_HEALTH_PORT="9090"
//	FEDERATE_READ_TIMEOUT="15s"
//	FEDERATE_WRITE_TIMEOUT="15s"
//
// Broker settings:
//
//	FEDERATE_BASE_URL="https://sso.example.com"
//	FEDERATE_PENDING_AUTH_TTL="5m"
//	FEDERATE_CODE_TTL="2m"
//	FEDERATE_TOKEN_TTL="1h"
//	FEDERATE_LOGOUT_TTL="5m"
//	FEDERATE_SWEEP_SCHEDULE="@every 1m"
//	FEDERATE_SEED_FILE="/etc/federate/seed.yaml"
//
// Storage settings:
//
//	FEDERATE_POSTGRES_URL="postgres://localhost/federate"
//	FEDERATE_POSTGRES_MAX_CONNS="25"
//	FEDERATE_REDIS_URL="redis://localhost:6379/0"
//
// Observability settings:
//
//	FEDERATE_LOG_LEVEL="info"
//	FEDERATE_METRICS_ENABLED="true"
//	FEDERATE_OTEL_ENABLED="false"
//	FEDERATE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
