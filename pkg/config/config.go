package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/federate/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Broker protocol configuration
	Broker BrokerConfig

	// Storage configuration
	Storage StorageConfig

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
}

// BrokerConfig holds the protocol-level knobs: record TTLs, the sweep
// schedule for expired state, rate limiting and the optional seed file.
type BrokerConfig struct {
	// BaseURL is the externally visible URL of this broker; ACS and
	// logout callback URLs are derived from it.
	BaseURL string

	PendingAuthTTL time.Duration
	CodeTTL        time.Duration
	TokenTTL       time.Duration
	LogoutTTL      time.Duration

	// SweepSchedule is a cron expression for the expired-record sweeper.
	SweepSchedule string

	// SeedFile optionally points at a YAML file of SAML configs loaded at
	// startup and reloaded on change.
	SeedFile string

	// RateLimitPerMinute caps requests per client IP on the token and
	// assertion endpoints. Zero disables rate limiting.
	RateLimitPerMinute int
}

// StorageConfig holds the backing-store connection settings
type StorageConfig struct {
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int

	RedisURL string
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
		Broker:        loadBrokerConfig(),
		Storage:       loadStorageConfig(),
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
		Host:            getEnv("FEDERATE_HOST", "0.0.0.0"),
		Port:            getEnv("FEDERATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("FEDERATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("FEDERATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("FEDERATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("FEDERATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("FEDERATE_HEALTH_PORT", "9090"),
	}
}

// loadBrokerConfig loads broker protocol configuration from environment
func loadBrokerConfig() BrokerConfig {
	return BrokerConfig{
		BaseURL:            getEnv("FEDERATE_BASE_URL", "http://localhost:8080"),
		PendingAuthTTL:     getEnvDuration("FEDERATE_PENDING_AUTH_TTL", 5*time.Minute),
		CodeTTL:            getEnvDuration("FEDERATE_CODE_TTL", 2*time.Minute),
		TokenTTL:           getEnvDuration("FEDERATE_TOKEN_TTL", time.Hour),
		LogoutTTL:          getEnvDuration("FEDERATE_LOGOUT_TTL", 5*time.Minute),
		SweepSchedule:      getEnv("FEDERATE_SWEEP_SCHEDULE", "@every 1m"),
		SeedFile:           getEnv("FEDERATE_SEED_FILE", ""),
		RateLimitPerMinute: getEnvInt("FEDERATE_RATE_LIMIT_PER_MINUTE", 60),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() StorageConfig {
	return StorageConfig{
		PostgresURL:      getEnv("FEDERATE_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("FEDERATE_POSTGRES_MAX_CONNS", 25),
		PostgresMinConns: getEnvInt("FEDERATE_POSTGRES_MIN_CONNS", 5),
		RedisURL:         getEnv("FEDERATE_REDIS_URL", "redis://localhost:6379/0"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("FEDERATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("FEDERATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("FEDERATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("FEDERATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("FEDERATE_OTEL_SERVICE_NAME", "federate"),
		OTelServiceVersion: getEnv("FEDERATE_OTEL_SERVICE_VERSION", observability.Version),
		OTelInsecure:       getEnvBool("FEDERATE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate broker config
	if c.Broker.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if c.Broker.PendingAuthTTL <= 0 || c.Broker.CodeTTL <= 0 || c.Broker.TokenTTL <= 0 || c.Broker.LogoutTTL <= 0 {
		return fmt.Errorf("record TTLs must be positive")
	}
	if c.Broker.CodeTTL > c.Broker.PendingAuthTTL {
		return fmt.Errorf("code TTL must not exceed the pending-auth TTL")
	}

	// Validate storage config
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}

	// Validate OpenTelemetry config
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
