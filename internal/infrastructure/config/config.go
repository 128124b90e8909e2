package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Environment string
	MetricsPort int

	// Database configuration
	DatabaseURL     string
	MigrationsPath  string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Bulk engine limits
	BulkChunkSize          int
	BulkMaxOperations      int
	BulkMaxTasksPerRequest int
	BulkMemoryLimitMB      int

	// Observability
	OTLPEndpoint        string
	PrometheusNamespace string
	LogLevel            string
	LogFormat           string // json or console

	// Graceful Shutdown
	ShutdownTimeout time.Duration

	// Feature Flags
	EnableMetrics bool
	EnableTracing bool

	// Timeouts
	DatabaseTimeout time.Duration
}

func Load() (*Config, error) {
	// Load .env file if exists (for local development)
	_ = godotenv.Load()

	cfg := &Config{
		// Server
		Environment: getEnv("ENVIRONMENT", "development"),
		MetricsPort: getEnvAsInt("METRICS_PORT", 9090),

		// Database
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		MigrationsPath:  getEnv("MIGRATIONS_PATH", "./internal/infrastructure/postgres/migrations"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),

		// Bulk engine
		BulkChunkSize:          getEnvAsInt("BULK_CHUNK_SIZE", 100),
		BulkMaxOperations:      getEnvAsInt("BULK_MAX_OPERATIONS", 1000),
		BulkMaxTasksPerRequest: getEnvAsInt("BULK_MAX_TASKS_PER_REQUEST", 100),
		BulkMemoryLimitMB:      getEnvAsInt("BULK_MEMORY_LIMIT_MB", 128),

		// Observability
		OTLPEndpoint:        getEnv("OTLP_ENDPOINT", "localhost:4317"),
		PrometheusNamespace: getEnv("PROMETHEUS_NAMESPACE", "task_engine"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),

		// Graceful Shutdown
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		// Feature Flags
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		EnableTracing: getEnvAsBool("ENABLE_TRACING", true),

		// Timeouts
		DatabaseTimeout: getEnvAsDuration("DATABASE_TIMEOUT", 10*time.Second),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	// Database URL is required
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	// Port validation
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}

	// Connection pool validation
	if c.MaxOpenConns < c.MaxIdleConns {
		return fmt.Errorf("max_open_conns (%d) must be >= max_idle_conns (%d)",
			c.MaxOpenConns, c.MaxIdleConns)
	}

	// Bulk limits validation
	if c.BulkChunkSize < 1 {
		return fmt.Errorf("BULK_CHUNK_SIZE must be positive, got %d", c.BulkChunkSize)
	}
	if c.BulkMaxTasksPerRequest < 1 {
		return fmt.Errorf("BULK_MAX_TASKS_PER_REQUEST must be positive, got %d", c.BulkMaxTasksPerRequest)
	}
	if c.BulkMaxOperations < c.BulkMaxTasksPerRequest {
		return fmt.Errorf("BULK_MAX_OPERATIONS (%d) must be >= BULK_MAX_TASKS_PER_REQUEST (%d)",
			c.BulkMaxOperations, c.BulkMaxTasksPerRequest)
	}
	if c.BulkMemoryLimitMB < 1 {
		return fmt.Errorf("BULK_MEMORY_LIMIT_MB must be positive, got %d", c.BulkMemoryLimitMB)
	}

	// Log level validation
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Log format validation
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.LogFormat)
	}

	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	Timeout         time.Duration
}

func (c *Config) GetDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             c.DatabaseURL,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		Timeout:         c.DatabaseTimeout,
	}
}

type BulkConfig struct {
	ChunkSize          int
	MaxOperations      int
	MaxTasksPerRequest int
	MemoryLimitMB      int
}

func (c *Config) GetBulkConfig() BulkConfig {
	return BulkConfig{
		ChunkSize:          c.BulkChunkSize,
		MaxOperations:      c.BulkMaxOperations,
		MaxTasksPerRequest: c.BulkMaxTasksPerRequest,
		MemoryLimitMB:      c.BulkMemoryLimitMB,
	}
}

type ObservabilityConfig struct {
	EnableMetrics       bool
	EnableTracing       bool
	OTLPEndpoint        string
	PrometheusNamespace string
	LogLevel            string
	LogFormat           string
}

func (c *Config) GetObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		EnableMetrics:       c.EnableMetrics,
		EnableTracing:       c.EnableTracing,
		OTLPEndpoint:        c.OTLPEndpoint,
		PrometheusNamespace: c.PrometheusNamespace,
		LogLevel:            c.LogLevel,
		LogFormat:           c.LogFormat,
	}
}
