package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL string
	AutoMigrate bool

	// JWT
	JWTSecret string

	// Redis (per-student payment locks). Empty means in-process locks.
	RedisURL string
	LockTTL  time.Duration

	// Background Workers
	WorkerCount int

	// CORS
	AllowedOrigins []string

	// Sentry
	SentryDSN string

	// Ledger
	CommitMaxRetries   int
	ReceiptMaxAttempts int
	ReceiptPrefix      string
	SettingsTimeout    time.Duration
	ScheduleCacheTTL   time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Environment:        getEnv("ENVIRONMENT", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		AutoMigrate:        getEnvAsBool("AUTO_MIGRATE", false),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		LockTTL:            getEnvAsDuration("LOCK_TTL", 10*time.Second),
		WorkerCount:        getEnvAsInt("WORKER_COUNT", 5),
		AllowedOrigins:     getEnvAsSlice("ALLOWED_ORIGINS", []string{"*"}),
		SentryDSN:          getEnv("SENTRY_DSN", ""),
		CommitMaxRetries:   getEnvAsInt("COMMIT_MAX_RETRIES", 3),
		ReceiptMaxAttempts: getEnvAsInt("RECEIPT_MAX_ATTEMPTS", 5),
		ReceiptPrefix:      getEnv("RECEIPT_PREFIX", "REC-"),
		SettingsTimeout:    getEnvAsDuration("SETTINGS_TIMEOUT", 2*time.Second),
		ScheduleCacheTTL:   getEnvAsDuration("SCHEDULE_CACHE_TTL", 5*time.Minute),
	}

	// Validate required configuration
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" && cfg.Environment == "production" {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}

	if cfg.CommitMaxRetries < 1 {
		return nil, fmt.Errorf("COMMIT_MAX_RETRIES must be at least 1")
	}

	if cfg.ReceiptMaxAttempts < 1 {
		return nil, fmt.Errorf("RECEIPT_MAX_ATTEMPTS must be at least 1")
	}

	// Set default JWT secret for development
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret-change-in-production"
	}

	return cfg, nil
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads an environment variable as integer
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool reads an environment variable as boolean
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration reads an environment variable as a duration ("2s", "500ms")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice reads an environment variable as comma-separated slice
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
