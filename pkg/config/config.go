// Package config loads application configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// Forge API
	ForgeBaseURL string
	ForgeToken   string

	// Rate limiting
	MinRequestSpacing time.Duration
	RedisURL          string // optional shared rate-limit state

	// Engine
	Concurrency int
	MaxAttempts int

	// Storage
	StorageType string // "memory", "sqlite" or "postgres"
	SQLitePath  string
	PostgresURL string

	// API Server
	APIPort string
	APIHost string

	// Logging
	LogLevel  string
	LogPretty bool
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	return &Config{
		ForgeBaseURL:      getEnv("FORGE_BASE_URL", ""),
		ForgeToken:        getEnv("FORGE_TOKEN", ""),
		MinRequestSpacing: getEnvDuration("MIN_REQUEST_SPACING", 500*time.Millisecond),
		RedisURL:          getEnv("REDIS_URL", ""),
		Concurrency:       getEnvInt("CONCURRENCY", 5),
		MaxAttempts:       getEnvInt("MAX_ATTEMPTS", 3),
		StorageType:       getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:        getEnv("SQLITE_PATH", "./glbatch.db"),
		PostgresURL:       getEnv("POSTGRES_URL", ""),
		APIPort:           getEnv("API_PORT", "8080"),
		APIHost:           getEnv("API_HOST", "localhost"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogPretty:         getEnvBool("LOG_PRETTY", false),
	}, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ForgeBaseURL == "" {
		return &ConfigError{Field: "FORGE_BASE_URL", Message: "forge API base URL is required"}
	}
	if c.ForgeToken == "" {
		return &ConfigError{Field: "FORGE_TOKEN", Message: "forge API token is required"}
	}
	if c.StorageType != "memory" && c.StorageType != "sqlite" && c.StorageType != "postgres" {
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'memory', 'sqlite' or 'postgres'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	if c.Concurrency < 1 {
		return &ConfigError{Field: "CONCURRENCY", Message: "must be at least 1"}
	}
	if c.MaxAttempts < 1 {
		return &ConfigError{Field: "MAX_ATTEMPTS", Message: "must be at least 1"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
