// Package config loads the agent configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Camera backends understood by the agent.
const (
	CameraBackendNone = "none"
	CameraBackendMock = "mock"
	CameraBackendGoCV = "gocv"
)

// Database drivers understood by the submission log.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// Config holds every tunable of the agent.
type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
	LogLevel        string
	MaxUploadBytes  int64

	APIBaseURL string
	APITimeout time.Duration

	DatabaseDriver string
	DatabaseDSN    string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	CameraBackend           string
	CameraUserDevice        int
	CameraEnvironmentDevice int
	CameraProbeLimit        int
}

// Load reads configuration from the environment. A .env file in the working
// directory is honoured when present; variables already set win over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		MaxUploadBytes:  int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),

		APIBaseURL: strings.TrimSuffix(getEnv("API_BASE_URL", "http://localhost:8001"), "/"),
		APITimeout: getEnvDuration("API_TIMEOUT", 30*time.Second),

		DatabaseDriver: getEnv("DATABASE_DRIVER", DatabaseDriverSQLite),
		DatabaseDSN:    getEnv("DATABASE_DSN", "leaf-check.db"),

		RedisAddr:      getEnvAllowEmpty("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "leaf-check:"),

		CameraBackend:           getEnv("CAMERA_BACKEND", CameraBackendNone),
		CameraUserDevice:        getEnvInt("CAMERA_USER_DEVICE", 0),
		CameraEnvironmentDevice: getEnvInt("CAMERA_ENVIRONMENT_DEVICE", 1),
		CameraProbeLimit:        getEnvInt("CAMERA_PROBE_LIMIT", 4),
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// Validate checks value ranges. Returns a list of problems, or nil if valid.
func (c *Config) Validate() []string {
	var problems []string

	if c.ListenAddr == "" {
		problems = append(problems, "LISTEN_ADDR must not be empty")
	}
	if c.APIBaseURL == "" {
		problems = append(problems, "API_BASE_URL must not be empty")
	}
	if c.APITimeout <= 0 {
		problems = append(problems, "API_TIMEOUT must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		problems = append(problems, "SHUTDOWN_TIMEOUT must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		problems = append(problems, "MAX_UPLOAD_BYTES must be positive")
	}

	switch c.DatabaseDriver {
	case DatabaseDriverSQLite, DatabaseDriverPostgres:
	default:
		problems = append(problems, "DATABASE_DRIVER must be sqlite or postgres")
	}
	if c.DatabaseDSN == "" {
		problems = append(problems, "DATABASE_DSN must not be empty")
	}

	switch c.CameraBackend {
	case CameraBackendNone, CameraBackendMock, CameraBackendGoCV:
	default:
		problems = append(problems, "CAMERA_BACKEND must be none, mock or gocv")
	}
	if c.CameraUserDevice < 0 || c.CameraEnvironmentDevice < 0 {
		problems = append(problems, "camera device indexes must not be negative")
	}
	if c.CameraProbeLimit < 1 {
		problems = append(problems, "CAMERA_PROBE_LIMIT must be at least 1")
	}

	return problems
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvAllowEmpty keeps a value that is set but empty.
func getEnvAllowEmpty(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
