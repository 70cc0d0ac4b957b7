package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Ingest        IngestConfig
	Codex         CodexConfig
	Observability ObservabilityConfig
	Storage       StorageConfig
	Scheduler     SchedulerConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	RateLimitPerSecond int
	RateLimitBurst     int
	CORSOrigins        []string
	MaxUploadBytes     int64
	LogLevel           string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type IngestConfig struct {
	AutoConfirmThreshold int
	TaxRate              float64
	ImportTimeout        time.Duration
	Workers              int
	PreviewRows          int
}

type CodexConfig struct {
	MasterKey string // base64, at least 32 bytes decoded
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
}

type StorageConfig struct {
	LocalPath string // empty disables upload archiving
}

type SchedulerConfig struct {
	RefreshSpec string // "off" disables the pattern refresh job
}

// Load reads configuration from environment variables, after an optional .env file
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "localhost"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			RateLimitPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", 100),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 200),
			CORSOrigins:        getEnvAsList("SERVER_CORS_ORIGINS", []string{"*"}),
			MaxUploadBytes:     int64(getEnvAsInt("SERVER_MAX_UPLOAD_BYTES", 20<<20)),
			LogLevel:           getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", ""),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "ledger"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Ingest: IngestConfig{
			AutoConfirmThreshold: getEnvAsInt("INGEST_AUTO_CONFIRM_THRESHOLD", 85),
			TaxRate:              getEnvAsFloat("INGEST_TAX_RATE", 0.15),
			ImportTimeout:        getEnvAsDuration("INGEST_TIMEOUT", 2*time.Minute),
			Workers:              getEnvAsInt("INGEST_WORKERS", 8),
			PreviewRows:          getEnvAsInt("INGEST_PREVIEW_ROWS", 10),
		},
		Codex: CodexConfig{
			MasterKey: getEnv("CODEX_MASTER_KEY", ""),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
		Storage: StorageConfig{
			LocalPath: getEnv("STORAGE_LOCAL_PATH", "./uploads"),
		},
		Scheduler: SchedulerConfig{
			RefreshSpec: getEnv("SCHEDULER_REFRESH_SPEC", "*/15 * * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements
func (c *Config) Validate() error {
	if c.Ingest.AutoConfirmThreshold < 0 || c.Ingest.AutoConfirmThreshold > 100 {
		return fmt.Errorf("INGEST_AUTO_CONFIRM_THRESHOLD must be within 0..100, got %d", c.Ingest.AutoConfirmThreshold)
	}
	if c.Ingest.TaxRate < 0 || c.Ingest.TaxRate >= 1 {
		return fmt.Errorf("INGEST_TAX_RATE must be within [0, 1), got %v", c.Ingest.TaxRate)
	}
	if c.Database.Enabled() && c.Codex.MasterKey == "" {
		return errors.New("CODEX_MASTER_KEY is required when a database is configured")
	}
	return nil
}

// Enabled reports whether a PostgreSQL database is configured. Without one
// the service runs on the in-memory store.
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
