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
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Typesense TypesenseConfig
	Storage   StorageConfig
	Upload    UploadConfig
	Pipeline  PipelineConfig
	OTEL      OTELConfig
}

// AppConfig holds application identity reported by the health endpoint
type AppConfig struct {
	Name        string
	Version     string
	Environment string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// TypesenseConfig holds Typesense configuration
type TypesenseConfig struct {
	Enabled bool
	URL     string
	APIKey  string
}

// StorageConfig selects where uploaded policy files are kept
type StorageConfig struct {
	Driver    string
	LocalDir  string
	GCSBucket string
	GCSPrefix string
}

// UploadConfig holds upload limits
type UploadConfig struct {
	MaxBytes     int64
	AllowedTypes []string
}

// PipelineConfig holds processing pipeline tuning
type PipelineConfig struct {
	StaleAfter        time.Duration `yaml:"stale_after"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	StageTimeout      time.Duration `yaml:"stage_timeout"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
	AutoAdvance       bool          `yaml:"auto_advance"`
	BackfillWorkers   int           `yaml:"backfill_workers"`
	ConfigFile        string        `yaml:"-"`
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	StorageLocal = "local"
	StorageGCS   = "gcs"
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "CivicLens AI"),
			Version:     getEnv("APP_VERSION", "0.1.0"),
			Environment: getEnv("ENV", "development"),
		},
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8000),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", DriverPostgres),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "civiclens"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Typesense: TypesenseConfig{
			Enabled: getEnvAsBool("TYPESENSE_ENABLED", false),
			URL:     getEnv("TYPESENSE_URL", "http://localhost:8108"),
			APIKey:  getEnv("TYPESENSE_API_KEY", "xyz"),
		},
		Storage: StorageConfig{
			Driver:    getEnv("STORAGE_DRIVER", StorageLocal),
			LocalDir:  getEnv("STORAGE_LOCAL_DIR", "uploads/policies"),
			GCSBucket: getEnv("STORAGE_GCS_BUCKET", ""),
			GCSPrefix: getEnv("STORAGE_GCS_PREFIX", "policies/"),
		},
		Upload: UploadConfig{
			MaxBytes:     int64(getEnvAsInt("UPLOAD_MAX_BYTES", 10*1024*1024)),
			AllowedTypes: getEnvAsList("UPLOAD_ALLOWED_TYPES", []string{"application/pdf"}),
		},
		Pipeline: PipelineConfig{
			StaleAfter:        getEnvAsDuration("PIPELINE_STALE_AFTER", 15*time.Minute),
			ReconcileInterval: getEnvAsDuration("PIPELINE_RECONCILE_INTERVAL", time.Minute),
			StageTimeout:      getEnvAsDuration("PIPELINE_STAGE_TIMEOUT", 2*time.Minute),
			LockTTL:           getEnvAsDuration("PIPELINE_LOCK_TTL", 30*time.Second),
			AutoAdvance:       getEnvAsBool("PIPELINE_AUTO_ADVANCE", false),
			BackfillWorkers:   getEnvAsInt("PIPELINE_BACKFILL_WORKERS", 4),
			ConfigFile:        getEnv("PIPELINE_CONFIG_FILE", ""),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "civiclens-api"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	if cfg.Pipeline.ConfigFile != "" {
		if err := cfg.Pipeline.MergeFile(cfg.Pipeline.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option combinations that cannot work at runtime
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	switch c.Storage.Driver {
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("STORAGE_LOCAL_DIR is required for local storage")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("STORAGE_GCS_BUCKET is required for gcs storage")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}

	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive")
	}
	if c.Pipeline.StaleAfter <= 0 {
		return fmt.Errorf("PIPELINE_STALE_AFTER must be positive")
	}
	if c.Pipeline.StageTimeout <= 0 {
		return fmt.Errorf("PIPELINE_STAGE_TIMEOUT must be positive")
	}
	// an attempt still inside its stage timeout must never be expired as stale
	if c.Pipeline.StaleAfter <= c.Pipeline.StageTimeout {
		return fmt.Errorf("PIPELINE_STALE_AFTER (%s) must be longer than PIPELINE_STAGE_TIMEOUT (%s)",
			c.Pipeline.StaleAfter, c.Pipeline.StageTimeout)
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
