// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Blob backends.
const (
	BlobBackendMemory = "memory"
	BlobBackendGCS    = "gcs"
	BlobBackendS3     = "s3"
)

// Config is the full service configuration.
type Config struct {
	Service   ServiceConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Blob      BlobConfig
	NATS      NATSConfig
	Checklist ChecklistConfig
	Auth      AuthConfig
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
	LogLevel    string
}

type ServerConfig struct {
	Port            int
	GRPCPort        int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

type DatabaseConfig struct {
	Backend     string
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
	AutoMigrate bool
}

type BlobConfig struct {
	Backend  string
	Bucket   string
	Region   string
	Endpoint string
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

type ChecklistConfig struct {
	TemplatesPath string
}

// AuthConfig controls how the actor is resolved from inbound requests.
// TrustHeaders accepts X-User-ID / X-User-Roles without a bearer token (local development only).
type AuthConfig struct {
	TrustHeaders bool
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        getEnv("SERVICE_NAME", "re-case-workflow"),
			Version:     getEnv("SERVICE_VERSION", "dev"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port:            getEnvInt("HTTP_PORT", 8080),
			GRPCPort:        getEnvInt("GRPC_PORT", 9090),
			ReadTimeout:     getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:     getEnvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 20*time.Second),
			RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Backend:     strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", ""),
			Database:    getEnv("DB_NAME", "re_case_workflow"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			MaxConns:    int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns:    int32(getEnvInt("DB_MIN_CONNS", 1)),
			MaxConnTime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxIdleTime: getEnvDuration("DB_MAX_CONN_IDLE", 30*time.Minute),
			HealthCheck: getEnvDuration("DB_HEALTH_CHECK", time.Minute),
			AutoMigrate: getEnvBool("DB_AUTO_MIGRATE", false),
		},
		Blob: BlobConfig{
			Backend:  strings.ToLower(getEnv("BLOB_BACKEND", BlobBackendMemory)),
			Bucket:   getEnv("BLOB_BUCKET", ""),
			Region:   getEnv("AWS_REGION", "us-east-1"),
			Endpoint: getEnv("AWS_ENDPOINT_URL", ""),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "reinsurance.workflow"),
		},
		Checklist: ChecklistConfig{
			TemplatesPath: getEnv("CHECKLIST_TEMPLATES_PATH", ""),
		},
		Auth: AuthConfig{
			TrustHeaders: getEnvBool("DEV_TRUST_HEADERS", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid HTTP_PORT %d", c.Server.Port)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("config: invalid GRPC_PORT %d", c.Server.GRPCPort)
	}
	switch c.Database.Backend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.Database.Backend)
	}
	switch c.Blob.Backend {
	case BlobBackendMemory:
	case BlobBackendGCS, BlobBackendS3:
		if c.Blob.Bucket == "" {
			return fmt.Errorf("config: BLOB_BUCKET is required for blob backend %q", c.Blob.Backend)
		}
	default:
		return fmt.Errorf("config: unknown BLOB_BACKEND %q", c.Blob.Backend)
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("config: DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as int or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseBool(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}
