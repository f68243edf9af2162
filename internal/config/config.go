// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Backends accepted in STORE_BACKEND.
const (
	BackendHTTP = "http"
	BackendS3   = "s3"
)

// Config holds the workspace client configuration.
type Config struct {
	// Backend
	ServerURL      string
	Token          string
	StoreBackend   string
	RequestTimeout time.Duration // wait for response headers only
	ReadRetries    int           // extra attempts for idempotent reads

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics (empty disables the endpoint)
	MetricsAddr string

	// Local state (last active context per principal)
	StateDBPath string

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool
	S3Principal string

	// OIDC (optional)
	OIDCIssuerURL string
	OIDCClientID  string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ServerURL:      envOr("WORKSPACE_SERVER_URL", "http://localhost:8080"),
		Token:          envOr("WORKSPACE_TOKEN", ""),
		StoreBackend:   envOr("STORE_BACKEND", BackendHTTP),
		RequestTimeout: envDuration("REQUEST_TIMEOUT", 30*time.Second),
		ReadRetries:    envInt("READ_RETRIES", 1),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFormat:      envOr("LOG_FORMAT", "console"),
		MetricsAddr:    envOr("METRICS_ADDR", ""),
		StateDBPath:    envOr("STATE_DB_PATH", defaultStatePath()),
		S3Endpoint:     envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:       envOr("S3_BUCKET", "fruitsalade"),
		S3AccessKey:    envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:    envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:       envOr("S3_REGION", "us-east-1"),
		S3UseSSL:       envBool("S3_USE_SSL", false),
		S3Principal:    envOr("S3_PRINCIPAL", ""),
		OIDCIssuerURL:  envOr("OIDC_ISSUER_URL", ""),
		OIDCClientID:   envOr("OIDC_CLIENT_ID", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendHTTP:
		if c.ServerURL == "" {
			return fmt.Errorf("WORKSPACE_SERVER_URL is required for the http backend")
		}
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (want %q or %q)", c.StoreBackend, BackendHTTP, BackendS3)
	}
	if c.OIDCIssuerURL != "" && c.OIDCClientID == "" {
		return fmt.Errorf("OIDC_CLIENT_ID is required when OIDC_ISSUER_URL is set")
	}
	if c.ReadRetries < 0 {
		return fmt.Errorf("READ_RETRIES must not be negative")
	}
	return nil
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "workspace-state.db"
	}
	return filepath.Join(dir, "fruitsalade", "workspace-state.db")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
