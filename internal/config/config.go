package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Gateway  GatewayConfig
	Webhook  WebhookConfig
	Billing  BillingConfig
	Secrets  SecretsConfig
	Logger   LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int
	Host        string
	MetricsPort int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// GatewayConfig holds payment gateway configuration. APISecretPath is a
// secret-manager path, not the secret itself; the value is resolved at
// startup through the secrets adapter.
type GatewayConfig struct {
	BaseURL       string
	APISecretPath string
	Timeout       int // request timeout in seconds
}

// WebhookConfig holds webhook verification configuration
type WebhookConfig struct {
	SecretPath string
}

// BillingConfig holds the billing runner configuration
type BillingConfig struct {
	// Schedule is a cron expression; the default fires hourly
	Schedule string
	Enabled  bool
}

// SecretsConfig selects the secret manager backend
type SecretsConfig struct {
	Backend   string // "env" or "aws"
	AWSRegion string
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvAsInt("SERVER_PORT", 8080),
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			MetricsPort: getEnvAsInt("METRICS_PORT", 9090),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "billing_service"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Gateway: GatewayConfig{
			BaseURL:       getEnv("PORTONE_BASE_URL", "https://api.portone.io"),
			APISecretPath: getEnv("PORTONE_API_SECRET_PATH", "billing-service/gateway/api-secret"),
			Timeout:       getEnvAsInt("PORTONE_TIMEOUT", 30),
		},
		Webhook: WebhookConfig{
			SecretPath: getEnv("WEBHOOK_SECRET_PATH", "billing-service/webhook/secret"),
		},
		Billing: BillingConfig{
			Schedule: getEnv("BILLING_CRON_SCHEDULE", "0 * * * *"),
			Enabled:  getEnvAsBool("BILLING_RUNNER_ENABLED", true),
		},
		Secrets: SecretsConfig{
			Backend:   getEnv("SECRETS_BACKEND", "env"),
			AWSRegion: getEnv("AWS_REGION", "us-east-1"),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	// Validate required fields
	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Gateway.BaseURL == "" {
		return nil, fmt.Errorf("PORTONE_BASE_URL is required")
	}
	if cfg.Secrets.Backend != "env" && cfg.Secrets.Backend != "aws" {
		return nil, fmt.Errorf("SECRETS_BACKEND must be env or aws, got %q", cfg.Secrets.Backend)
	}

	return cfg, nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

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
