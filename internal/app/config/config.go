// Package config loads environment-driven configuration, following the
// same getEnv/getIntEnv/getBoolEnv and godotenv.Load pattern the rest of
// the stack uses.
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

// Environment is the deployment mode, gating production-only validation.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds every environment-driven setting the application needs to
// boot: database connectivity, PP OAuth/webhook credentials, token
// encryption, the authentication provider's secret, and HTTP listen
// address.
type Config struct {
	Env Environment

	Addr        string
	DatabaseURL string

	// PublicBaseURL is the externally reachable root used in tracking
	// links embedded in outbound email.
	PublicBaseURL string

	// JanitorSchedule optionally pins janitor sweeps to a cron expression
	// instead of the fixed 10-minute interval.
	JanitorSchedule string

	// Authentication provider
	AuthJWTSecret   string
	AuthJWTAudience string

	// PP (payment provider) OAuth + webhooks
	PPAPIBaseURL      string
	PPAuthorizeURL    string
	PPClientID        string
	PPClientSecret    string
	PPRedirectURL     string
	PPWebhookSecret   string
	PPPlatformAPIKey  string

	// Email gateway
	EmailGatewayURL string
	EmailGatewayKey string

	// Security
	EncryptionKey string // 64 hex chars, decoded by app/crypto.ParseEncryptionKey
	SessionSecret string // HMAC-SHA256 key for tracking-link signatures
	AdminKey      string // shared secret gating DELETE /admin/merchants/:id
	WorkerSecret  string // shared secret gating /worker/* endpoints

	// Optional distributed rate limiting
	RedisURL string

	// CORS + logging
	CORSOrigins []string
	LogLevel    string
	LogFormat   string

	MetricsEnabled bool
}

// Load reads APP_ENV (defaulting to development), loads a matching .env
// file when present, then populates Config from the process environment.
func Load() (*Config, error) {
	envStr := os.Getenv("APP_ENV")
	if envStr == "" {
		envStr = string(Development)
	}
	env := Environment(envStr)
	if env != Development && env != Testing && env != Production {
		return nil, fmt.Errorf("config: invalid APP_ENV %q (must be development, testing, or production)", envStr)
	}

	envFile := fmt.Sprintf(".env.%s", env)
	if err := godotenv.Load(envFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("config: warning: could not load %s: %v\n", envFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.Addr = getEnv("ADDR", ":8080")
	c.DatabaseURL = getEnv("DATABASE_URL", "")
	c.PublicBaseURL = getEnv("PUBLIC_BASE_URL", "http://localhost:8080")
	c.JanitorSchedule = getEnv("JANITOR_SCHEDULE", "")

	c.AuthJWTSecret = getEnv("AUTH_JWT_SECRET", "")
	c.AuthJWTAudience = getEnv("AUTH_JWT_AUDIENCE", "")

	c.PPAPIBaseURL = getEnv("PP_API_BASE_URL", "https://api.pp.example.com")
	c.PPAuthorizeURL = getEnv("PP_AUTHORIZE_URL", "https://connect.pp.example.com/oauth/authorize")
	c.PPClientID = getEnv("PP_CLIENT_ID", "")
	c.PPClientSecret = getEnv("PP_CLIENT_SECRET", "")
	c.PPRedirectURL = getEnv("PP_REDIRECT_URL", "")
	c.PPWebhookSecret = getEnv("PP_WEBHOOK_SECRET", "")
	c.PPPlatformAPIKey = getEnv("PP_PLATFORM_API_KEY", "")

	c.EmailGatewayURL = getEnv("EMAIL_GATEWAY_URL", "")
	c.EmailGatewayKey = getEnv("EMAIL_GATEWAY_KEY", "")

	c.EncryptionKey = getEnv("ENCRYPTION_KEY", "")
	c.SessionSecret = getEnv("SESSION_SECRET", "")
	c.AdminKey = getEnv("ADMIN_KEY", "")
	c.WorkerSecret = getEnv("WORKER_SECRET", "")

	c.RedisURL = getEnv("REDIS_URL", "")

	c.CORSOrigins = strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ",")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")
	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", true)

	return nil
}

func (c *Config) IsDevelopment() bool { return c.Env == Development }
func (c *Config) IsProduction() bool  { return c.Env == Production }

// Validate enforces what production refuses to boot without:
// a missing encryption key, webhook secret, or auth secret must not start
// the process silently insecure.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required in production")
		}
		if c.EncryptionKey == "" {
			return fmt.Errorf("config: ENCRYPTION_KEY is required in production")
		}
		if c.PPWebhookSecret == "" {
			return fmt.Errorf("config: PP_WEBHOOK_SECRET is required in production")
		}
		if c.AuthJWTSecret == "" {
			return fmt.Errorf("config: AUTH_JWT_SECRET is required in production")
		}
		if c.AdminKey == "" {
			return fmt.Errorf("config: ADMIN_KEY is required in production")
		}
		if c.WorkerSecret == "" {
			return fmt.Errorf("config: WORKER_SECRET is required in production")
		}
	}
	return nil
}

// ShutdownTimeout bounds how long the process waits for in-flight worker
// iterations and HTTP requests to finish on SIGINT/SIGTERM.
const ShutdownTimeout = 20 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
