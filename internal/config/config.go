package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Fallback store backends
const (
	FallbackStoreFile     = "file"
	FallbackStoreRedis    = "redis"
	FallbackStorePostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Tour backend REST API
	Backend BackendConfig

	// Checkout script (Midtrans Snap)
	Checkout CheckoutConfig

	// Status polling configuration
	Polling PollingConfig

	// Last-booking fallback snapshot
	Fallback FallbackConfig

	// Database configuration (postgres snapshot storage + payment audit)
	Database DatabaseConfig

	// Redis configuration (redis snapshot storage)
	Redis RedisConfig

	// Share link tokens
	Share ShareConfig

	// CORS configuration
	CORS CORSConfig

	// Provisional snapshot reconciliation job
	Reconcile ReconcileConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port          string
	Environment   string // development, staging, production
	LogLevel      string // debug, info, warn, error
	PublicBaseURL string // base URL of the booking pages, used for share links
}

// BackendConfig holds the tour backend API configuration
type BackendConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// CheckoutConfig holds the payment checkout script configuration
type CheckoutConfig struct {
	ScriptURL   string // e.g. https://app.sandbox.midtrans.com/snap/snap.js
	ClientKey   string // public client key, safe to expose to the browser
	LoadTimeout time.Duration
}

// PollingConfig holds status reconciler configuration
type PollingConfig struct {
	Interval           time.Duration // basic polling interval
	EnhancedInterval   time.Duration // interval when the webhook marker is trusted
	MaxBackoff         time.Duration
	MaxFailures        int
	TrustWebhookMarker bool
}

// FallbackConfig holds booking snapshot configuration
type FallbackConfig struct {
	Store    string // file, redis, postgres
	FilePath string
	Capacity int // snapshots kept before the least recently used is evicted
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	Driver             string // postgres (lib/pq) or pgx
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// RedisConfig holds redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ShareConfig holds share link token configuration
type ShareConfig struct {
	Secret string
	Expiry time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// ReconcileConfig holds the provisional reconciliation job configuration
type ReconcileConfig struct {
	Enabled  bool
	Schedule string
}

// IsDevelopment reports whether dev-only behavior (simulated payments) is allowed
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:          getEnv("PORT", "8080"),
			Environment:   getEnv("ENVIRONMENT", "development"),
			LogLevel:      getEnv("LOG_LEVEL", "info"),
			PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:3000"),
		},
		Backend: BackendConfig{
			BaseURL:  strings.TrimRight(getEnv("BACKEND_API_URL", "http://localhost:5000"), "/"),
			APIToken: getEnv("BACKEND_API_TOKEN", ""),
			Timeout:  time.Duration(getEnvAsInt("BACKEND_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Checkout: CheckoutConfig{
			ScriptURL:   getEnv("MIDTRANS_SCRIPT_URL", "https://app.sandbox.midtrans.com/snap/snap.js"),
			ClientKey:   getEnv("MIDTRANS_CLIENT_KEY", ""),
			LoadTimeout: time.Duration(getEnvAsInt("MIDTRANS_SCRIPT_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Polling: PollingConfig{
			Interval:           time.Duration(getEnvAsInt("POLL_INTERVAL_SECONDS", 5)) * time.Second,
			EnhancedInterval:   time.Duration(getEnvAsInt("ENHANCED_POLL_INTERVAL_SECONDS", 10)) * time.Second,
			MaxBackoff:         time.Duration(getEnvAsInt("POLL_MAX_BACKOFF_SECONDS", 60)) * time.Second,
			MaxFailures:        getEnvAsInt("POLL_MAX_FAILURES", 6),
			TrustWebhookMarker: getEnvAsBool("POLL_TRUST_WEBHOOK_MARKER", true),
		},
		Fallback: FallbackConfig{
			Store:    getEnv("FALLBACK_STORE", FallbackStoreFile),
			FilePath: getEnv("FALLBACK_FILE_PATH", "data/booking_snapshots.json"),
			Capacity: getEnvAsInt("FALLBACK_CAPACITY", 100),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			Driver:             getEnv("DATABASE_DRIVER", "postgres"),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Share: ShareConfig{
			Secret: getEnv("SHARE_TOKEN_SECRET", ""),
			Expiry: time.Duration(getEnvAsInt("SHARE_TOKEN_EXPIRY_HOURS", 72)) * time.Hour,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Reconcile: ReconcileConfig{
			Enabled:  getEnvAsBool("RECONCILE_ENABLED", true),
			Schedule: getEnv("RECONCILE_SCHEDULE", "@every 1m"),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_API_URL is required")
	}

	if c.Share.Secret == "" {
		return fmt.Errorf("SHARE_TOKEN_SECRET is required")
	}

	if c.Polling.Interval <= 0 || c.Polling.EnhancedInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}

	if c.Polling.MaxFailures < 1 {
		return fmt.Errorf("POLL_MAX_FAILURES must be at least 1")
	}

	switch c.Fallback.Store {
	case FallbackStoreFile:
		if c.Fallback.FilePath == "" {
			return fmt.Errorf("FALLBACK_FILE_PATH is required for the file fallback store")
		}
	case FallbackStoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis fallback store")
		}
	case FallbackStorePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres fallback store")
		}
	default:
		return fmt.Errorf("invalid FALLBACK_STORE: %s (must be 'file', 'redis' or 'postgres')", c.Fallback.Store)
	}

	if c.Fallback.Capacity < 1 {
		return fmt.Errorf("FALLBACK_CAPACITY must be at least 1")
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
		return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be 'postgres' or 'pgx')", c.Database.Driver)
	}

	// A production deployment without the script key can only fail payments
	if c.Server.Environment == "production" && c.Checkout.ClientKey == "" {
		return fmt.Errorf("MIDTRANS_CLIENT_KEY is required in production")
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
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
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
