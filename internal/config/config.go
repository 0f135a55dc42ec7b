// Package config provides configuration loading and management for the FishNet vault service.
// It handles environment variable parsing and provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// In development, it loads .env and .env.local files if they exist.
// In production, it relies solely on system environment variables.
// godotenv.Load() does not override already-set variables, preserving
// OS env > .env precedence.
func init() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the vault service.
type Config struct {
	Env         string // Deployment environment (dev, staging, prod)
	Port        string // HTTP server port
	DatabaseDSN string // PostgreSQL connection string; empty selects in-memory storage
	NATSURL     string // NATS server URL for event mirroring (optional)

	// Cache gateway
	UpstreamURL   string        // Origin the cache gateway fronts (assets and remote API)
	CacheVersion  string        // Version tag baked into bucket names
	ShellAssets   []string      // Shell asset paths pre-populated into the static bucket
	ShellEntry    string        // Cached entry point served to offline navigations
	Placeholder   string        // Cached placeholder served to offline image requests
	RedisAddr     string        // Redis address for the bucket store (optional)
	RedisPassword string        // Redis password
	RedisDB       int           // Redis database number
	DynamicTTL    time.Duration // Expiry for dynamic bucket entries in Redis

	// Sync reconciler
	SyncDebounce    time.Duration // Delay between coming online and starting a sync
	SyncPollEvery   time.Duration // Pending-count recompute interval
	SyncFailureRate float64       // Simulated remote per-item failure probability
	SyncMinDelay    time.Duration // Simulated remote minimum push latency
	SyncMaxDelay    time.Duration // Simulated remote maximum push latency

	// Photo offload (optional, S3-compatible)
	S3Endpoint  string // S3-compatible storage endpoint
	S3Region    string // S3 region
	S3Bucket    string // S3 bucket name
	S3AccessKey string // S3 access key
	S3SecretKey string // S3 secret key

	// Classifier
	ClassifierURL string // Species classifier endpoint; empty selects the stub

	// Auth (optional; empty issuer disables JWT checks)
	JWTIssuer   string // Expected issuer for JWT validation
	JWTAudience string // Expected audience for JWT validation

	// Image limits
	MaxImageSize      int64    // Maximum inline image payload in bytes
	AllowedImageTypes []string // Accepted data-URI media types

	// CORS configuration
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// Default configuration values used when environment variables are not set.
const (
	defaultPort         = "8080"
	defaultEnv          = "dev"
	defaultS3Region     = "us-east-1"
	defaultCacheVersion = "v1"
	defaultShellEntry   = "/index.html"
	defaultPlaceholder  = "/placeholder.svg"
)

// defaultShellAssets is the build-time manifest cached at install time.
var defaultShellAssets = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/favicon.ico",
	"/placeholder.svg",
	"/models/species.json",
	"/models/model.tflite",
}

// Load reads environment variables and produces a Config suitable for wiring the service.
// It handles both required and optional configuration parameters, providing defaults
// where appropriate.
func Load() (Config, error) {
	cfg := Config{
		Env:           getEnv("FISHNET_ENV", defaultEnv),
		Port:          getEnv("FISHNET_PORT", defaultPort),
		DatabaseDSN:   os.Getenv("FISHNET_DB_DSN"),
		NATSURL:       os.Getenv("FISHNET_NATS_URL"),
		UpstreamURL:   os.Getenv("FISHNET_UPSTREAM_URL"),
		CacheVersion:  getEnv("FISHNET_CACHE_VERSION", defaultCacheVersion),
		ShellEntry:    getEnv("FISHNET_SHELL_ENTRY", defaultShellEntry),
		Placeholder:   getEnv("FISHNET_PLACEHOLDER", defaultPlaceholder),
		RedisAddr:     os.Getenv("FISHNET_REDIS_ADDR"),
		RedisPassword: os.Getenv("FISHNET_REDIS_PASSWORD"),
		S3Endpoint:    os.Getenv("FISHNET_S3_ENDPOINT"),
		S3Region:      getEnv("FISHNET_S3_REGION", defaultS3Region),
		S3Bucket:      os.Getenv("FISHNET_S3_BUCKET"),
		S3AccessKey:   os.Getenv("FISHNET_S3_ACCESS_KEY"),
		S3SecretKey:   os.Getenv("FISHNET_S3_SECRET_KEY"),
		ClassifierURL: os.Getenv("FISHNET_CLASSIFIER_URL"),
		JWTIssuer:     os.Getenv("FISHNET_JWT_ISSUER"),
		JWTAudience:   os.Getenv("FISHNET_JWT_AUDIENCE"),
	}

	if assets, exists := os.LookupEnv("FISHNET_SHELL_ASSETS"); exists {
		cfg.ShellAssets = splitAndTrim(assets)
	} else {
		cfg.ShellAssets = append([]string(nil), defaultShellAssets...)
	}

	cfg.RedisDB = parseInt(getEnv("FISHNET_REDIS_DB", "0"), 0)
	cfg.DynamicTTL = parseDuration(getEnv("FISHNET_DYNAMIC_TTL", "24h"), 24*time.Hour)

	cfg.SyncDebounce = parseDuration(getEnv("FISHNET_SYNC_DEBOUNCE", "2s"), 2*time.Second)
	cfg.SyncPollEvery = parseDuration(getEnv("FISHNET_SYNC_POLL_EVERY", "5s"), 5*time.Second)
	cfg.SyncFailureRate = parseFloat(getEnv("FISHNET_SYNC_FAILURE_RATE", "0.1"), 0.1)
	cfg.SyncMinDelay = parseDuration(getEnv("FISHNET_SYNC_MIN_DELAY", "500ms"), 500*time.Millisecond)
	cfg.SyncMaxDelay = parseDuration(getEnv("FISHNET_SYNC_MAX_DELAY", "1500ms"), 1500*time.Millisecond)

	if maxImageSize, exists := os.LookupEnv("FISHNET_MAX_IMAGE_SIZE"); exists {
		if size, err := strconv.ParseInt(maxImageSize, 10, 64); err == nil {
			cfg.MaxImageSize = size
		}
	} else {
		// Default to 10MB
		cfg.MaxImageSize = 10 * 1024 * 1024
	}

	if allowedTypes, exists := os.LookupEnv("FISHNET_ALLOWED_IMAGE_TYPES"); exists {
		cfg.AllowedImageTypes = splitAndTrim(allowedTypes)
	} else {
		cfg.AllowedImageTypes = []string{"image/jpeg", "image/png", "image/webp"}
	}

	if corsOrigins, exists := os.LookupEnv("FISHNET_CORS_ALLOWED_ORIGINS"); exists {
		cfg.CORSAllowedOrigins = splitAndTrim(corsOrigins)
	}

	// JWT settings are optional, but issuer and audience must be set together.
	if (cfg.JWTIssuer == "") != (cfg.JWTAudience == "") {
		return cfg, fmt.Errorf("FISHNET_JWT_ISSUER and FISHNET_JWT_AUDIENCE must be set together")
	}

	if cfg.SyncFailureRate < 0 || cfg.SyncFailureRate > 1 {
		return cfg, fmt.Errorf("FISHNET_SYNC_FAILURE_RATE must be within [0,1]")
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty.
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

// splitAndTrim splits a comma-separated value and trims whitespace from each item.
func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// parseInt converts a string to an int, returning a fallback if parsing fails.
func parseInt(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// parseFloat converts a string to a float64, returning a fallback if parsing fails.
func parseFloat(v string, fallback float64) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// parseDuration converts a string to a time.Duration, returning a fallback if parsing fails.
func parseDuration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
