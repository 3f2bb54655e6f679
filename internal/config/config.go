package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Backend selection values
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
	BackendAuto   = "auto"
)

// Config holds the memory subsystem configuration
type Config struct {
	// Retention
	MaxMemoriesPerUser int // hard cap per user; most recent kept on overflow
	TTLDays            int // retention window; older memories excluded from reads

	// Feature flags
	AutoExtractEnabled      bool
	ExplicitCommandsEnabled bool

	// Backend selection: "local", "remote" or "auto"
	Backend string

	// Local filesystem backend
	BasePath string

	// Remote blob backend
	BlobEndpoint  string
	BlobAccessKey string
	BlobSecretKey string
	BlobBucket    string
	BlobPrefix    string
	BlobUseSSL    bool

	// Set when running on a managed platform; auto-detection only picks the
	// remote backend when this marker and blob credentials are both present
	PlatformManaged bool
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		MaxMemoriesPerUser: getIntEnv("MEMORY_MAX_PER_USER", 1000),
		TTLDays:            getIntEnv("MEMORY_TTL_DAYS", 30),

		AutoExtractEnabled:      getBoolEnv("MEMORY_AUTO_EXTRACT", true),
		ExplicitCommandsEnabled: getBoolEnv("MEMORY_EXPLICIT_COMMANDS", true),

		Backend: getEnv("MEMORY_BACKEND", BackendAuto),

		BasePath: getEnv("MEMORY_BASE_PATH", "./memory_data"),

		BlobEndpoint:  getEnv("BLOB_ENDPOINT", ""),
		BlobAccessKey: getEnv("BLOB_ACCESS_KEY", ""),
		BlobSecretKey: getEnv("BLOB_SECRET_KEY", ""),
		BlobBucket:    getEnv("BLOB_BUCKET", "memories"),
		BlobPrefix:    getEnv("BLOB_PREFIX", "memories"),
		BlobUseSSL:    getBoolEnv("BLOB_USE_SSL", true),

		PlatformManaged: getBoolEnv("PLATFORM_MANAGED", false),
	}
}

// LoadDotEnv loads a .env file if one exists. Missing file is not an error.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	}
}

// ResolveBackend returns the concrete backend name for this config.
// "auto" picks remote only when blob credentials and the platform marker
// are both present; everything else falls back to local.
func (c *Config) ResolveBackend() string {
	switch c.Backend {
	case BackendLocal, BackendRemote:
		return c.Backend
	default:
		if c.BlobAccessKey != "" && c.PlatformManaged {
			return BackendRemote
		}
		return BackendLocal
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
