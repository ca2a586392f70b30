// Package config provides configuration management for chatkeep.
// It loads settings from environment variables with the CHATKEEP_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration settings for the chatkeep server.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	Widgets   WidgetConfig
	Jobs      JobsConfig
	Limits    LimitsConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 8787)
	Host string // Server host (default: 0.0.0.0)

	// AuthToken is the shared-secret bearer token. An empty value is a
	// deployment bug: requests are answered with a misconfiguration
	// status rather than unauthorized.
	AuthToken string

	// SessionIdleTTL is how long a session survives without activity.
	SessionIdleTTL time.Duration
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	// Driver selects the record store backend: "postgres" or "sqlite".
	Driver string

	// DatabaseURL is the PostgreSQL connection string, or the database
	// file path when the sqlite driver is selected.
	DatabaseURL string
}

// EmbeddingConfig contains embedding provider configuration.
type EmbeddingConfig struct {
	Provider string        // Embedding provider: openai, ollama (default: openai)
	APIKey   string        // API key for hosted providers
	Model    string        // Embedding model name (provider default when empty)
	BaseURL  string        // Endpoint override (provider default when empty)
	Timeout  time.Duration // Per-request timeout (default: 30s)
}

// WidgetConfig controls the widget/tool catalog.
type WidgetConfig struct {
	// CatalogPath is the YAML widget catalog file (default: ./widgets.yaml).
	CatalogPath string

	// Versions is the set of supported widget version strings.
	Versions []string

	// ActiveVersion is the version exposed in tool listings.
	ActiveVersion string
}

// JobsConfig controls the deferred-save job queue.
type JobsConfig struct {
	Enabled      bool          // Enable the queue and its worker (default: true)
	QueuePath    string        // SQLite queue database path (default: ./data/jobs.db)
	PollInterval time.Duration // Worker idle poll interval (default: 1s)
	MaxAttempts  int           // Attempts before a job is marked failed (default: 3)
}

// LimitsConfig contains quota and throttling settings.
type LimitsConfig struct {
	// MaxRecordsPerOwner caps each owner's stored records; 0 disables.
	MaxRecordsPerOwner int

	// DefaultPageSize and MaxPageSize shape retrieval pagination.
	DefaultPageSize int
	MaxPageSize     int

	// RequestsPerSecond and Burst configure the HTTP rate limiter.
	RequestsPerSecond float64
	Burst             int
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the CHATKEEP_ prefix.
func LoadConfig() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port:           getEnvInt("CHATKEEP_PORT", 8787),
			Host:           getEnv("CHATKEEP_HOST", "0.0.0.0"),
			AuthToken:      getEnv("CHATKEEP_AUTH_TOKEN", ""),
			SessionIdleTTL: getEnvDuration("CHATKEEP_SESSION_IDLE_TTL", 30*time.Minute),
		},
		Storage: StorageConfig{
			Driver:      getEnv("CHATKEEP_STORAGE_DRIVER", "postgres"),
			DatabaseURL: getEnv("CHATKEEP_DATABASE_URL", "postgres://localhost/chatkeep?sslmode=disable"),
		},
		Embedding: EmbeddingConfig{
			Provider: getEnv("CHATKEEP_EMBEDDING_PROVIDER", "openai"),
			APIKey:   getEnv("CHATKEEP_EMBEDDING_API_KEY", ""),
			Model:    getEnv("CHATKEEP_EMBEDDING_MODEL", ""),
			BaseURL:  getEnv("CHATKEEP_EMBEDDING_BASE_URL", ""),
			Timeout:  getEnvDuration("CHATKEEP_EMBEDDING_TIMEOUT", 30*time.Second),
		},
		Widgets: WidgetConfig{
			CatalogPath:   getEnv("CHATKEEP_WIDGET_CATALOG", "./widgets.yaml"),
			Versions:      getEnvList("CHATKEEP_WIDGET_VERSIONS", []string{"1"}),
			ActiveVersion: getEnv("CHATKEEP_WIDGET_ACTIVE_VERSION", ""),
		},
		Jobs: JobsConfig{
			Enabled:      getEnvBool("CHATKEEP_JOBS_ENABLED", true),
			QueuePath:    getEnv("CHATKEEP_JOBS_QUEUE_PATH", "./data/jobs.db"),
			PollInterval: getEnvDuration("CHATKEEP_JOBS_POLL_INTERVAL", time.Second),
			MaxAttempts:  getEnvInt("CHATKEEP_JOBS_MAX_ATTEMPTS", 3),
		},
		Limits: LimitsConfig{
			MaxRecordsPerOwner: getEnvInt("CHATKEEP_MAX_RECORDS_PER_OWNER", 0),
			DefaultPageSize:    getEnvInt("CHATKEEP_DEFAULT_PAGE_SIZE", 10),
			MaxPageSize:        getEnvInt("CHATKEEP_MAX_PAGE_SIZE", 100),
			RequestsPerSecond:  getEnvFloat("CHATKEEP_RATE_LIMIT_RPS", 20),
			Burst:              getEnvInt("CHATKEEP_RATE_LIMIT_BURST", 40),
		},
	}, nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "30s", "5m") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList retrieves a comma-separated environment variable as a slice,
// trimming whitespace and dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
