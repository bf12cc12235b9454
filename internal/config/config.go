// Package config provides configuration management for ClaimBridge.
// It loads settings from environment variables with the CLAIMBRIDGE_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration settings for the ClaimBridge application.
type Config struct {
	Storage   StorageConfig
	Transport TransportConfig
	Identity  IdentityConfig
	Limits    LimitsConfig
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	Engine      string // Storage engine: sqlite, postgres (default: sqlite)
	DataPath    string // Path to the sqlite data directory (default: ./data)
	PostgresDSN string // Postgres connection string (required when Engine is postgres)
}

// TransportConfig selects how the MCP server is exposed.
type TransportConfig struct {
	Mode   string // Transport mode: stdio, websocket (default: stdio)
	WSAddr string // Listen address for the websocket transport (default: 127.0.0.1:6565)
}

// IdentityConfig contains the request identity stamped onto tool calls.
type IdentityConfig struct {
	User   string // User name recorded in createdBy/modifiedBy (default: system)
	Tenant string // Tenant identifier (default: default)
	Locale string // Locale tag (default: de)
}

// LimitsConfig contains throttling and cache sizing.
type LimitsConfig struct {
	CacheCapacity  int     // Draft key cache capacity per entity (default: 128)
	RatePerSecond  float64 // Sustained tool-call rate; 0 disables throttling (default: 0)
	RateBurst      int     // Burst size for the rate limiter (default: 10)
	BreakerEnabled bool    // Wrap the store in a circuit breaker (default: true for postgres)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the CLAIMBRIDGE_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			Engine:      getEnv("CLAIMBRIDGE_STORAGE_ENGINE", "sqlite"),
			DataPath:    getEnv("CLAIMBRIDGE_DATA_PATH", "./data"),
			PostgresDSN: getEnv("CLAIMBRIDGE_POSTGRES_DSN", ""),
		},
		Transport: TransportConfig{
			Mode:   getEnv("CLAIMBRIDGE_TRANSPORT", "stdio"),
			WSAddr: getEnv("CLAIMBRIDGE_WS_ADDR", "127.0.0.1:6565"),
		},
		Identity: IdentityConfig{
			User:   getEnv("CLAIMBRIDGE_USER", "system"),
			Tenant: getEnv("CLAIMBRIDGE_TENANT", "default"),
			Locale: getEnv("CLAIMBRIDGE_LOCALE", "de"),
		},
		Limits: LimitsConfig{
			CacheCapacity: getEnvInt("CLAIMBRIDGE_CACHE_CAPACITY", 128),
			RatePerSecond: getEnvFloat("CLAIMBRIDGE_RATE_PER_SECOND", 0),
			RateBurst:     getEnvInt("CLAIMBRIDGE_RATE_BURST", 10),
		},
	}
	cfg.Limits.BreakerEnabled = getEnvBool("CLAIMBRIDGE_BREAKER_ENABLED", cfg.Storage.Engine == "postgres")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that env parsing cannot catch.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage engine %q (want sqlite or postgres)", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: CLAIMBRIDGE_POSTGRES_DSN is required when the storage engine is postgres")
	}
	switch c.Transport.Mode {
	case "stdio", "websocket":
	default:
		return fmt.Errorf("config: unknown transport %q (want stdio or websocket)", c.Transport.Mode)
	}
	if c.Limits.CacheCapacity <= 0 {
		return fmt.Errorf("config: cache capacity must be positive, got %d", c.Limits.CacheCapacity)
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. Accepts the forms understood by strconv.ParseBool.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
