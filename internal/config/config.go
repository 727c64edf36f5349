// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	APIHost string
	APIPort int

	DataCacheDir string // Per-symbol market data cache (always absolute)
	LogDir       string // Optional log file directory ("" = stdout only)
	LogLevel     string

	MaxExecutionTime       int // Seconds the sandbox child may run one backtest
	MaxRequestTime         int // Seconds for a whole HTTP request, sync endpoint included
	MaxConcurrentBacktests int // Orchestrator semaphore width

	RateLimitPerMinute int
	RateLimitPerHour   int

	JWKSURL string // HQG dashboard JWKS endpoint; empty disables auth
	Profile bool   // Forwarded to the sandbox child as HQG_PROFILE

	SandboxBin        string // Path to the sandbox child binary
	CacheWipeSchedule string // Optional cron spec for cache truncation

	DevMode bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cacheDir := getEnv("DATA_CACHE_DIR", "")
	if cacheDir == "" {
		cacheDir = "./data_cache"
	}
	absCacheDir, err := filepath.Abs(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data cache directory: %w", err)
	}
	if err := os.MkdirAll(absCacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data cache directory: %w", err)
	}

	cfg := &Config{
		APIHost:                getEnv("API_HOST", "0.0.0.0"),
		APIPort:                getEnvAsInt("API_PORT", 8000),
		DataCacheDir:           absCacheDir,
		LogDir:                 getEnv("LOG_DIR", ""),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		MaxExecutionTime:       getEnvAsInt("MAX_EXECUTION_TIME", 300),
		MaxRequestTime:         getEnvAsInt("MAX_REQUEST_TIME", 600),
		MaxConcurrentBacktests: getEnvAsInt("MAX_CONCURRENT_BACKTESTS", 13),
		RateLimitPerMinute:     getEnvAsInt("RATE_LIMIT_PER_MINUTE", 20),
		RateLimitPerHour:       getEnvAsInt("RATE_LIMIT_PER_HOUR", 200),
		JWKSURL:                getEnv("HQG_DASH_JWKS_URL", ""),
		Profile:                getEnvAsBool("HQG_PROFILE", false),
		SandboxBin:             getEnv("SANDBOX_BIN", ""),
		CacheWipeSchedule:      getEnv("DATA_CACHE_WIPE_SCHEDULE", ""),
		DevMode:                getEnvAsBool("DEV_MODE", false),
	}

	// The sandbox binary is deployed next to the server binary by default.
	if cfg.SandboxBin == "" {
		if exe, err := os.Executable(); err == nil {
			cfg.SandboxBin = filepath.Join(filepath.Dir(exe), "hqg-sandbox")
		} else {
			cfg.SandboxBin = "hqg-sandbox"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid API_PORT: %d", c.APIPort)
	}
	if c.MaxExecutionTime <= 0 {
		return fmt.Errorf("MAX_EXECUTION_TIME must be positive")
	}
	if c.MaxRequestTime <= 0 {
		return fmt.Errorf("MAX_REQUEST_TIME must be positive")
	}
	if c.MaxConcurrentBacktests <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_BACKTESTS must be positive")
	}
	return nil
}

// Helper functions
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
