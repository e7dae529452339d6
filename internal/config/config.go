// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreAuto     = "auto"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Oracle providers.
const (
	OracleAuto   = "auto"
	OracleOpenAI = "openai"
	OracleRandom = "random"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Storage settings.
	Store       string // "auto", "postgres" or "sqlite"
	DatabaseURL string
	SQLitePath  string

	// Decision oracle settings.
	OracleProvider    string // "auto", "openai" or "random"
	OpenAIAPIKey      string
	OracleBaseURL     string // OpenAI-compatible endpoint; empty uses api.openai.com.
	OracleModel       string
	OracleTimeout     time.Duration
	OracleConcurrency int
	OracleTemperature float64

	// Epoch scheduling.
	EpochDelay    time.Duration // Pause between epochs in multi-epoch runs.
	EpochSchedule string        // Cron spec for serve mode; empty disables scheduling.
	Seed          uint64        // Simulation randomness seed; 0 seeds from the clock.

	// Admin routes are disabled when empty.
	AdminSecret string

	// Rate limiting.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		Store:          strings.ToLower(envStr("ICHIBA_STORE", StoreAuto)),
		DatabaseURL:    envStr("DATABASE_URL", ""),
		SQLitePath:     envStr("ICHIBA_SQLITE_PATH", "ichiba.db"),
		OracleProvider: strings.ToLower(envStr("ICHIBA_ORACLE_PROVIDER", OracleAuto)),
		OpenAIAPIKey:   envStr("OPENAI_API_KEY", ""),
		OracleBaseURL:  envStr("ICHIBA_ORACLE_BASE_URL", ""),
		OracleModel:    envStr("ICHIBA_ORACLE_MODEL", "gpt-4o-mini"),
		EpochSchedule:  envStr("ICHIBA_EPOCH_SCHEDULE", ""),
		AdminSecret:    envStr("ICHIBA_ADMIN_SECRET", ""),
		OTELEndpoint:   envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:    envStr("OTEL_SERVICE_NAME", "ichiba"),
		LogLevel:       envStr("ICHIBA_LOG_LEVEL", "info"),
	}

	var err error
	cfg.Port, err = envInt("ICHIBA_PORT", 8080)
	collect(err)
	cfg.ReadTimeout, err = envDuration("ICHIBA_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("ICHIBA_WRITE_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.OracleTimeout, err = envDuration("ICHIBA_ORACLE_TIMEOUT", 15*time.Second)
	collect(err)
	cfg.OracleConcurrency, err = envInt("ICHIBA_ORACLE_CONCURRENCY", 4)
	collect(err)
	cfg.OracleTemperature, err = envFloat("ICHIBA_ORACLE_TEMPERATURE", 0.9)
	collect(err)
	cfg.EpochDelay, err = envDuration("ICHIBA_EPOCH_DELAY", 2*time.Second)
	collect(err)
	seed, err := envInt("ICHIBA_SEED", 0)
	collect(err)
	if seed < 0 {
		collect(fmt.Errorf("ICHIBA_SEED=%d must not be negative", seed))
	}
	cfg.Seed = uint64(seed) //nolint:gosec // checked above
	cfg.RateLimitEnabled, err = envBool("ICHIBA_RATE_LIMIT_ENABLED", true)
	collect(err)
	cfg.RateLimitRPS, err = envFloat("ICHIBA_RATE_LIMIT_RPS", 10)
	collect(err)
	cfg.RateLimitBurst, err = envInt("ICHIBA_RATE_LIMIT_BURST", 30)
	collect(err)
	cfg.OTELInsecure, err = envBool("ICHIBA_OTEL_INSECURE", false)
	collect(err)
	maxBody, err := envInt("ICHIBA_MAX_REQUEST_BODY_BYTES", 1*1024*1024) // 1 MB default
	collect(err)
	cfg.MaxRequestBodyBytes = int64(maxBody)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch c.Store {
	case StoreAuto, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required when ICHIBA_STORE=postgres")
		}
	default:
		return fmt.Errorf("config: ICHIBA_STORE=%q is not one of auto, postgres, sqlite", c.Store)
	}
	switch c.OracleProvider {
	case OracleAuto, OracleRandom:
	case OracleOpenAI:
		if c.OpenAIAPIKey == "" && c.OracleBaseURL == "" {
			return fmt.Errorf("config: OPENAI_API_KEY or ICHIBA_ORACLE_BASE_URL is required for the openai oracle")
		}
	default:
		return fmt.Errorf("config: ICHIBA_ORACLE_PROVIDER=%q is not one of auto, openai, random", c.OracleProvider)
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("config: ICHIBA_ORACLE_TIMEOUT must be positive")
	}
	if c.OracleConcurrency <= 0 {
		return fmt.Errorf("config: ICHIBA_ORACLE_CONCURRENCY must be positive")
	}
	if c.EpochDelay < 0 {
		return fmt.Errorf("config: ICHIBA_EPOCH_DELAY must not be negative")
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("config: ICHIBA_RATE_LIMIT_RPS and ICHIBA_RATE_LIMIT_BURST must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: ICHIBA_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

// ResolvedStore returns the backend to open: postgres when a database URL is
// configured under auto, sqlite otherwise.
func (c Config) ResolvedStore() string {
	if c.Store != StoreAuto {
		return c.Store
	}
	if c.DatabaseURL != "" {
		return StorePostgres
	}
	return StoreSQLite
}

// ResolvedOracle returns the oracle to use: openai when credentials or a
// custom endpoint are present under auto, the offline random oracle otherwise.
func (c Config) ResolvedOracle() string {
	if c.OracleProvider != OracleAuto {
		return c.OracleProvider
	}
	if c.OpenAIAPIKey != "" || c.OracleBaseURL != "" {
		return OracleOpenAI
	}
	return OracleRandom
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
