package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	ServerAddress = "localhost:8080"
	RedisAddress  = "localhost:6379"
	EventsPath    = "/events"
	KeysPath      = "/keys"
	SessionsPath  = "/sessions"

	// Redis keys

	ServerSessionRecordsKey = "sessions:%s"
	ServerSessionScanMatch  = "sessions:*"
	ServerIdentityKey       = "identity:%s"

	DefaultSessionTTL      = 48 * time.Hour
	DefaultCleanupInterval = time.Hour
	DefaultAuthHeader      = "X-User-Id"
)

const (
	StoreRedis  = "redis"
	StoreMemory = "memory"

	EnvProduction = "production"
)

// Config is the runtime configuration of the session server.
type Config struct {
	ServerAddress string
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	StoreBackend  string

	SessionTTL          time.Duration
	CleanupInterval     time.Duration
	Arbitration         string
	StrictEphemeralKeys bool

	Environment string
	AuthHeader  string

	LogLevel  string
	LogFormat string
}

// Default returns the configuration used when no env var overrides a field.
func Default() Config {
	return Config{
		ServerAddress:       ServerAddress,
		RedisAddress:        RedisAddress,
		StoreBackend:        StoreRedis,
		SessionTTL:          DefaultSessionTTL,
		CleanupInterval:     DefaultCleanupInterval,
		Arbitration:         "reconcile",
		StrictEphemeralKeys: true,
		Environment:         "development",
		AuthHeader:          DefaultAuthHeader,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// Load reads the given env files (missing ones are skipped) and then builds
// a Config from the process environment on top of Default.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, typically os.Getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	var err error

	setString(getenv, "SERVER_ADDRESS", &cfg.ServerAddress)
	setString(getenv, "REDIS_ADDRESS", &cfg.RedisAddress)
	setString(getenv, "REDIS_PASSWORD", &cfg.RedisPassword)
	setString(getenv, "STORE_BACKEND", &cfg.StoreBackend)
	setString(getenv, "SESSION_ARBITRATION", &cfg.Arbitration)
	setString(getenv, "ENVIRONMENT", &cfg.Environment)
	setString(getenv, "AUTH_HEADER", &cfg.AuthHeader)
	setString(getenv, "LOG_LEVEL", &cfg.LogLevel)
	setString(getenv, "LOG_FORMAT", &cfg.LogFormat)

	if v := getenv("REDIS_DB"); v != "" {
		if cfg.RedisDB, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
	}
	if v := getenv("SESSION_TTL"); v != "" {
		if cfg.SessionTTL, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("invalid SESSION_TTL %q: %w", v, err)
		}
	}
	if v := getenv("CLEANUP_INTERVAL"); v != "" {
		if cfg.CleanupInterval, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("invalid CLEANUP_INTERVAL %q: %w", v, err)
		}
	}
	if v := getenv("STRICT_EPHEMERAL_KEYS"); v != "" {
		if cfg.StrictEphemeralKeys, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("invalid STRICT_EPHEMERAL_KEYS %q: %w", v, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.Arbitration {
	case "reconcile", "adopt":
	default:
		return fmt.Errorf("unknown SESSION_ARBITRATION %q", c.Arbitration)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive, got %s", c.CleanupInterval)
	}
	return nil
}

// IsProduction reports whether dev-only endpoints must stay disabled.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

func setString(getenv func(string) string, key string, dst *string) {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		*dst = v
	}
}
