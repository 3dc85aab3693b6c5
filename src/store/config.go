package store

import (
	"os"
	"strconv"
)

// Backend kinds accepted by LIVE_STORE.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Config selects and configures the state store backend.
type Config struct {
	Backend    string // memory, badger or redis; default "memory"
	BadgerPath string // directory for badger; empty runs badger in memory
	Redis      *RedisConfig
}

// RedisConfig holds connection settings for the Redis state store.
type RedisConfig struct {
	Addr     string // Redis address, default "localhost:6379"
	Password string // Redis password, default ""
	DB       int    // Redis database number, default 0
	Prefix   string // Key prefix, default "orchestra:live:"
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "orchestra:live:",
	}
}

// RedisConfigFromEnv loads Redis configuration from environment variables.
// Falls back to defaults for any missing values.
func RedisConfigFromEnv() *RedisConfig {
	cfg := DefaultRedisConfig()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Password = pw
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			cfg.DB = db
		}
	}
	if prefix := os.Getenv("REDIS_LIVE_PREFIX"); prefix != "" {
		cfg.Prefix = prefix
	}
	return cfg
}

// ConfigFromEnv reads LIVE_STORE, LIVE_BADGER_PATH and the Redis variables.
func ConfigFromEnv() *Config {
	cfg := &Config{
		Backend:    BackendMemory,
		BadgerPath: os.Getenv("LIVE_BADGER_PATH"),
		Redis:      RedisConfigFromEnv(),
	}
	if b := os.Getenv("LIVE_STORE"); b != "" {
		cfg.Backend = b
	}
	return cfg
}
