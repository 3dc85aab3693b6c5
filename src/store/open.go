package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Open builds the backend selected by cfg. A Redis backend that cannot be
// reached falls back to memory, so the hosting client keeps running.
func Open(cfg *Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendBadger:
		return NewBadgerStore(cfg.BadgerPath)
	case BackendRedis:
		rcfg := cfg.Redis
		if rcfg == nil {
			rcfg = DefaultRedisConfig()
		}
		rs := NewRedisStore(rcfg, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rs.Ping(ctx); err != nil {
			logger.Warn().Err(err).Str("redis_addr", rcfg.Addr).Msg("redis store unavailable, using memory")
			_ = rs.Close()
			return NewMemoryStore(), nil
		}
		logger.Info().Str("redis_addr", rcfg.Addr).Msg("redis store connected")
		return rs, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// FromEnv opens the backend selected by LIVE_STORE.
func FromEnv(logger zerolog.Logger) (Store, error) {
	return Open(ConfigFromEnv(), logger)
}
