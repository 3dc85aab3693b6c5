package config

import (
	"os"
	"strconv"
	"time"
)

// RecoveryConfig tunes the connection recovery controller. Zero fields are
// filled from DefaultRecoveryConfig by WithDefaults.
type RecoveryConfig struct {
	MaxReconnectAttempts  int           `json:"max_reconnect_attempts"`
	InitialReconnectDelay time.Duration `json:"initial_reconnect_delay"`
	MaxReconnectDelay     time.Duration `json:"max_reconnect_delay"`
	HeartbeatInterval     time.Duration `json:"heartbeat_interval"`
	// ConnectionTimeout bounds a single reconnection sequence. A negative
	// value disables the deadline.
	ConnectionTimeout        time.Duration `json:"connection_timeout"`
	EnableExponentialBackoff *bool         `json:"enable_exponential_backoff,omitempty"`
}

// DefaultRecoveryConfig returns the default recovery configuration.
func DefaultRecoveryConfig() *RecoveryConfig {
	backoff := true
	return &RecoveryConfig{
		MaxReconnectAttempts:     10,
		InitialReconnectDelay:    time.Second,
		MaxReconnectDelay:        30 * time.Second,
		HeartbeatInterval:        5 * time.Second,
		ConnectionTimeout:        10 * time.Second,
		EnableExponentialBackoff: &backoff,
	}
}

// WithDefaults returns a new config where every unset field of c takes the
// default value. c itself is not modified; a nil c yields the defaults.
func (c *RecoveryConfig) WithDefaults() RecoveryConfig {
	out := *DefaultRecoveryConfig()
	if c == nil {
		return out
	}
	if c.MaxReconnectAttempts > 0 {
		out.MaxReconnectAttempts = c.MaxReconnectAttempts
	}
	if c.InitialReconnectDelay > 0 {
		out.InitialReconnectDelay = c.InitialReconnectDelay
	}
	if c.MaxReconnectDelay > 0 {
		out.MaxReconnectDelay = c.MaxReconnectDelay
	}
	if c.HeartbeatInterval > 0 {
		out.HeartbeatInterval = c.HeartbeatInterval
	}
	if c.ConnectionTimeout != 0 {
		out.ConnectionTimeout = max(c.ConnectionTimeout, 0)
	}
	if c.EnableExponentialBackoff != nil {
		v := *c.EnableExponentialBackoff
		out.EnableExponentialBackoff = &v
	}
	return out
}

// ExponentialBackoff reports whether the backoff doubles per attempt.
func (c RecoveryConfig) ExponentialBackoff() bool {
	return c.EnableExponentialBackoff == nil || *c.EnableExponentialBackoff
}

// RecoveryConfigFromEnv loads recovery configuration from environment
// variables. Durations use time.ParseDuration syntax ("1s", "500ms"); a
// negative LIVE_CONNECTION_TIMEOUT disables the sequence deadline.
func RecoveryConfigFromEnv() *RecoveryConfig {
	cfg := DefaultRecoveryConfig()

	if v := os.Getenv("LIVE_MAX_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxReconnectAttempts = n
		}
	}
	envDuration("LIVE_INITIAL_RECONNECT_DELAY", &cfg.InitialReconnectDelay)
	envDuration("LIVE_MAX_RECONNECT_DELAY", &cfg.MaxReconnectDelay)
	envDuration("LIVE_HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval)
	envDuration("LIVE_CONNECTION_TIMEOUT", &cfg.ConnectionTimeout)
	if v := os.Getenv("LIVE_EXPONENTIAL_BACKOFF"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EnableExponentialBackoff = &b
		}
	}
	return cfg
}

func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}
