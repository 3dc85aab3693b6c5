package config

import (
	"os"
	"strconv"
)

// SocketConfig holds the event WebSocket and HTTP server configuration.
type SocketConfig struct {
	ListenAddr      string `json:"listen_addr"`
	SessionID       string `json:"session_id"`
	SignalingURL    string `json:"signaling_url"`
	MaxConnections  int    `json:"max_connections"`
	SendBufferSize  int    `json:"send_buffer_size"`
	ReadBufferSize  int    `json:"read_buffer_size"`
	WriteBufferSize int    `json:"write_buffer_size"`
}

// DefaultConfig returns the default socket configuration.
func DefaultConfig() *SocketConfig {
	return &SocketConfig{
		ListenAddr:      ":8090",
		MaxConnections:  1000,
		SendBufferSize:  256,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// SocketConfigFromEnv loads socket configuration from environment variables.
// Falls back to defaults for any missing values.
func SocketConfigFromEnv() *SocketConfig {
	cfg := DefaultConfig()

	if addr := os.Getenv("LIVE_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if id := os.Getenv("LIVE_SESSION_ID"); id != "" {
		cfg.SessionID = id
	}
	if u := os.Getenv("LIVE_SIGNALING_URL"); u != "" {
		cfg.SignalingURL = u
	}
	if v := os.Getenv("LIVE_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConnections = n
		}
	}
	return cfg
}
